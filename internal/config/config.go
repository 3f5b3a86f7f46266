// Package config loads the Runtime's ambient configuration: YAML +
// environment-variable overrides into a plain
// Config struct, which cmd/conductord turns into runtime.Config, a
// runtime.ProviderFactory, and a notify.Manager's rules. Grounded on the
// teacher's internal/config/config.go nested yaml-tagged struct, $include
// resolution (loader.go), and defaults/validate pipeline — trimmed from
// the teacher's many unrelated subsystems (channels, auth, sessions,
// plugins, marketplace, RAG) down to the options this Runtime actually
// consumes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	DataDir       string              `yaml:"dataDir"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Planning      PlanningConfig      `yaml:"planning"`
	Verification  VerificationConfig `yaml:"verification"`
	StallDetection StallDetectionConfig `yaml:"stallDetection"`
	Templates     TemplatesConfig     `yaml:"templates"`
	Providers     map[string]ProviderConfig     `yaml:"providers"`
	Notifications map[string]NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
}

// ServerConfig is reserved for the external transport surface — the
// Runtime never binds a socket itself, but
// cmd/conductord's own HTTP layer, if any, reads Port from here.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// WorkspaceConfig is stored, never acted upon: a Node's WorkingDir is an
// opaque string the Runtime passes through to adapters.
type WorkspaceConfig struct {
	Mode          string `yaml:"mode"` // shared | copy | worktree
	RootDir       string `yaml:"rootDir"`
	CleanupOnDone bool   `yaml:"cleanupOnDone"`
}

// SchedulerConfig maps onto runtime.Config.MaxConcurrency.
type SchedulerConfig struct {
	MaxConcurrency int64 `yaml:"maxConcurrency"`
}

// OrchestrationConfig holds the orchestration options. They are loaded,
// defaulted and validated here; `run create` takes its mode and
// iteration budget from its own flags and does not read these values.
type OrchestrationConfig struct {
	MaxIterations   int    `yaml:"maxIterations"`
	MaxTurnsPerNode int    `yaml:"maxTurnsPerNode"`
	DefaultRunMode  string `yaml:"defaultRunMode"` // auto | interactive
}

// PlanningConfig points the Prompt Builder at a repo-facts directory.
type PlanningConfig struct {
	DocsDirectory string `yaml:"docsDirectory"`
}

// VerificationConfig lists shell commands the Node Runner may invoke
// between turns to validate a node's work.
type VerificationConfig struct {
	Commands []string `yaml:"commands"`
}

// StallDetectionConfig maps onto runtime.Config.StallThreshold.
type StallDetectionConfig struct {
	Threshold int `yaml:"threshold"`
}

// TemplatesConfig points at the two role-template directories the
// Runtime Façade's TemplateSet loads (user shadows system).
type TemplatesConfig struct {
	SystemDir string `yaml:"systemDir"`
	UserDir   string `yaml:"userDir"`
}

// ProviderConfig is the superset of fields any Provider Adapter variant
// may consume; a concrete adapter reads only the subset
// relevant to its Transport.
type ProviderConfig struct {
	Transport         string            `yaml:"transport"` // cli-stateful | cli-stateless-stream-json | api
	Command           string            `yaml:"command"`
	Args              []string          `yaml:"args"`
	Env               map[string]string `yaml:"env"`
	Protocol          string            `yaml:"protocol"`
	ResumeArgs        []string          `yaml:"resumeArgs"`
	ReplayTurns       int               `yaml:"replayTurns"`
	APIKey            string            `yaml:"apiKey"`
	APIBaseURL        string            `yaml:"apiBaseUrl"`
	Model             string            `yaml:"model"`
	MaxTokens         int               `yaml:"maxTokens"`
	MaxRetries        int               `yaml:"maxRetries"`
	RetryDelay        time.Duration     `yaml:"retryDelay"`
	StatefulStreaming bool              `yaml:"statefulStreaming"`
	NativeTools       bool              `yaml:"nativeTools"`
	Sandboxed         bool              `yaml:"sandboxed"`

	// Bedrock-specific credentials; ignored by every other transport.
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	SessionToken    string `yaml:"sessionToken"`
}

// NotificationConfig is one entry of notifications.<name>, describing a
// notification rule; Name (the map key) becomes notify.Rule.ID.
type NotificationConfig struct {
	RunID      string   `yaml:"runId"`
	Sink       string   `yaml:"sink"` // discord | slack | telegram
	Target     string   `yaml:"target"`
	EventTypes []string `yaml:"eventTypes"`
	Token      string   `yaml:"token"`
}

// LoggingConfig configures the single base slog.Logger created in
// cmd/conductord's main, matching the teacher's LoggingConfig shape.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// TracingConfig controls OpenTelemetry export, matching the teacher's
// config_observability.go TracingConfig field-for-field.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"serviceName"`
	ServiceVersion string            `yaml:"serviceVersion"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"samplingRate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Load reads path (YAML or JSON5, resolving $include directives and
// expanding ${ENV_VAR} references) into a Config, applies environment
// overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4317
	}
	if cfg.Workspace.Mode == "" {
		cfg.Workspace.Mode = "shared"
	}
	if cfg.Scheduler.MaxConcurrency <= 0 {
		cfg.Scheduler.MaxConcurrency = 3
	}
	if cfg.Orchestration.MaxIterations <= 0 {
		cfg.Orchestration.MaxIterations = 50
	}
	if cfg.Orchestration.DefaultRunMode == "" {
		cfg.Orchestration.DefaultRunMode = "interactive"
	}
	if cfg.StallDetection.Threshold <= 0 {
		cfg.StallDetection.Threshold = 20
	}
	if cfg.Templates.SystemDir == "" {
		cfg.Templates.SystemDir = "./templates/system"
	}
	if cfg.Templates.UserDir == "" {
		cfg.Templates.UserDir = "./templates/user"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "conductord"
	}
	for name, p := range cfg.Providers {
		if p.MaxRetries == 0 {
			p.MaxRetries = 3
		}
		if p.RetryDelay == 0 {
			p.RetryDelay = time.Second
		}
		cfg.Providers[name] = p
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		setProviderAPIKey(cfg, "anthropic", v)
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		setProviderAPIKey(cfg, "openai", v)
	}
}

func setProviderAPIKey(cfg *Config, name, key string) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	p := cfg.Providers[name]
	if p.APIKey == "" {
		p.APIKey = key
	}
	cfg.Providers[name] = p
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if cfg.Workspace.Mode != "" && !validWorkspaceMode(cfg.Workspace.Mode) {
		issues = append(issues, `workspace.mode must be "shared", "copy", or "worktree"`)
	}
	if cfg.Scheduler.MaxConcurrency < 1 {
		issues = append(issues, "scheduler.maxConcurrency must be >= 1")
	}
	if cfg.Orchestration.MaxIterations < 1 {
		issues = append(issues, "orchestration.maxIterations must be >= 1")
	}
	if cfg.Orchestration.DefaultRunMode != "" && !validRunMode(cfg.Orchestration.DefaultRunMode) {
		issues = append(issues, `orchestration.defaultRunMode must be "auto" or "interactive"`)
	}
	if cfg.StallDetection.Threshold < 2 {
		issues = append(issues, "stallDetection.threshold must be >= 2")
	}
	for name, p := range cfg.Providers {
		if p.Transport != "" && !validTransport(p.Transport) {
			issues = append(issues, fmt.Sprintf("providers.%s.transport must be one of cli-stateful, cli-stateless-stream-json, api", name))
		}
	}
	for name, n := range cfg.Notifications {
		if !validSink(n.Sink) {
			issues = append(issues, fmt.Sprintf("notifications.%s.sink must be discord, slack, or telegram", name))
		}
		if strings.TrimSpace(n.Target) == "" {
			issues = append(issues, fmt.Sprintf("notifications.%s.target is required", name))
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid configuration:\n- %s", strings.Join(issues, "\n- "))
	}
	return nil
}

func validWorkspaceMode(m string) bool {
	return m == "shared" || m == "copy" || m == "worktree"
}

func validRunMode(m string) bool {
	return m == "auto" || m == "interactive"
}

func validTransport(t string) bool {
	return t == "cli-stateful" || t == "cli-stateless-stream-json" || t == "api"
}

func validSink(s string) bool {
	return s == "discord" || s == "slack" || s == "telegram"
}
