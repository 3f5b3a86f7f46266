package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conductorhq/conductor/internal/domain"
	"github.com/conductorhq/conductor/internal/provider"
	"github.com/conductorhq/conductor/internal/runtime"
	"github.com/conductorhq/conductor/internal/telemetry"
)

// ToRuntimeConfig projects the ambient scheduler/stall/directory options
// onto a runtime.Config, ready for runtime.New alongside
// BuildProviderFactory's result.
func (c *Config) ToRuntimeConfig(log *slog.Logger, tracer *telemetry.Tracer, metrics *telemetry.Metrics) runtime.Config {
	return runtime.Config{
		DataDir:            c.DataDir,
		MaxConcurrency:     c.Scheduler.MaxConcurrency,
		StallThreshold:     c.StallDetection.Threshold,
		SystemTemplatesDir: c.Templates.SystemDir,
		UserTemplatesDir:   c.Templates.UserDir,
		Log:                log,
		Tracer:             tracer,
		Metrics:            metrics,
	}
}

// BuildProviderFactory turns the loaded providers.<name> table into a
// function value assignable to runtime.ProviderFactory. Each call
// constructs a fresh adapter selected
// by node.Provider; node.WorkingDir feeds a cli-transport adapter's
// WorkDir.
func (c *Config) BuildProviderFactory() func(node domain.Node) (provider.Adapter, error) {
	providers := c.Providers
	return func(node domain.Node) (provider.Adapter, error) {
		p, ok := providers[node.Provider]
		if !ok {
			return nil, fmt.Errorf("config: no providers.%s entry configured", node.Provider)
		}
		return newAdapter(node.Provider, node.WorkingDir, p)
	}
}

func newAdapter(name, workDir string, p ProviderConfig) (provider.Adapter, error) {
	switch p.Transport {
	case "api":
		return newAPIAdapter(name, p)
	case "cli-stateful", "cli-stateless-stream-json":
		return provider.NewCLI(name, provider.CLIConfig{
			Transport:   provider.Transport(p.Transport),
			Command:     p.Command,
			Args:        p.Args,
			WorkDir:     workDir,
			Env:         p.Env,
			ResumeArgs:  p.ResumeArgs,
			ReplayTurns: p.ReplayTurns,
		}), nil
	case "mock", "":
		return provider.NewMockFixed(name, "mock response"), nil
	default:
		return nil, fmt.Errorf("config: providers.%s has unknown transport %q", name, p.Transport)
	}
}

// newAPIAdapter dispatches an "api"-transport provider by name to the
// concrete SDK-backed adapter it names — the transport alone doesn't
// say which SDK, so the
// provider's configured name/model conventions pick the vendor, with
// `name` itself (the providers.<name> map key) used directly since
// operators are expected to name entries "anthropic"/"openai"/"bedrock".
func newAPIAdapter(name string, p ProviderConfig) (provider.Adapter, error) {
	switch name {
	case "anthropic":
		return provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:     p.APIKey,
			BaseURL:    p.APIBaseURL,
			Model:      p.Model,
			MaxTokens:  p.MaxTokens,
			MaxRetries: p.MaxRetries,
			RetryDelay: p.RetryDelay,
		})
	case "openai":
		return provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:     p.APIKey,
			BaseURL:    p.APIBaseURL,
			Model:      p.Model,
			MaxTokens:  p.MaxTokens,
			MaxRetries: p.MaxRetries,
			RetryDelay: p.RetryDelay,
		})
	case "bedrock":
		return provider.NewBedrock(context.Background(), provider.BedrockConfig{
			Region:          p.Region,
			AccessKeyID:     p.AccessKeyID,
			SecretAccessKey: p.SecretAccessKey,
			SessionToken:    p.SessionToken,
			Model:           p.Model,
			MaxTokens:       p.MaxTokens,
			MaxRetries:      p.MaxRetries,
			RetryDelay:      p.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("config: providers.%s has transport \"api\" but an unrecognized name (want anthropic, openai, or bedrock)", name)
	}
}
