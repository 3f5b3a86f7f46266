package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor/internal/events"
)

// CLIConfig configures a subprocess-backed Provider Adapter, grounded on
// the teacher's internal/mcp/transport_stdio.go pipe plumbing.
type CLIConfig struct {
	// Transport selects cli-stateful (one long-lived process across
	// turns) or cli-stateless-stream-json (spawn-per-turn).
	Transport Transport

	Command string
	Args    []string
	WorkDir string
	Env     map[string]string

	// ResumeArgs, when non-empty, are appended to Args on every turn
	// after the first (argument-based resume). Leave empty to fall
	// back to bounded transcript replay instead.
	ResumeArgs []string

	// ReplayTurns bounds the transcript-replay fallback: the last N
	// prompt/response pairs are prepended to the prompt when no resume
	// mechanism is configured.
	ReplayTurns int
}

// turnPair is one prompt/response exchange, kept for the bounded
// transcript-replay fallback
type turnPair struct {
	prompt   string
	response string
}

// CLI is a subprocess-backed Provider Adapter supporting both the
// cli-stateful and cli-stateless-stream-json transport variants.
type CLI struct {
	BaseAdapter

	cfg CLIConfig

	mu         sync.Mutex
	sessionID  string
	turnCount  int
	transcript []turnPair

	// Stateful-mode subprocess, held open across turns.
	proc   *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc

	evCh  chan events.Event
	errCh chan error
}

// NewCLI constructs a CLI adapter. For a stateless transport, resume is
// forced off by the Node Runner whenever cfg.ResumeArgs is empty and
// cfg.ReplayTurns is 0; the stateful transport always supports resume.
// The Node Runner learns this by consulting SupportsResume.
func NewCLI(name string, cfg CLIConfig) *CLI {
	if cfg.Transport == "" {
		cfg.Transport = TransportCLIStatelessStreamJSON
	}
	return &CLI{
		BaseAdapter: NewBaseAdapter(name, 3, 0),
		cfg:         cfg,
		evCh:        make(chan events.Event, 64),
		errCh:       make(chan error, 4),
	}
}

func (c *CLI) Transport() Transport { return c.cfg.Transport }

func (c *CLI) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	if c.cfg.Transport != TransportCLIStateful || c.proc != nil {
		return nil
	}
	return c.spawnStateful(ctx)
}

func (c *CLI) spawnStateful(ctx context.Context) error {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.WorkDir
	cmd.Env = buildEnv(c.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("cli: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("cli: stdout pipe: %w", err)
	}
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("cli: start: %w", err)
	}

	c.proc = cmd
	c.stdin = stdin
	c.cancel = cancel

	go c.readLoop(stdout, "")
	if stderr != nil {
		go c.drainStderr(stderr)
	}
	return nil
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func (c *CLI) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.stdin != nil {
		c.stdin.Close()
	}
	c.proc = nil
	c.stdin = nil
	return nil
}

func (c *CLI) Send(ctx context.Context, req SendRequest) error {
	c.mu.Lock()
	c.turnCount++
	turn := c.turnCount
	prompt := c.composePrompt(req.Prompt)
	c.mu.Unlock()

	switch c.cfg.Transport {
	case TransportCLIStateful:
		return c.sendStateful(prompt, req.TurnID)
	default:
		return c.sendStateless(ctx, prompt, req.TurnID, turn)
	}
}

// composePrompt prepends bounded transcript replay when no argument-based
// resume mechanism is configured (bounded fallback).
func (c *CLI) composePrompt(prompt string) string {
	if len(c.cfg.ResumeArgs) > 0 || c.cfg.ReplayTurns <= 0 || len(c.transcript) == 0 {
		return prompt
	}
	n := c.cfg.ReplayTurns
	start := len(c.transcript) - n
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, pair := range c.transcript[start:] {
		b.WriteString("> ")
		b.WriteString(pair.prompt)
		b.WriteString("\n")
		b.WriteString(pair.response)
		b.WriteString("\n\n")
	}
	b.WriteString(prompt)
	return b.String()
}

func (c *CLI) sendStateful(prompt, turnID string) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("cli: subprocess not started")
	}
	line, err := json.Marshal(map[string]any{"prompt": prompt, "turnId": turnID})
	if err != nil {
		return err
	}
	_, err = stdin.Write(append(line, '\n'))
	return err
}

func (c *CLI) sendStateless(ctx context.Context, prompt, turnID string, turn int) error {
	args := append([]string{}, c.cfg.Args...)
	if turn > 1 {
		args = append(args, c.cfg.ResumeArgs...)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		var response strings.Builder
		err := c.Retry(turnCtx, isRetryableCLIError, func() error {
			response.Reset()
			cmd := exec.CommandContext(turnCtx, c.cfg.Command, args...)
			cmd.Dir = c.cfg.WorkDir
			cmd.Env = buildEnv(c.cfg.Env)
			cmd.Stdin = strings.NewReader(prompt)

			stdout, err := cmd.StdoutPipe()
			if err != nil {
				return err
			}
			stderr, _ := cmd.StderrPipe()
			if err := cmd.Start(); err != nil {
				return err
			}
			if stderr != nil {
				go c.drainStderr(stderr)
			}
			final := c.consumeStream(stdout, turnID)
			response.WriteString(final)
			return cmd.Wait()
		})
		if err != nil {
			c.errCh <- fmt.Errorf("cli: %w", err)
			return
		}
		c.mu.Lock()
		c.transcript = append(c.transcript, turnPair{prompt: prompt, response: response.String()})
		sessionID := c.sessionID
		c.mu.Unlock()
		c.evCh <- events.Event{Type: events.TypeNodePatch, Fields: map[string]any{"sessionId": sessionID}}
	}()
	return nil
}

// readLoop is used by the stateful transport: the subprocess outlives
// individual turns, so this runs for the lifetime of the process.
func (c *CLI) readLoop(r io.Reader, turnID string) {
	c.consumeStream(r, turnID)
}

// consumeStream parses newline-delimited JSON event lines where
// possible, falling back to raw console.chunk passthrough for anything
// that doesn't parse — matching the teacher's JSON-RPC-over-stdio
// pattern but tolerant of unstructured CLI output.
func (c *CLI) consumeStream(r io.Reader, turnID string) string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var final strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, text, ok := parseCLILine(line, turnID)
		if !ok {
			c.evCh <- events.Event{Type: events.TypeConsoleChunk, Fields: map[string]any{"chunk": line}}
			continue
		}
		if text != "" {
			final.WriteString(text)
		}
		c.evCh <- ev
	}
	return final.String()
}

func (c *CLI) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		c.evCh <- events.Event{Type: events.TypeConsoleChunk, Fields: map[string]any{"chunk": scanner.Text(), "stream": "stderr"}}
	}
}

// cliLine is the structured-output envelope a cli-stateless-stream-json
// provider is expected to emit, one JSON object per line.
type cliLine struct {
	Type   string         `json:"type"`
	Text   string         `json:"text"`
	Fields map[string]any `json:"fields"`
}

func parseCLILine(line, turnID string) (events.Event, string, bool) {
	var cl cliLine
	if err := json.Unmarshal([]byte(line), &cl); err != nil {
		return events.Event{}, "", false
	}
	typ, ok := map[string]events.Type{
		"assistant.delta":    events.TypeAssistantDelta,
		"assistant.final":    events.TypeAssistantFinal,
		"thinking.delta":     events.TypeThinkingDelta,
		"thinking.final":     events.TypeThinkingFinal,
		"tool.proposed":      events.TypeToolProposed,
		"tool.started":       events.TypeToolStarted,
		"tool.completed":     events.TypeToolCompleted,
		"approval.requested": events.TypeApprovalRequested,
		"approval.resolved":  events.TypeApprovalResolved,
		"telemetry.usage":    events.TypeTelemetryUsage,
		"node.patch":         events.TypeNodePatch,
	}[cl.Type]
	if !ok {
		return events.Event{}, "", false
	}
	fields := cl.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	if cl.Text != "" {
		fields["text"] = cl.Text
		fields["delta"] = cl.Text
	}
	fields["turnId"] = turnID
	return events.Event{Type: typ, Fields: fields}, cl.Text, true
}

func isRetryableCLIError(err error) bool {
	return err != nil && !strings.Contains(err.Error(), "signal: killed")
}

func (c *CLI) Interrupt(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *CLI) ResolveApproval(ctx context.Context, res ApprovalResolution) error {
	if c.cfg.Transport != TransportCLIStateful {
		return nil
	}
	line, err := json.Marshal(map[string]any{
		"type":         "approval.resolve",
		"approvalId":   res.ApprovalID,
		"status":       res.Status,
		"feedback":     res.Feedback,
		"modifiedArgs": res.ModifiedArgs,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return nil
	}
	_, err = stdin.Write(append(line, '\n'))
	return err
}

func (c *CLI) ResetSession(ctx context.Context) error {
	c.mu.Lock()
	c.sessionID = uuid.NewString()
	c.turnCount = 0
	c.transcript = nil
	c.mu.Unlock()
	if err := c.Close(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}

func (c *CLI) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SupportsResume reports whether this adapter preserves state between
// invocations. A stateless transport with neither resume args nor a
// replay window configured forces resume off
func (c *CLI) SupportsResume() bool {
	if c.cfg.Transport == TransportCLIStateful {
		return true
	}
	return len(c.cfg.ResumeArgs) > 0 || c.cfg.ReplayTurns > 0
}

func (c *CLI) Events() <-chan events.Event { return c.evCh }
func (c *CLI) Errors() <-chan error        { return c.errCh }

var _ Adapter = (*CLI)(nil)
