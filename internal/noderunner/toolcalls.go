package noderunner

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/conductorhq/conductor/internal/tools"
)

// toolCallLine is the embedded single-line JSON form a provider may emit
// in its textual final message: {"tool_call":{"id","name","args"}}. The
// legacy "params" key is accepted in place of "args", with a warning.
type toolCallLine struct {
	ToolCall *struct {
		ID     string         `json:"id"`
		Name   string         `json:"name"`
		Args   map[string]any `json:"args"`
		Params map[string]any `json:"params"`
	} `json:"tool_call"`
}

// ExtractToolCalls implements the tool-call source precedence: native
// toolCalls (from the provider's structured output)
// win when present; "tool_call" JSON lines embedded in the final text
// are only used when there are no native calls, and are otherwise
// logged and discarded.
func ExtractToolCalls(finalText string, native []tools.Call) ([]tools.Call, []string) {
	if len(native) > 0 {
		var warnings []string
		if n := countToolCallLines(finalText); n > 0 {
			warnings = append(warnings, "native tool calls present; discarded embedded tool_call JSON line(s)")
		}
		return native, warnings
	}
	return parseToolCallLines(finalText)
}

func countToolCallLines(text string) int {
	n := 0
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		var line toolCallLine
		if err := json.Unmarshal([]byte(strings.TrimSpace(scanner.Text())), &line); err == nil && line.ToolCall != nil {
			n++
		}
	}
	return n
}

func parseToolCallLines(text string) ([]tools.Call, []string) {
	var calls []tools.Call
	var warnings []string

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line toolCallLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil || line.ToolCall == nil {
			continue
		}
		args := line.ToolCall.Args
		if args == nil && line.ToolCall.Params != nil {
			args = line.ToolCall.Params
			warnings = append(warnings, "tool_call used legacy \"params\" key instead of \"args\"")
		}
		calls = append(calls, tools.Call{ID: line.ToolCall.ID, Name: line.ToolCall.Name, Args: args})
	}
	return calls, warnings
}
