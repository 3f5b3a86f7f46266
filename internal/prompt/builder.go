// Package prompt assembles the deterministic per-turn prompt, grounded
// on the teacher's internal/agent/loop.go
// streamPhase (which concatenates a system string with session messages
// before calling the provider) generalized into named, independently
// cacheable blocks.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conductorhq/conductor/internal/domain"
)

// Input is everything the builder needs to produce one turn's prompt.
type Input struct {
	RoleTemplate string
	RepoFacts    string
	Inbox        []domain.InboxItem
	ChatHistory  string
	GlobalMode   domain.GlobalMode
}

// Artifacts is the builder's deterministic output: named blocks plus the
// two concatenations the Node Runner chooses between.
type Artifacts struct {
	Blocks     Blocks
	Full       string
	Delta      string
	HeaderHash string
}

// Blocks holds each named section before concatenation.
type Blocks struct {
	System       string
	Role         string
	Facts        string
	Inbox        string
	Instructions string
}

const systemPreamble = `You are a node in a multi-agent orchestration run. Respond as the
assigned role. Use tools only when the task requires it, and issue a
handoff when another role should continue the work.`

// Build assembles Artifacts from in. It is a pure function of its
// input: identical Input values produce byte-identical Artifacts,
// satisfying the determinism requirement: same inputs, same prompt.
func Build(in Input) Artifacts {
	blocks := Blocks{
		System:       systemBlock(in.GlobalMode),
		Role:         strings.TrimSpace(in.RoleTemplate),
		Facts:        factsBlock(in.RepoFacts),
		Inbox:        inboxBlock(in.Inbox),
		Instructions: instructionsBlock(in.ChatHistory),
	}

	full := joinBlocks(blocks.System, blocks.Role, blocks.Facts, blocks.Inbox, blocks.Instructions)
	delta := joinBlocks(blocks.Inbox, blocks.Instructions)

	return Artifacts{
		Blocks:     blocks,
		Full:       full,
		Delta:      delta,
		HeaderHash: HeaderHash(blocks.System, blocks.Role),
	}
}

func systemBlock(mode domain.GlobalMode) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	if mode == domain.GlobalModePlanning {
		b.WriteString("\n\nThe run is in planning mode: propose changes but do not write code.")
	}
	return b.String()
}

func factsBlock(facts string) string {
	facts = strings.TrimSpace(facts)
	if facts == "" {
		return ""
	}
	return "Repository facts:\n" + facts
}

// inboxBlock concatenates inbox items in arrival order, each labeled
// with its provenance so join semantics remain visible
// to the model — a handoff and a user message must read differently.
func inboxBlock(items []domain.InboxItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Inbox:")
	for _, item := range items {
		b.WriteString("\n- [")
		b.WriteString(string(item.Kind))
		b.WriteString(" from ")
		b.WriteString(itemSource(item))
		b.WriteString("] ")
		b.WriteString(itemBody(item))
	}
	return b.String()
}

func itemSource(item domain.InboxItem) string {
	if item.Kind == domain.InboxItemEnvelope && item.Envelope != nil {
		return item.Envelope.FromNodeID
	}
	return "user"
}

func itemBody(item domain.InboxItem) string {
	if item.Kind == domain.InboxItemEnvelope && item.Envelope != nil {
		return item.Envelope.Payload.Message
	}
	return item.Content
}

func instructionsBlock(chatHistory string) string {
	chatHistory = strings.TrimSpace(chatHistory)
	if chatHistory == "" {
		return ""
	}
	return "Conversation so far:\n" + chatHistory
}

func joinBlocks(blocks ...string) string {
	var nonEmpty []string
	for _, b := range blocks {
		if b != "" {
			nonEmpty = append(nonEmpty, b)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// HeaderHash hashes the system+role prefix. The Node Runner caches this
// per node and only sends promptKind=delta when it is unchanged across
// turns.
func HeaderHash(system, role string) string {
	sum := sha256.Sum256([]byte(system + "\x00" + role))
	return hex.EncodeToString(sum[:])
}
