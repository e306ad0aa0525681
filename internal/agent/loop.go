// Package agent implements the bounded tool-call fixed-point loop that
// drives one conversational turn: load history, call the backend, execute
// any requested tools, and repeat until the backend stops asking for tools.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/agentgateway/internal/backend"
	"github.com/nextlevelbuilder/agentgateway/internal/memory"
	"github.com/nextlevelbuilder/agentgateway/internal/message"
	"github.com/nextlevelbuilder/agentgateway/internal/sessionstore"
	"github.com/nextlevelbuilder/agentgateway/internal/soul"
	"github.com/nextlevelbuilder/agentgateway/internal/toolregistry"
)

// maxIterations bounds the fixed-point loop against pathological models
// that never stop requesting tool calls.
const maxIterations = 32

const memoryRetrievalLimit = 3

var tracer = otel.Tracer("agentgateway/agent")

// Loop executes one agent's turns against a shared backend, tool registry,
// session store, and memory store.
type Loop struct {
	Backend  backend.Client
	Tools    *toolregistry.Registry
	Sessions *sessionstore.Store
	Memories *memory.Store
}

// New constructs a Loop from its four collaborating stores.
func New(b backend.Client, tools *toolregistry.Registry, sessions *sessionstore.Store, memories *memory.Store) *Loop {
	return &Loop{Backend: b, Tools: tools, Sessions: sessions, Memories: memories}
}

// ErrIterationLimit is returned when a turn exceeds maxIterations without
// the backend emitting a stop reason other than tool_calls. No session turn
// or memory is saved for the aborted turn; tool results already recorded via
// SaveToolResult during its iterations remain in the transcript.
var ErrIterationLimit = fmt.Errorf("agent: exceeded %d tool-call iterations", maxIterations)

// Run executes one full turn for sessionKey: load history, retrieve
// relevant memories, call the backend in a fixed-point loop until it stops
// asking for tools, then persist the turn and return the final text.
//
// On any backend or tool error, the turn is abandoned: no partial history
// is appended to the session, though any SaveToolResult calls already made
// for completed tool calls remain on disk (tolerated by replay).
func (l *Loop) Run(ctx context.Context, sessionKey, userText string, persona soul.Soul) (string, error) {
	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("session_key", sessionKey),
	))
	defer span.End()

	_, history, err := l.Sessions.Load(sessionKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("agent: load session: %w", err)
	}

	augmented := l.augmentWithMemories(userText)
	messages := append(history, message.UserText(augmented))

	var assistantBlocks []message.Block
	systemPrompt := persona.SystemPrompt()

	for iteration := 0; iteration < maxIterations; iteration++ {
		resp, err := l.callBackend(ctx, iteration, systemPrompt, messages)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}

		assistantBlocks = resp.Blocks

		if resp.StopReason != backend.StopToolCalls || !hasToolUse(resp.Blocks) {
			finalText := concatText(resp.Blocks)
			if err := l.finish(ctx, sessionKey, userText, finalText, assistantBlocks); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return "", err
			}
			return finalText, nil
		}

		messages = append(messages, message.AssistantBlocks(resp.Blocks))

		resultBlocks, err := l.executeToolCalls(ctx, sessionKey, resp.Blocks)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		messages = append(messages, message.UserBlocks(resultBlocks))
	}

	span.RecordError(ErrIterationLimit)
	span.SetStatus(codes.Error, ErrIterationLimit.Error())
	return "", ErrIterationLimit
}

func (l *Loop) callBackend(ctx context.Context, iteration int, systemPrompt string, messages []message.Message) (*backend.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "agent.backend_call", trace.WithAttributes(
		attribute.Int("iteration", iteration),
	))
	defer span.End()

	resp, err := l.Backend.Chat(ctx, backend.ChatRequest{
		Model:    l.Backend.DefaultModel(),
		System:   systemPrompt,
		Messages: messages,
		Tools:    l.Tools.Describe(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("agent: backend call (iteration %d): %w", iteration, err)
	}
	span.SetAttributes(attribute.String("stop_reason", string(resp.StopReason)))
	return resp, nil
}

// executeToolCalls runs every tool_use block in order, recording each
// result via the session store as it completes, and returns the ordered
// tool_result blocks to feed back to the backend.
func (l *Loop) executeToolCalls(ctx context.Context, sessionKey string, blocks []message.Block) ([]message.Block, error) {
	var results []message.Block
	for _, b := range blocks {
		if b.Type != message.BlockToolUse {
			continue
		}

		ctx, span := tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(
			attribute.String("tool", b.Name),
		))
		output := l.Tools.Execute(ctx, b.Name, b.Input)
		span.End()

		if err := l.Sessions.SaveToolResult(sessionKey, b.ToolUseID, output); err != nil {
			return nil, fmt.Errorf("agent: save tool result: %w", err)
		}
		results = append(results, message.ToolResultBlock(b.ToolUseID, output))
	}
	return results, nil
}

// finish records the completed turn: a new memory summarizing the
// exchange, then the turn itself. Both only happen on success.
func (l *Loop) finish(ctx context.Context, sessionKey, userText, finalText string, assistantBlocks []message.Block) error {
	importance := 0.5
	summary := fmt.Sprintf("User: %s\nAssistant: %s", userText, finalText)
	if _, err := l.Memories.Add(summary, sessionKey, nil, &importance); err != nil {
		return fmt.Errorf("agent: record memory: %w", err)
	}
	if err := l.Sessions.SaveTurn(sessionKey, userText, assistantBlocks); err != nil {
		return fmt.Errorf("agent: save turn: %w", err)
	}
	return nil
}

// augmentWithMemories appends a short context block of up to three
// positively-scored memories to the raw user text.
func (l *Loop) augmentWithMemories(userText string) string {
	matches := l.Memories.Retrieve(userText, memoryRetrievalLimit)
	if len(matches) == 0 {
		return userText
	}
	var b strings.Builder
	b.WriteString(userText)
	b.WriteString("\n\nRelevant memories:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s\n", m.Record.Content)
	}
	return b.String()
}

func hasToolUse(blocks []message.Block) bool {
	for _, b := range blocks {
		if b.Type == message.BlockToolUse {
			return true
		}
	}
	return false
}

func concatText(blocks []message.Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == message.BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}
