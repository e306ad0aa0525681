package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentgateway/internal/agent"
	"github.com/nextlevelbuilder/agentgateway/internal/channel"
	"github.com/nextlevelbuilder/agentgateway/internal/memory"
	"github.com/nextlevelbuilder/agentgateway/internal/queue"
	"github.com/nextlevelbuilder/agentgateway/internal/router"
	"github.com/nextlevelbuilder/agentgateway/internal/scheduler"
	"github.com/nextlevelbuilder/agentgateway/internal/sessionstore"
	"github.com/nextlevelbuilder/agentgateway/internal/soul"
)

// Deps bundles every subsystem the gateway's named methods are thin
// adapters over.
type Deps struct {
	WorkspaceDir string
	Loop         *agent.Loop
	Sessions     *sessionstore.Store
	Router       *router.Router
	Scheduler    *scheduler.Scheduler
	Queue        *queue.Queue
	Memories     *memory.Store
	Channels     map[string]channel.Channel
}

// RegisterAll wires every §4.9 gateway method onto d.
func RegisterAll(d *Dispatcher, deps Deps) {
	d.Register("send_message", sendMessage(deps))
	d.Register("queue_message", queueMessage(deps))
	d.Register("queue_stats", queueStats(deps))
	d.Register("list_dead_letters", listDeadLetters(deps))
	d.Register("retry_dead_letter", retryDeadLetter(deps))
	d.Register("schedule_at", scheduleAt(deps))
	d.Register("schedule_every", scheduleEvery(deps))
	d.Register("schedule_cron", scheduleCron(deps))
	d.Register("list_jobs", listJobs(deps))
	d.Register("delete_job", deleteJob(deps))
	d.Register("toggle_job", toggleJob(deps))
	d.Register("create_binding", createBinding(deps))
	d.Register("list_bindings", listBindings(deps))
	d.Register("delete_binding", deleteBinding(deps))
	d.Register("list_sessions", listSessions(deps))
	d.Register("create_session", createSession(deps))
	d.Register("get_history", getHistory(deps))
	d.Register("get_soul", getSoul(deps))
	d.Register("update_soul", updateSoul(deps))
	d.Register("search_memories", searchMemories(deps))
}

func paramString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing param %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q must be a string", key)
	}
	return s, nil
}

func paramStringDefault(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func paramInt(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func paramIntPtr(params map[string]any, key string) *int {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case float64:
		i := int(n)
		return &i
	default:
		return nil
	}
}

// send_message: deliver text directly through a named channel right now,
// bypassing the durable delivery queue.
func sendMessage(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		channelID, err := paramString(params, "channel")
		if err != nil {
			return nil, err
		}
		recipient, err := paramString(params, "recipient")
		if err != nil {
			return nil, err
		}
		text, err := paramString(params, "text")
		if err != nil {
			return nil, err
		}
		threadID := paramStringDefault(params, "thread_id", "")

		ch, ok := deps.Channels[channelID]
		if !ok {
			return nil, fmt.Errorf("unknown channel %q", channelID)
		}
		if err := ch.Send(ctx, recipient, text, threadID); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	}
}

// queue_message: enqueue text for the delivery worker to send at-least-once.
func queueMessage(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		channelID, err := paramString(params, "channel")
		if err != nil {
			return nil, err
		}
		recipient, err := paramString(params, "recipient")
		if err != nil {
			return nil, err
		}
		content, err := paramString(params, "content")
		if err != nil {
			return nil, err
		}
		opts := queue.EnqueueOptions{
			ThreadID:   paramStringDefault(params, "thread_id", ""),
			SessionKey: paramStringDefault(params, "session_key", ""),
			Priority:   paramInt(params, "priority", 0),
		}
		if at, ok := params["scheduled_at"].(string); ok && at != "" {
			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return nil, fmt.Errorf("scheduled_at: %w", err)
			}
			opts.ScheduledAt = &t
		}
		id, err := deps.Queue.Enqueue(ctx, channelID, recipient, content, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id}, nil
	}
}

func queueStats(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		return deps.Queue.GetStats(ctx)
	}
}

func listDeadLetters(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		return deps.Queue.GetDeadLetters(ctx, paramInt(params, "limit", 10))
	}
}

func retryDeadLetter(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		id, err := paramString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := deps.Queue.RetryDeadLetter(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	}
}

func scheduleAt(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		agentID, err := paramString(params, "agent_id")
		if err != nil {
			return nil, err
		}
		name, err := paramString(params, "name")
		if err != nil {
			return nil, err
		}
		prompt, err := paramString(params, "prompt")
		if err != nil {
			return nil, err
		}
		atStr, err := paramString(params, "at")
		if err != nil {
			return nil, err
		}
		at, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			return nil, fmt.Errorf("at: %w", err)
		}
		return deps.Scheduler.CreateAt(agentID, name, prompt, at)
	}
}

func scheduleEvery(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		agentID, err := paramString(params, "agent_id")
		if err != nil {
			return nil, err
		}
		name, err := paramString(params, "name")
		if err != nil {
			return nil, err
		}
		prompt, err := paramString(params, "prompt")
		if err != nil {
			return nil, err
		}
		interval, err := paramString(params, "interval")
		if err != nil {
			return nil, err
		}
		return deps.Scheduler.CreateEvery(agentID, name, prompt, interval, paramIntPtr(params, "max_runs"))
	}
}

func scheduleCron(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		agentID, err := paramString(params, "agent_id")
		if err != nil {
			return nil, err
		}
		name, err := paramString(params, "name")
		if err != nil {
			return nil, err
		}
		prompt, err := paramString(params, "prompt")
		if err != nil {
			return nil, err
		}
		expr, err := paramString(params, "expr")
		if err != nil {
			return nil, err
		}
		return deps.Scheduler.CreateCron(agentID, name, prompt, expr, paramIntPtr(params, "max_runs"))
	}
}

func listJobs(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		return deps.Scheduler.GetAll(), nil
	}
}

func deleteJob(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		id, err := paramString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := deps.Scheduler.Delete(id); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	}
}

func toggleJob(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		id, err := paramString(params, "id")
		if err != nil {
			return nil, err
		}
		enabled, _ := params["enabled"].(bool)
		if err := deps.Scheduler.SetEnabled(id, enabled); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	}
}

func createBinding(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		agentID, err := paramString(params, "agent_id")
		if err != nil {
			return nil, err
		}
		channelID, err := paramString(params, "channel")
		if err != nil {
			return nil, err
		}
		peer := paramStringDefault(params, "peer", "*")
		priority := paramInt(params, "priority", 0)
		return deps.Router.CreateBinding(agentID, channelID, peer, priority)
	}
}

func listBindings(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		if agentID, ok := params["agent_id"].(string); ok && agentID != "" {
			return deps.Router.ListForAgent(agentID), nil
		}
		return deps.Router.List(), nil
	}
}

func deleteBinding(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		id, err := paramString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := deps.Router.RemoveBinding(id); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	}
}

func listSessions(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		return deps.Sessions.List(), nil
	}
}

func createSession(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		key, err := paramString(params, "key")
		if err != nil {
			return nil, err
		}
		return deps.Sessions.Create(key)
	}
}

func getHistory(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		key, err := paramString(params, "key")
		if err != nil {
			return nil, err
		}
		meta, history, err := deps.Sessions.Load(key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"metadata": meta, "history": history}, nil
	}
}

func getSoul(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		agentID, err := paramString(params, "agent_id")
		if err != nil {
			return nil, err
		}
		return soul.Load(deps.WorkspaceDir, agentID)
	}
}

func updateSoul(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		agentID, err := paramString(params, "agent_id")
		if err != nil {
			return nil, err
		}
		text, err := paramString(params, "text")
		if err != nil {
			return nil, err
		}
		s := soul.Parse(text)
		if err := soul.Save(deps.WorkspaceDir, agentID, s); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func searchMemories(deps Deps) Handler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		query, err := paramString(params, "query")
		if err != nil {
			return nil, err
		}
		limit := paramInt(params, "limit", 10)
		return deps.Memories.Retrieve(query, limit), nil
	}
}
