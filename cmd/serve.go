package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/agentgateway/internal/agent"
	"github.com/nextlevelbuilder/agentgateway/internal/backend"
	"github.com/nextlevelbuilder/agentgateway/internal/bus"
	"github.com/nextlevelbuilder/agentgateway/internal/channel"
	"github.com/nextlevelbuilder/agentgateway/internal/config"
	"github.com/nextlevelbuilder/agentgateway/internal/gateway"
	"github.com/nextlevelbuilder/agentgateway/internal/memory"
	"github.com/nextlevelbuilder/agentgateway/internal/queue"
	"github.com/nextlevelbuilder/agentgateway/internal/router"
	"github.com/nextlevelbuilder/agentgateway/internal/scheduler"
	"github.com/nextlevelbuilder/agentgateway/internal/sessionstore"
	"github.com/nextlevelbuilder/agentgateway/internal/soul"
	"github.com/nextlevelbuilder/agentgateway/internal/tools"
	"github.com/nextlevelbuilder/agentgateway/internal/toolregistry"
	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

const (
	schedulerTick     = 10 * time.Second
	deliveryPoll      = 1 * time.Second
	deliveryErrorWait = 5 * time.Second
	workerJoinTimeout = 5 * time.Second

	// outboundRatePerSec and outboundBurst bound how fast the delivery
	// worker can push messages through any one channel, independent of
	// that channel's own platform-side rate limit.
	outboundRatePerSec = 2.0
	outboundBurst      = 5
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "error", err)
		os.Exit(1)
	}

	sessions, err := sessionstore.Open(cfg.Workspace)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	rt, err := router.Open(cfg.Workspace, cfg.DefaultAgent)
	if err != nil {
		slog.Error("failed to open router", "error", err)
		os.Exit(1)
	}
	sched, err := scheduler.Open(cfg.Workspace)
	if err != nil {
		slog.Error("failed to open scheduler", "error", err)
		os.Exit(1)
	}
	q, err := queue.Open(cfg.Workspace)
	if err != nil {
		slog.Error("failed to open delivery queue", "error", err)
		os.Exit(1)
	}
	defer q.Close()
	mem, err := memory.Open(cfg.Workspace)
	if err != nil {
		slog.Error("failed to open memory store", "error", err)
		os.Exit(1)
	}

	toolReg := toolregistry.NewRegistry()
	toolReg.SetTruncateChars(cfg.Tools.TruncateChars)
	tools.RegisterShell(toolReg, cfg.Workspace, time.Duration(cfg.Tools.ShellTimeoutSec)*time.Second)
	tools.RegisterFilesystem(toolReg, cfg.Workspace)
	tools.RegisterWebFetch(toolReg, cfg.Tools.WebFetchMaxChars)
	tools.RegisterImage(toolReg, cfg.Workspace)
	tools.RegisterSessionsHistory(toolReg, sessions)
	tools.RegisterMemorySearch(toolReg, mem)

	client := backend.NewOpenAIClient(cfg.Backend.APIKey, cfg.Backend.APIBase, cfg.Backend.Model)
	loop := agent.New(client, toolReg, sessions, mem)

	channels := map[string]channel.Channel{}
	if cfg.Channels.File.Enabled {
		fc, err := channel.NewFileChannel(cfg.Workspace)
		if err != nil {
			slog.Error("failed to open file channel", "error", err)
			os.Exit(1)
		}
		channels["file"] = fc
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watchReloads(ctx, resolveConfigPath(), client)

	if cfg.Channels.Telegram.Enabled {
		tg, err := channel.NewTelegramChannel(ctx, cfg.Channels.Telegram.Token)
		if err != nil {
			slog.Error("failed to start telegram channel", "error", err)
		} else {
			channels["telegram"] = tg
		}
	}
	if cfg.Channels.Discord.Enabled {
		dc, err := channel.NewDiscordChannel(cfg.Channels.Discord.Token)
		if err != nil {
			slog.Error("failed to start discord channel", "error", err)
		} else {
			channels["discord"] = dc
			defer dc.Close()
		}
	}

	limiters := channel.NewLimiterSet(outboundRatePerSec, outboundBurst)
	for id, ch := range channels {
		channels[id] = limiters.Wrap(ch)
	}

	events := bus.New()

	dispatcher := gateway.NewDispatcher()
	gateway.RegisterAll(dispatcher, gateway.Deps{
		WorkspaceDir: cfg.Workspace,
		Loop:         loop,
		Sessions:     sessions,
		Router:       rt,
		Scheduler:    sched,
		Queue:        q,
		Memories:     mem,
		Channels:     channels,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runGatewayHTTP(ctx, cfg, dispatcher, events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSchedulerLoop(ctx, cfg.Workspace, sched, loop, events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDeliveryWorker(ctx, q, channels, events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runInteractiveFrontend(ctx, cfg.Workspace, channels, rt, loop)
	}()

	slog.Info("agentgateway: all activities started", "workspace", cfg.Workspace)
	<-ctx.Done()
	slog.Info("agentgateway: shutdown signal received, draining activities")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(workerJoinTimeout):
		slog.Warn("agentgateway: activities did not drain within timeout")
	}
}

// runGatewayHTTP serves the WebSocket JSON-RPC frontend until ctx is done.
func runGatewayHTTP(ctx context.Context, cfg *config.Config, dispatcher *gateway.Dispatcher, events *bus.Bus) {
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewServer(dispatcher, events).Handler())

	addr := cfg.Gateway.Host + ":" + strconv.Itoa(cfg.Gateway.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), workerJoinTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("gateway: server error", "error", err)
	}
}

// runSchedulerLoop ticks every schedulerTick, executing due jobs in
// next_run order and feeding each through the agent loop.
func runSchedulerLoop(ctx context.Context, workspaceDir string, sched *scheduler.Scheduler, loop *agent.Loop, events *bus.Bus) {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, job := range sched.GetDue(now) {
				persona, err := soul.Load(workspaceDir, job.AgentID)
				if err != nil {
					slog.Warn("scheduler: load soul failed", "job", job.ID, "error", err)
				}
				sessionKey := job.AgentID + ":cron:" + job.ID
				output, runErr := loop.Run(ctx, sessionKey, job.Prompt, persona)
				if runErr != nil {
					slog.Warn("scheduler: job run failed", "job", job.ID, "error", runErr)
				}
				if err := sched.MarkExecuted(job.ID, output, runErr); err != nil {
					slog.Warn("scheduler: mark executed failed", "job", job.ID, "error", err)
				}
				events.Broadcast(protocol.EventFrame{
					Event: bus.EventJobExecuted,
					Payload: map[string]any{
						"job_id": job.ID, "agent_id": job.AgentID, "error": errString(runErr),
					},
				})
			}
		}
	}
}

// runDeliveryWorker polls the queue every deliveryPoll, delivering ready
// messages through their channel and sleeping deliveryErrorWait after any
// poll error.
func runDeliveryWorker(ctx context.Context, q *queue.Queue, channels map[string]channel.Channel, events *bus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pending, err := q.GetPending(ctx, 10)
		if err != nil {
			slog.Warn("delivery worker: poll failed", "error", err)
			sleepOrDone(ctx, deliveryErrorWait)
			continue
		}

		for _, msg := range pending {
			deliverOne(ctx, q, channels, msg, events)
		}

		sleepOrDone(ctx, deliveryPoll)
	}
}

func deliverOne(ctx context.Context, q *queue.Queue, channels map[string]channel.Channel, msg queue.Message, events *bus.Bus) {
	if err := q.MarkProcessing(ctx, msg.ID); err != nil {
		slog.Warn("delivery worker: mark processing failed", "id", msg.ID, "error", err)
		return
	}

	ch, ok := channels[msg.Channel]
	if !ok {
		q.MarkFailed(ctx, msg.ID, errUnknownChannel(msg.Channel))
		events.Broadcast(protocol.EventFrame{Event: bus.EventMessageFailed, Payload: map[string]any{"id": msg.ID, "reason": "unknown channel"}})
		return
	}

	if err := ch.Send(ctx, msg.Recipient, msg.Content, msg.ThreadID); err != nil {
		if markErr := q.MarkFailed(ctx, msg.ID, err); markErr != nil {
			slog.Warn("delivery worker: mark failed failed", "id", msg.ID, "error", markErr)
		}
		events.Broadcast(protocol.EventFrame{Event: bus.EventMessageFailed, Payload: map[string]any{"id": msg.ID, "reason": err.Error()}})
		return
	}
	if err := q.MarkDelivered(ctx, msg.ID); err != nil {
		slog.Warn("delivery worker: mark delivered failed", "id", msg.ID, "error", err)
	}
	events.Broadcast(protocol.EventFrame{Event: bus.EventMessageDelivered, Payload: map[string]any{"id": msg.ID, "channel": msg.Channel}})
}

// runInteractiveFrontend polls every registered channel's Receive and
// drives each inbound message through the router and agent loop.
func runInteractiveFrontend(ctx context.Context, workspaceDir string, channels map[string]channel.Channel, rt *router.Router, loop *agent.Loop) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range channels {
				inbound, ok, err := ch.Receive(ctx)
				if err != nil {
					slog.Warn("frontend: receive failed", "channel", ch.ID(), "error", err)
					continue
				}
				if !ok {
					continue
				}
				handleInbound(ctx, workspaceDir, ch, rt, loop, inbound)
			}
		}
	}
}

func handleInbound(ctx context.Context, workspaceDir string, ch channel.Channel, rt *router.Router, loop *agent.Loop, inbound channel.Inbound) {
	resolution := rt.Resolve(inbound.Channel, inbound.Sender)
	threadID := inbound.ThreadID
	if threadID == "" {
		threadID = resolution.AgentID + ":" + inbound.Channel + ":" + inbound.Sender
	}

	persona, err := soul.Load(workspaceDir, resolution.AgentID)
	if err != nil {
		slog.Warn("frontend: load soul failed", "agent", resolution.AgentID, "error", err)
	}

	final, err := loop.Run(ctx, resolution.SessionKey, inbound.Text, persona)
	if err != nil {
		slog.Warn("frontend: agent run failed", "session", resolution.SessionKey, "error", err)
		return
	}
	if err := ch.Send(ctx, inbound.Sender, final, threadID); err != nil {
		slog.Warn("frontend: send reply failed", "channel", ch.ID(), "error", err)
	}
}

// watchReloads hot-reloads the backend client's API key/base/model
// whenever the config file on disk changes, without restarting the
// gateway or any of its four concurrent activities.
func watchReloads(ctx context.Context, path string, client *backend.OpenAIClient) {
	updates, err := config.Watch(ctx, path)
	if err != nil {
		slog.Warn("config: hot-reload watch failed to start", "error", err)
		return
	}
	go func() {
		for cfg := range updates {
			client.SetCredentials(cfg.Backend.APIKey, cfg.Backend.APIBase, cfg.Backend.Model)
			slog.Info("config: reloaded backend credentials", "model", cfg.Backend.Model)
		}
	}()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func errUnknownChannel(name string) error {
	return &unknownChannelError{name: name}
}

type unknownChannelError struct{ name string }

func (e *unknownChannelError) Error() string { return "delivery worker: unknown channel " + e.name }
