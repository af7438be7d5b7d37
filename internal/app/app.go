// Package app wires the client together: the REST client, the realtime
// connection, the event loop, local history and the system monitor. It owns
// process lifecycle and the active response streams.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overturehq/overture-cli/internal/api"
	"github.com/overturehq/overture-cli/internal/auditlog"
	"github.com/overturehq/overture-cli/internal/config"
	"github.com/overturehq/overture-cli/internal/history"
	"github.com/overturehq/overture-cli/internal/lockfile"
	"github.com/overturehq/overture-cli/internal/monitor"
	"github.com/overturehq/overture-cli/internal/permission"
	"github.com/overturehq/overture-cli/internal/router"
	"github.com/overturehq/overture-cli/internal/stream"
	"github.com/overturehq/overture-cli/internal/threadcache"
	"github.com/overturehq/overture-cli/internal/wsclient"
)

// tickInterval drives the render clock used for tool activity fading.
const tickInterval = time.Second

// statusInterval is how often a presence frame with local system stats goes
// out on the realtime connection's low-priority lane.
const statusInterval = 30 * time.Second

type Options struct {
	Config *config.Config

	Version   string
	Commit    string
	BuildTime string
}

type App struct {
	cfg *config.Config
	log *slog.Logger

	version   string
	commit    string
	buildTime string

	// sessionID identifies this client process to the backend for the life
	// of the run.
	sessionID string

	api   *api.Client
	ws    *wsclient.Client
	cache *threadcache.Cache
	loop  *router.Loop
	store *history.Store
	mon   *monitor.Service
	audit *auditlog.Store

	keymap config.Keymap

	lockPath string
	lock     *lockfile.Lock

	mu      sync.Mutex
	streams map[string]*activeStream // resolved thread id -> stream
}

type activeStream struct {
	streamID uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("missing config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(strings.TrimSpace(opts.Config.LogFormat), strings.TrimSpace(opts.Config.LogLevel))
	if err != nil {
		return nil, err
	}

	creds := config.LoadCredentials(config.DefaultCredentialsPath())
	if !creds.HasToken() {
		logger.Warn("no stored credentials; requests will be unauthenticated")
	} else if creds.Expired() {
		logger.Warn("stored access token is expired")
	}

	historyPath := strings.TrimSpace(opts.Config.HistoryPath)
	if historyPath == "" {
		historyPath = history.DefaultPath()
	}
	store, err := history.Open(historyPath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	keymap, err := config.LoadKeymap(config.DefaultKeymapPath())
	if err != nil {
		logger.Warn("keymap unreadable; using defaults", "error", err)
		keymap = config.DefaultKeymap()
	}

	stateDir := filepath.Dir(config.DefaultConfigPath())
	audit, err := auditlog.New(auditlog.Options{Logger: logger, StateDir: stateDir})
	if err != nil {
		return nil, fmt.Errorf("init audit log: %w", err)
	}

	a := &App{
		cfg:       opts.Config,
		log:       logger,
		version:   strings.TrimSpace(opts.Version),
		commit:    strings.TrimSpace(opts.Commit),
		buildTime: strings.TrimSpace(opts.BuildTime),
		sessionID: uuid.NewString(),
		cache:     threadcache.New(),
		store:     store,
		mon:       monitor.NewService(logger),
		audit:     audit,
		keymap:    keymap,
		lockPath:  filepath.Join(stateDir, "overture.lock"),
		streams:   make(map[string]*activeStream),
	}

	a.api = api.NewClient(opts.Config.ServerBaseURL, creds.AccessToken, logger)
	a.ws = wsclient.New(wsclient.Config{
		Host:  opts.Config.WSHost,
		Token: creds.AccessToken,
		TLS:   opts.Config.WSTLS,
	}, wsclient.Handler{
		OnPermissionRequest: a.handlePermissionRequest,
		OnAgentStatus:       a.handleAgentStatus,
		OnStateChange:       a.handleConnState,
	}, logger)
	a.loop = router.NewLoop(a.cache, a.ws, a.api, logger)
	a.loop.SetResultObserver(a.auditDelivery)

	return a, nil
}

// Loop exposes the event loop for frontends: snapshots, permission decisions,
// tool activity.
func (a *App) Loop() *router.Loop { return a.loop }

func (a *App) Monitor() *monitor.Service { return a.mon }

func (a *App) History() *history.Store { return a.store }

func (a *App) SessionID() string { return a.sessionID }

// Keymap returns the key bindings loaded at startup (user overrides over
// defaults).
func (a *App) Keymap() config.Keymap { return a.keymap }

// Run starts the loop and the realtime connection and blocks until ctx is
// cancelled, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	lock, err := lockfile.Acquire(a.lockPath)
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			return fmt.Errorf("another instance is already running (lock: %s)", a.lockPath)
		}
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	a.lock = lock

	a.log.Info("client starting",
		"version", a.version,
		"commit", a.commit,
		"build_time", a.buildTime,
		"server", a.cfg.ServerBaseURL,
		"session_id", a.sessionID,
		"goos", runtime.GOOS,
		"goarch", runtime.GOARCH,
	)

	a.loop.Start()
	a.ws.Start()
	go a.statusLoop(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()
		case <-ticker.C:
			a.loop.Tick()
		}
	}
}

func (a *App) shutdown() {
	a.mu.Lock()
	active := make([]*activeStream, 0, len(a.streams))
	for _, s := range a.streams {
		active = append(active, s)
	}
	a.mu.Unlock()

	for _, s := range active {
		s.cancel()
	}
	for _, s := range active {
		<-s.done
	}

	a.ws.Close()
	a.loop.Stop()
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing history store", "error", err)
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			a.log.Warn("releasing instance lock", "error", err)
		}
		a.lock = nil
	}
}

type statusFrame struct {
	Type          string  `json:"type"`
	SessionID     string  `json:"session_id"`
	CPUUsage      float64 `json:"cpu_usage"`
	MemoryPercent float64 `json:"memory_percent"`
	TimestampMs   int64   `json:"timestamp_ms"`
}

// statusLoop sends a presence frame on the low-priority lane while connected.
// Dropped frames are fine; the next tick sends a fresh one.
func (a *App) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !a.ws.Connected() {
			continue
		}
		snap := a.mon.Snapshot(ctx)
		a.ws.TrySendLow(statusFrame{
			Type:          "client_status",
			SessionID:     a.sessionID,
			CPUUsage:      snap.CPUUsage,
			MemoryPercent: snap.MemoryPercent,
			TimestampMs:   snap.TimestampMs,
		})
	}
}

// Decide answers a thread's pending permission request and records the
// decision in the audit trail.
func (a *App) Decide(threadID string, decision permission.Decision) {
	req, ok := a.loop.PendingPermission(threadID)
	if ok {
		action := "permission_deny"
		switch decision {
		case permission.DecisionAllow:
			action = "permission_allow"
		case permission.DecisionAllowAlways:
			action = "permission_allow_always"
		}
		a.audit.Append(auditlog.Entry{
			Action:       action,
			ThreadID:     threadID,
			PermissionID: req.PermissionID,
			ToolName:     req.ToolName,
		})
	}
	a.loop.Decide(threadID, decision)
}

// auditDelivery runs on the loop goroutine; Append only touches the file
// under its own lock.
func (a *App) auditDelivery(r permission.Result) {
	status := "success"
	if r.Outcome == permission.OutcomeExpired || r.Outcome == permission.OutcomeFailed {
		status = "failure"
	}
	a.audit.Append(auditlog.Entry{
		Action:       "permission_delivery",
		Status:       status,
		Error:        r.Reason,
		ThreadID:     r.ThreadID,
		PermissionID: r.PermissionID,
		Outcome:      string(r.Outcome),
	})
}

// SendPrompt submits a prompt and begins consuming the response stream in the
// background. An empty threadID creates a new thread locally under a pending
// id; the returned id is the one the caller should use until reconciliation
// redirects it. One stream per thread: a thread already streaming is an error.
func (a *App) SendPrompt(ctx context.Context, threadID string, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("empty prompt")
	}

	req := api.StreamRequest{
		Prompt:         prompt,
		SessionID:      a.sessionID,
		PermissionMode: a.cfg.PermissionMode,
	}

	newThread := threadID == ""
	if newThread {
		cwd, _ := os.Getwd()
		a.loop.Do(func(c *threadcache.Cache) {
			threadID = c.CreatePendingThread(prompt, threadcache.ThreadTypeConversation, cwd)
		})
		req.ThreadType = string(threadcache.ThreadTypeConversation)
	} else {
		a.mu.Lock()
		_, busy := a.streams[threadID]
		a.mu.Unlock()
		if busy {
			return "", fmt.Errorf("thread %s is already streaming", threadID)
		}

		var resolved string
		var started bool
		a.loop.Do(func(c *threadcache.Cache) {
			resolved = c.ResolveThreadID(threadID)
			started = c.AddStreamingMessage(resolved, prompt)
		})
		if !started {
			return "", fmt.Errorf("unknown thread %s", threadID)
		}
		req.ThreadID = resolved
	}

	// The stream outlives this call; its context is cancelled by CancelStream
	// or shutdown, and cancelling it also tears down the HTTP body read.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	body, err := a.api.OpenStream(streamCtx, req)
	if err != nil {
		cancel()
		a.loop.Do(func(c *threadcache.Cache) {
			c.CancelStreamingMessage(threadID)
			c.AddErrorSimple(threadID, "stream_open_failed", err.Error())
		})
		return threadID, err
	}

	s := &activeStream{
		streamID: a.loop.BeginStream(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	a.mu.Lock()
	a.streams[threadID] = s
	a.mu.Unlock()

	go func() {
		defer close(s.done)
		defer func() {
			a.mu.Lock()
			delete(a.streams, threadID)
			a.mu.Unlock()
		}()

		err := stream.Run(streamCtx, body, a.loop, threadID, s.streamID, a.log)
		if err != nil && streamCtx.Err() == nil {
			a.log.Warn("stream ended with error", "thread_id", threadID, "error", err)
		}
		a.loop.EndStream(s.streamID)
		a.persistTranscript(threadID)
	}()

	return threadID, nil
}

// CancelStream aborts the thread's active stream: buffered events are
// discarded, the streaming message is marked cancelled, and the backend is
// told to stop generating. Safe to call when nothing is streaming.
func (a *App) CancelStream(ctx context.Context, threadID string) {
	a.mu.Lock()
	s := a.streams[threadID]
	a.mu.Unlock()

	if s != nil {
		a.loop.CancelStream(threadID, s.streamID)
		s.cancel()
	}

	var resolved string
	a.loop.Do(func(c *threadcache.Cache) {
		resolved = c.ResolveThreadID(threadID)
	})

	resp, err := a.api.CancelStream(ctx, resolved)
	if err != nil {
		a.log.Warn("cancel request failed", "thread_id", resolved, "error", err)
		return
	}
	if !resp.Cancelled() {
		a.log.Debug("nothing to cancel on the backend", "thread_id", resolved, "status", resp.Status)
	}
}

// parseWireTime reads the backend's RFC3339 timestamps. Absent or malformed
// values yield the zero time rather than an error; timestamps are advisory.
func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RefreshThreads pulls the backend thread list into the cache.
func (a *App) RefreshThreads(ctx context.Context) error {
	threads, err := a.api.FetchThreads(ctx)
	if err != nil {
		return err
	}

	a.loop.Do(func(c *threadcache.Cache) {
		for i := len(threads) - 1; i >= 0; i-- {
			t := threads[i]
			c.UpsertThread(&threadcache.Thread{
				ID:               t.ID,
				Title:            t.Title,
				Description:      t.Description,
				Preview:          t.Preview,
				Type:             threadcache.ThreadType(t.Type),
				WorkingDirectory: t.ProjectPath,
				UpdatedAt:        parseWireTime(t.UpdatedAt),
			})
		}
	})
	return nil
}

// OpenThread loads a thread's messages from the backend into the cache,
// merging with any in-flight streaming state.
func (a *App) OpenThread(ctx context.Context, threadID string) error {
	var resolved string
	a.loop.Do(func(c *threadcache.Cache) {
		resolved = c.ResolveThreadID(threadID)
	})

	detail, err := a.api.FetchThreadWithMessages(ctx, resolved)
	if err != nil {
		return err
	}

	msgs := make([]*threadcache.Message, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		msgs = append(msgs, &threadcache.Message{
			ID:        m.ID,
			ThreadID:  detail.ID,
			Role:      threadcache.MessageRole(m.Role),
			Content:   m.Content,
			CreatedAt: parseWireTime(m.CreatedAt),
		})
	}

	a.loop.Do(func(c *threadcache.Cache) {
		c.UpsertThread(&threadcache.Thread{
			ID:               detail.ID,
			Title:            detail.Title,
			Type:             threadcache.ThreadType(detail.Type),
			WorkingDirectory: detail.ProjectPath,
			UpdatedAt:        time.Now(),
		})
		c.SetMessages(detail.ID, msgs)
	})
	return nil
}

// persistTranscript writes the thread's finalized messages to local history.
// Best effort: history failures are logged, never surfaced.
func (a *App) persistTranscript(threadID string) {
	var (
		thread *threadcache.Thread
		msgs   []*threadcache.Message
		realID string
	)
	a.loop.Do(func(c *threadcache.Cache) {
		realID = c.ResolveThreadID(threadID)
		if t := c.GetThread(threadID); t != nil {
			snap := *t
			thread = &snap
		}
		for _, m := range c.GetMessages(threadID) {
			if m.IsStreaming {
				continue
			}
			snap := *m
			msgs = append(msgs, &snap)
		}
	})
	if thread == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if realID != threadID {
		if err := a.store.RenameThread(ctx, threadID, realID); err != nil {
			a.log.Warn("history rename failed", "old_id", threadID, "new_id", realID, "error", err)
		}
	}

	if err := a.store.UpsertThread(ctx, history.Thread{
		ThreadID:         realID,
		Type:             string(thread.Type),
		Title:            thread.Title,
		Preview:          thread.Preview,
		WorkingDirectory: thread.WorkingDirectory,
	}); err != nil {
		a.log.Warn("history upsert failed", "thread_id", realID, "error", err)
		return
	}

	rows := make([]history.Message, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, history.Message{
			ThreadID:         realID,
			MessageID:        m.ID,
			Role:             string(m.Role),
			Content:          m.Content,
			ReasoningContent: m.ReasoningContent,
			CreatedAtUnixMs:  m.CreatedAt.UnixMilli(),
		})
	}
	if err := a.store.ReplaceMessages(ctx, realID, rows); err != nil {
		a.log.Warn("history save failed", "thread_id", realID, "error", err)
	}
}

func (a *App) handlePermissionRequest(req wsclient.PermissionRequest) {
	received := time.Now()
	if req.Timestamp > 0 {
		received = time.UnixMilli(req.Timestamp)
	}
	a.loop.SubmitPermissionRequest(permission.Request{
		PermissionID: req.RequestID,
		ThreadID:     req.ThreadID,
		ToolName:     req.ToolName,
		Description:  req.Description,
		ToolInput:    req.ToolInput,
		ReceivedAt:   received,
	})
}

func (a *App) handleAgentStatus(st wsclient.AgentStatus) {
	a.log.Debug("agent status",
		"thread_id", st.ThreadID, "state", st.State, "model", st.Model, "tool", st.Tool)
}

func (a *App) handleConnState(connected bool) {
	if connected {
		a.log.Info("realtime connection established")
	} else {
		a.log.Warn("realtime connection lost; reconnecting")
	}
}
