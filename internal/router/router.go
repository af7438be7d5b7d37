// Package router owns the single goroutine that is allowed to mutate the
// thread cache. Stream events, permission decisions, render ticks and
// cancellations all arrive as commands on one inbox; the loop applies them in
// order, so the cache needs no locking.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/overturehq/overture-cli/internal/permission"
	"github.com/overturehq/overture-cli/internal/sse"
	"github.com/overturehq/overture-cli/internal/threadcache"
)

// StreamEvent is one decoded event from an active response stream, tagged
// with the thread it belongs to and the stream generation that produced it.
type StreamEvent struct {
	ThreadID string
	StreamID uint64
	Event    sse.Event
}

type cmdCancelStream struct {
	threadID string
}

type cmdEndStream struct {
	streamID uint64
}

type cmdTick struct{}

type cmdDo struct {
	fn   func(*threadcache.Cache)
	done chan struct{}
}

type cmdPermissionDecision struct {
	threadID string
	decision permission.Decision
}

type cmdPermissionRequest struct {
	req permission.Request
}

// Loop is the event loop. Everything that writes to the cache goes through
// the inbox; readers use Do to run on the loop goroutine.
type Loop struct {
	log   *slog.Logger
	cache *threadcache.Cache
	perms *permission.Manager

	trackers map[string]*threadcache.ActivityTracker

	inbox  chan any
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	nextStreamID atomic.Uint64

	// cancelled marks stream generations whose remaining events must be
	// dropped. It is written from outside the loop so events already sitting
	// in the inbox are discarded too, not just future ones.
	cancelled sync.Map

	// observeResult, when set, sees every permission delivery outcome after
	// the loop has applied it.
	observeResult func(permission.Result)

	tick uint64
}

func NewLoop(cache *threadcache.Cache, sender permission.Sender, fallback permission.FallbackClient, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		log:      log,
		cache:    cache,
		trackers: make(map[string]*threadcache.ActivityTracker),
		inbox:    make(chan any, 256),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	// Delivery outcomes re-enter through the inbox so the retry goroutine
	// never touches loop state directly.
	l.perms = permission.NewManager(sender, fallback, func(r permission.Result) {
		l.post(r)
	}, log)
	return l
}

// SetResultObserver registers a callback for permission delivery outcomes.
// Must be called before Start. The callback runs on the loop goroutine and
// must not block.
func (l *Loop) SetResultObserver(fn func(permission.Result)) {
	l.observeResult = fn
}

func (l *Loop) Start() {
	go l.run()
}

func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.stopCh)
	})
	<-l.doneCh
}

// BeginStream allocates a fresh stream generation id. Events dispatched with
// an older generation after that generation was cancelled are dropped.
func (l *Loop) BeginStream() uint64 {
	return l.nextStreamID.Add(1)
}

// Dispatch hands a stream event to the loop. Blocks only if the inbox is
// full; returns false when the loop is stopped.
func (l *Loop) Dispatch(ev StreamEvent) bool {
	return l.post(ev)
}

// CancelStream discards every buffered and future event of the given stream
// generation and marks the thread's streaming message cancelled.
func (l *Loop) CancelStream(threadID string, streamID uint64) {
	l.cancelled.Store(streamID, struct{}{})
	l.post(cmdCancelStream{threadID: threadID})
}

// EndStream releases the cancellation marker of a finished stream
// generation. It goes through the inbox, so events of that generation
// dispatched before the call are still dequeued behind the marker and
// dropped. Call it once the stream's reader has stopped dispatching.
func (l *Loop) EndStream(streamID uint64) {
	l.post(cmdEndStream{streamID: streamID})
}

// Tick advances the render clock used for tool activity fading.
func (l *Loop) Tick() {
	l.post(cmdTick{})
}

// Do runs fn on the loop goroutine and waits for it to finish. This is how
// renderers take consistent snapshots of the cache.
func (l *Loop) Do(fn func(*threadcache.Cache)) {
	cmd := cmdDo{fn: fn, done: make(chan struct{})}
	if !l.post(cmd) {
		return
	}
	select {
	case <-cmd.done:
	case <-l.doneCh:
	}
}

// SubmitPermissionRequest registers a permission request that arrived outside
// a response stream, typically over the realtime connection.
func (l *Loop) SubmitPermissionRequest(req permission.Request) {
	l.post(cmdPermissionRequest{req: req})
}

// Decide answers a thread's pending permission request.
func (l *Loop) Decide(threadID string, decision permission.Decision) {
	l.post(cmdPermissionDecision{threadID: threadID, decision: decision})
}

// PendingPermission reports the thread's live permission request, if any.
func (l *Loop) PendingPermission(threadID string) (permission.Request, bool) {
	var (
		out permission.Request
		ok  bool
	)
	l.Do(func(*threadcache.Cache) {
		out, ok = l.perms.Pending(threadID)
	})
	return out, ok
}

// ToolActivity returns the tool display rows for a thread at the current
// render tick, in-progress entries first, faded entries removed.
func (l *Loop) ToolActivity(threadID string) []threadcache.DisplayStatus {
	var out []threadcache.DisplayStatus
	l.Do(func(*threadcache.Cache) {
		out = l.tracker(threadID).ToolsToRender(l.tick)
	})
	return out
}

func (l *Loop) post(v any) bool {
	select {
	case <-l.stopCh:
		return false
	case l.inbox <- v:
		return true
	}
}

func (l *Loop) run() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		case raw := <-l.inbox:
			l.handle(raw)
		}
	}
}

func (l *Loop) handle(raw any) {
	switch cmd := raw.(type) {
	case StreamEvent:
		if _, dropped := l.cancelled.Load(cmd.StreamID); dropped {
			return
		}
		l.apply(cmd.ThreadID, cmd.Event)
	case cmdCancelStream:
		l.cache.CancelStreamingMessage(cmd.threadID)
		l.tracker(cmd.threadID).Clear()
	case cmdEndStream:
		l.cancelled.Delete(cmd.streamID)
	case cmdTick:
		l.tick++
	case cmdDo:
		cmd.fn(l.cache)
		close(cmd.done)
	case cmdPermissionDecision:
		l.applyDecision(cmd.threadID, cmd.decision)
	case cmdPermissionRequest:
		l.registerPermission(cmd.req)
	case permission.Result:
		l.applyPermissionResult(cmd)
	}
}

// apply dispatches one decoded stream event into the cache and the per-thread
// activity tracker.
func (l *Loop) apply(threadID string, ev sse.Event) {
	switch e := ev.(type) {
	case sse.ContentEvent:
		l.cache.AppendToMessage(threadID, e.Text)

	case sse.ReasoningEvent:
		l.cache.AppendReasoningToMessage(threadID, e.Text)

	case sse.ThreadInfoEvent:
		// Move the tracker under the real id before the redirect is
		// installed, so activity rows started under the pending id
		// survive reconciliation.
		oldID := l.cache.ResolveThreadID(threadID)
		l.cache.ReconcileThreadID(threadID, e.ThreadID, e.Title)
		if t, ok := l.trackers[oldID]; ok && oldID != e.ThreadID && e.ThreadID != "" {
			if _, taken := l.trackers[e.ThreadID]; !taken {
				l.trackers[e.ThreadID] = t
			}
			delete(l.trackers, oldID)
		}

	case sse.MessageInfoEvent:
		l.cache.FinalizeMessage(threadID, e.MessageID)

	case sse.DoneEvent:
		l.cache.FinalizeStreaming(threadID)

	case sse.ErrorEvent:
		code := e.Code
		if code == "" {
			code = "stream_error"
		}
		l.cache.AddErrorSimple(threadID, code, e.Message)

	case sse.PingEvent:
		// Keepalive; nothing to apply.

	case sse.ToolCallStartEvent:
		l.cache.StartToolInMessage(threadID, e.ToolCallID, e.ToolName)
		l.tracker(threadID).ToolStarted(e.ToolCallID, e.ToolName, l.tick)

	case sse.ToolCallArgumentEvent:
		l.cache.AppendToolArgument(threadID, e.ToolCallID, e.Chunk)

	case sse.ToolExecutingEvent:
		l.cache.SetToolDisplayName(threadID, e.ToolCallID, e.DisplayName)
		l.tracker(threadID).ToolExecuting(e.ToolCallID, e.DisplayName)

	case sse.ToolResultEvent:
		l.cache.SetToolResult(threadID, e.ToolCallID, e.Result, false)
		l.cache.CompleteToolInMessage(threadID, e.ToolCallID)
		l.tracker(threadID).ToolCompleted(e.ToolCallID, true, "", l.tick)

	case sse.SubagentStartedEvent:
		l.cache.StartSubagentInMessage(threadID, e.TaskID, e.Description, e.SubagentType)
		l.tracker(threadID).SubagentStarted(e.TaskID, e.Description, l.tick)

	case sse.SubagentProgressEvent:
		l.cache.UpdateSubagentProgress(threadID, e.TaskID, e.Message)
		l.tracker(threadID).SubagentProgress(e.TaskID, e.Message)

	case sse.SubagentCompletedEvent:
		l.cache.CompleteSubagentInMessage(threadID, e.TaskID, e.Summary, e.ToolCallCount)
		l.tracker(threadID).SubagentCompleted(e.TaskID, true, e.Summary, l.tick)

	case sse.PermissionRequestEvent:
		l.registerPermission(permission.Request{
			PermissionID: e.PermissionID,
			ThreadID:     threadID,
			ToolName:     e.ToolName,
			Description:  e.Description,
			ToolCallID:   e.ToolCallID,
			ToolInput:    e.ToolInput,
		})

	case sse.ThreadUpdatedEvent:
		l.cache.UpdateThreadMetadata(e.ThreadID, e.Title, e.Description)

	case sse.TodosUpdatedEvent:
		l.cache.SetThreadTodos(threadID, e.Todos)

	case sse.UsageEvent:
		l.cache.SetThreadUsage(threadID, e.ContextWindowUsed, e.ContextWindowLimit)

	case sse.ContextCompactedEvent:
		l.cache.SetThreadUsage(threadID, e.TokensUsed, e.TokenLimit)
		l.log.Info("context compacted",
			"thread_id", threadID, "messages_removed", e.MessagesRemoved, "tokens_freed", e.TokensFreed)

	case sse.SkillsInjectedEvent:
		l.log.Debug("skills injected", "thread_id", threadID, "skills", e.Skills)

	case sse.OAuthConsentRequiredEvent:
		l.cache.AddErrorSimple(threadID, "oauth_consent_required",
			fmt.Sprintf("%s requires authorization: %s", e.Provider, e.URL))

	default:
		l.log.Debug("unhandled stream event", "type", ev.EventType())
	}
}

func (l *Loop) registerPermission(req permission.Request) {
	if l.perms.SetPending(req) {
		l.log.Debug("auto-approving always-allowed tool",
			"tool", req.ToolName, "permission_id", req.PermissionID)
		l.perms.Approve(context.Background(), req.ThreadID)
	}
}

func (l *Loop) applyDecision(threadID string, decision permission.Decision) {
	ctx := context.Background()
	switch decision {
	case permission.DecisionAllow:
		l.perms.Approve(ctx, threadID)
	case permission.DecisionAllowAlways:
		l.perms.AllowAlways(ctx, threadID)
	case permission.DecisionDeny:
		l.perms.Deny(ctx, threadID)
	}
}

// applyPermissionResult surfaces failed deliveries as thread errors;
// successful ones are only logged.
func (l *Loop) applyPermissionResult(r permission.Result) {
	if l.observeResult != nil {
		l.observeResult(r)
	}
	switch r.Outcome {
	case permission.OutcomeSentViaPrimary, permission.OutcomeSentViaFallback:
		l.log.Debug("permission response delivered",
			"permission_id", r.PermissionID, "outcome", r.Outcome)
	case permission.OutcomeExpired:
		l.cache.AddErrorSimple(r.ThreadID, "permission_expired",
			"permission request expired before the response could be sent")
	case permission.OutcomeFailed:
		msg := "failed to deliver permission response"
		if r.Reason != "" {
			msg += ": " + r.Reason
		}
		l.cache.AddErrorSimple(r.ThreadID, "permission_delivery_failed", msg)
	}
}

// tracker returns the thread's activity tracker, resolving id redirects so a
// pending-id tracker keeps working after reconciliation.
func (l *Loop) tracker(threadID string) *threadcache.ActivityTracker {
	id := l.cache.ResolveThreadID(threadID)
	t, ok := l.trackers[id]
	if !ok {
		t = threadcache.NewActivityTracker()
		l.trackers[id] = t
	}
	return t
}
