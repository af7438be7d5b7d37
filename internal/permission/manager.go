package permission

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// expiryWindow is the client-side deadline for answering a permission
// request. The server hard-times-out at 55s; staying under it means we never
// deliver an answer the server already discarded.
const expiryWindow = 50 * time.Second

// retryDelay is the pause before the single WebSocket retry.
const retryDelay = 500 * time.Millisecond

// Manager holds each thread's pending permission request and runs the
// delivery state machine for decisions. Its maps are only touched by the
// event-loop goroutine; the retry timer goroutine performs I/O only and
// reports its outcome through the report callback, never by mutating state.
type Manager struct {
	log      *slog.Logger
	sender   Sender
	fallback FallbackClient

	// report receives every terminal delivery outcome, including the ones
	// produced asynchronously by the retry path. The event loop points it at
	// its own inbound channel.
	report func(Result)

	pending      map[string]Request
	alwaysAllow  map[string]struct{}
	now          func() time.Time
	retryDelay   time.Duration
	expiryWindow time.Duration
}

func NewManager(sender Sender, fallback FallbackClient, report func(Result), log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if report == nil {
		report = func(Result) {}
	}
	return &Manager{
		log:          log,
		sender:       sender,
		fallback:     fallback,
		report:       report,
		pending:      make(map[string]Request),
		alwaysAllow:  make(map[string]struct{}),
		now:          time.Now,
		retryDelay:   retryDelay,
		expiryWindow: expiryWindow,
	}
}

// SetPending records the live request for its thread, replacing any earlier
// one. Returns true when the tool is on the always-allow list and the caller
// should auto-approve.
func (m *Manager) SetPending(req Request) bool {
	if m == nil || strings.TrimSpace(req.PermissionID) == "" {
		return false
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = m.now()
	}
	m.pending[req.ThreadID] = req
	_, auto := m.alwaysAllow[req.ToolName]
	return auto
}

// Pending returns the live request for a thread.
func (m *Manager) Pending(threadID string) (Request, bool) {
	req, ok := m.pending[threadID]
	return req, ok
}

// ClearPending drops a thread's pending request without answering it.
func (m *Manager) ClearPending(threadID string) {
	delete(m.pending, threadID)
}

// Approve answers the thread's pending request with allowed=true.
func (m *Manager) Approve(ctx context.Context, threadID string) {
	m.decide(ctx, threadID, true)
}

// Deny answers the thread's pending request with allowed=false.
func (m *Manager) Deny(ctx context.Context, threadID string) {
	m.decide(ctx, threadID, false)
}

// AllowAlways approves the pending request and auto-approves future requests
// for the same tool within this session.
func (m *Manager) AllowAlways(ctx context.Context, threadID string) {
	if req, ok := m.pending[threadID]; ok && req.ToolName != "" {
		m.alwaysAllow[req.ToolName] = struct{}{}
	}
	m.decide(ctx, threadID, true)
}

func (m *Manager) IsAlwaysAllowed(toolName string) bool {
	_, ok := m.alwaysAllow[toolName]
	return ok
}

// decide runs the delivery state machine once for the thread's pending
// request, then clears it unconditionally: a failed delivery must not leave
// the UI stuck on an already-decided prompt.
func (m *Manager) decide(ctx context.Context, threadID string, allowed bool) {
	req, ok := m.pending[threadID]
	delete(m.pending, threadID)
	if !ok {
		return
	}
	m.deliver(ctx, req, allowed)
}

// deliver attempts the primary channel, schedules exactly one retry on
// failure, and falls back to HTTP if the retry fails too. Expired requests
// are abandoned before any send.
func (m *Manager) deliver(ctx context.Context, req Request, allowed bool) {
	if m.now().Sub(req.ReceivedAt) >= m.expiryWindow {
		m.log.Warn("permission request expired before delivery",
			"permission_id", req.PermissionID, "tool", req.ToolName)
		m.report(Result{
			PermissionID: req.PermissionID,
			ThreadID:     req.ThreadID,
			Allowed:      allowed,
			Outcome:      OutcomeExpired,
			Reason:       "expired before send",
		})
		return
	}

	if m.trySendPrimary(req.PermissionID, allowed) {
		m.report(Result{
			PermissionID: req.PermissionID,
			ThreadID:     req.ThreadID,
			Allowed:      allowed,
			Outcome:      OutcomeSentViaPrimary,
		})
		return
	}

	m.log.Debug("primary permission delivery failed, scheduling retry",
		"permission_id", req.PermissionID)
	go m.retryThenFallback(ctx, req, allowed)
}

// trySendPrimary is the non-blocking WebSocket attempt. A missing sender or
// a disconnected channel counts as a send failure.
func (m *Manager) trySendPrimary(permissionID string, allowed bool) bool {
	if m.sender == nil || !m.sender.Connected() {
		return false
	}
	return m.sender.TrySend(newCommandResponse(permissionID, allowed))
}

// retryThenFallback runs outside the event loop. It performs I/O only and
// hands its outcome to the report callback; it never touches Manager state.
func (m *Manager) retryThenFallback(ctx context.Context, req Request, allowed bool) {
	result := Result{
		PermissionID: req.PermissionID,
		ThreadID:     req.ThreadID,
		Allowed:      allowed,
	}

	select {
	case <-ctx.Done():
		result.Outcome = OutcomeFailed
		result.Reason = ctx.Err().Error()
		m.report(result)
		return
	case <-time.After(m.retryDelay):
	}

	if m.trySendPrimary(req.PermissionID, allowed) {
		result.Outcome = OutcomeSentViaPrimary
		m.report(result)
		return
	}

	// Retry budget exhausted; HTTP is the last resort.
	if m.fallback == nil {
		result.Outcome = OutcomeFailed
		result.Reason = "websocket unavailable and no fallback client"
		m.report(result)
		return
	}
	if err := m.fallback.RespondToPermission(ctx, req.PermissionID, allowed); err != nil {
		m.log.Warn("fallback permission delivery failed",
			"permission_id", req.PermissionID, "error", err)
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
		m.report(result)
		return
	}
	result.Outcome = OutcomeSentViaFallback
	m.report(result)
}
