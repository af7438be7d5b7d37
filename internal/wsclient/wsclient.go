// Package wsclient maintains the realtime WebSocket connection to the
// backend. It is the primary channel for permission responses and delivers
// out-of-band notifications (permission requests, agent status) that do not
// ride the per-message SSE stream.
package wsclient

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 25 * time.Second

	maxReconnectDelay = 30 * time.Second
)

// PermissionRequest is the out-of-band permission prompt pushed by the
// server.
type PermissionRequest struct {
	RequestID   string          `json:"request_id"`
	ThreadID    string          `json:"thread_id,omitempty"`
	ToolName    string          `json:"tool_name"`
	ToolInput   json.RawMessage `json:"tool_input"`
	Description string          `json:"description"`
	Timestamp   int64           `json:"timestamp"`
}

// AgentStatus is a lightweight liveness update for the status line.
type AgentStatus struct {
	ThreadID string `json:"thread_id"`
	State    string `json:"state"`
	Model    string `json:"model,omitempty"`
	Tool     string `json:"tool,omitempty"`
}

// Handler receives inbound traffic and connection state changes. Callbacks
// run on the client's reader goroutine and must not block.
type Handler struct {
	OnPermissionRequest func(PermissionRequest)
	OnAgentStatus       func(AgentStatus)
	OnStateChange       func(connected bool)
}

type inboundEnvelope struct {
	Type string `json:"type"`
}

// Config holds the connection parameters. Host is "host:port" without a
// scheme; TLS selects wss.
type Config struct {
	Host  string
	Token string
	TLS   bool
}

// Client dials the backend, reconnects with backoff, and writes outgoing
// frames from two queues: the high-priority queue (permission responses)
// always drains before the low-priority one (telemetry). TrySend never
// blocks.
type Client struct {
	cfg     Config
	handler Handler
	log     *slog.Logger

	hiCh chan any
	loCh chan any

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func New(cfg Config, handler Handler, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		log:     log,
		hiCh:    make(chan any, 64),
		loCh:    make(chan any, 256),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the connection manager. It returns immediately; the client
// keeps reconnecting until Close.
func (c *Client) Start() {
	go c.run()
}

// Close stops the client and waits for the manager goroutine to exit.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopCh)
	})
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	<-c.doneCh
}

// Connected reports whether the socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// TrySend queues a frame on the high-priority queue without blocking.
// Returns false when disconnected or the queue is full; the caller decides
// what to do with the frame.
func (c *Client) TrySend(v any) bool {
	if !c.Connected() {
		return false
	}
	select {
	case c.hiCh <- v:
		return true
	default:
		return false
	}
}

// TrySendLow queues a frame on the low-priority queue. Dropped silently when
// full; telemetry is best effort.
func (c *Client) TrySendLow(v any) bool {
	if !c.Connected() {
		return false
	}
	select {
	case c.loCh <- v:
		return true
	default:
		return false
	}
}

func (c *Client) endpoint() string {
	scheme := "ws"
	if c.cfg.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.cfg.Host, Path: "/ws"}
	if c.cfg.Token != "" {
		u.RawQuery = url.Values{"token": {c.cfg.Token}}.Encode()
	}
	return u.String()
}

func (c *Client) run() {
	defer close(c.doneCh)

	delay := time.Second
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, err := c.dial()
		if err != nil {
			c.log.Warn("websocket dial failed", "host", c.cfg.Host, "error", err)
			select {
			case <-c.stopCh:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}
		delay = time.Second

		c.setConn(conn)
		if c.handler.OnStateChange != nil {
			c.handler.OnStateChange(true)
		}

		c.serve(conn)

		c.setConn(nil)
		if c.handler.OnStateChange != nil {
			c.handler.OnStateChange(false)
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.Dial(c.endpoint(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = conn != nil
	c.mu.Unlock()
}

// serve runs the writer and ping loops for one connection and reads until
// the connection drops.
func (c *Client) serve(conn *websocket.Conn) {
	connDone := make(chan struct{})
	defer close(connDone)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writeLoop(conn, connDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				c.log.Warn("websocket read failed", "error", err)
			}
			_ = conn.Close()
			return
		}
		c.route(data)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, connDone chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	write := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(v); err != nil {
			c.log.Warn("websocket write failed", "error", err)
			_ = conn.Close()
			return false
		}
		return true
	}

	for {
		// High priority drains first.
		select {
		case v := <-c.hiCh:
			if !write(v) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.stopCh:
			return
		case <-connDone:
			return
		case v := <-c.hiCh:
			if !write(v) {
				return
			}
		case v := <-c.loCh:
			if !write(v) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// route decodes one inbound frame by its type tag. Unknown types are logged
// and dropped so server-side additions never break the client.
func (c *Client) route(data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("undecodable websocket frame", "error", err)
		return
	}

	switch env.Type {
	case "permission_request":
		var req PermissionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.log.Warn("bad permission_request frame", "error", err)
			return
		}
		if c.handler.OnPermissionRequest != nil {
			c.handler.OnPermissionRequest(req)
		}
	case "agent_status":
		var st AgentStatus
		if err := json.Unmarshal(data, &st); err != nil {
			c.log.Warn("bad agent_status frame", "error", err)
			return
		}
		if c.handler.OnAgentStatus != nil {
			c.handler.OnAgentStatus(st)
		}
	case "connected":
		c.log.Debug("websocket session confirmed")
	default:
		c.log.Debug("ignoring websocket frame", "type", env.Type)
	}
}
