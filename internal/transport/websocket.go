package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const wsReadLimit = 1 << 20

// WebSocketHub is the server end of the worker WebSocket transport. Each
// worker holds one connection; task and cancel envelopes are written to it
// and responses read from it are passed to the responses consumer.
type WebSocketHub struct {
	conns     map[string]*websocket.Conn
	responses Handler
	onConnect func(workerID string)
	mu        sync.RWMutex
	log       zerolog.Logger
}

// NewWebSocketHub creates an empty hub
func NewWebSocketHub(log zerolog.Logger) *WebSocketHub {
	return &WebSocketHub{
		conns: make(map[string]*websocket.Conn),
		log:   log.With().Str("component", "websocket_hub").Logger(),
	}
}

// OnConnect sets a hook run when a worker connects
func (h *WebSocketHub) OnConnect(fn func(workerID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = fn
}

// ServeHTTP upgrades GET /mcu/ws?worker_id=X and serves the connection until
// it closes
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Missing required field: worker_id"})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Error().Err(err).Str("worker_id", workerID).Msg("Failed to accept WebSocket")
		return
	}
	conn.SetReadLimit(wsReadLimit)

	h.mu.Lock()
	if old, ok := h.conns[workerID]; ok {
		_ = old.Close(websocket.StatusPolicyViolation, "replaced by new connection")
	}
	h.conns[workerID] = conn
	onConnect := h.onConnect
	h.mu.Unlock()

	h.log.Info().Str("worker_id", workerID).Msg("Worker connected")
	if onConnect != nil {
		onConnect(workerID)
	}

	defer func() {
		h.mu.Lock()
		if h.conns[workerID] == conn {
			delete(h.conns, workerID)
		}
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.log.Info().Str("worker_id", workerID).Msg("Worker disconnected")
	}()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.log.Debug().Err(err).Str("worker_id", workerID).Msg("WebSocket read ended")
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}

		env, err := Unmarshal(data)
		if err != nil {
			h.log.Error().Err(err).Str("worker_id", workerID).Msg("Dropping malformed frame")
			continue
		}
		if env.Kind != KindResponse {
			h.log.Warn().Str("worker_id", workerID).Str("kind", string(env.Kind)).Msg("Ignoring non-response frame from worker")
			continue
		}
		if env.WorkerID == "" {
			env.WorkerID = workerID
		}
		h.deliver(ctx, env)
	}
}

func (h *WebSocketHub) deliver(ctx context.Context, env Envelope) {
	h.mu.RLock()
	handler := h.responses
	h.mu.RUnlock()

	if handler == nil {
		h.log.Warn().Str("task_id", env.TaskID).Msg("No response consumer, dropping response")
		return
	}
	if err := handler(ctx, env); err != nil {
		h.log.Warn().Err(err).Str("task_id", env.TaskID).Msg("Response handler failed")
	}
}

// Send writes the envelope to the addressed worker's connection
func (h *WebSocketHub) Send(ctx context.Context, env Envelope) error {
	if env.Address() == ResponsesAddress {
		h.deliver(ctx, env)
		return nil
	}

	data, err := Marshal(env)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conn, ok := h.conns[env.WorkerID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("worker %s not connected: %w", env.WorkerID, ErrNoRoute)
	}

	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("failed to write to worker %s: %w", env.WorkerID, err)
	}
	return nil
}

// Consume registers h for worker responses until ctx is cancelled. Workers
// consume on their own end of the connection, so only ResponsesAddress is
// accepted here.
func (h *WebSocketHub) Consume(ctx context.Context, address string, handler Handler) error {
	if address != ResponsesAddress {
		return fmt.Errorf("websocket hub cannot consume %q: %w", address, ErrNoRoute)
	}

	h.mu.Lock()
	h.responses = handler
	h.mu.Unlock()

	<-ctx.Done()

	h.mu.Lock()
	h.responses = nil
	h.mu.Unlock()
	return ctx.Err()
}

// Connected lists the ids of connected workers
func (h *WebSocketHub) Connected() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close drops every worker connection
func (h *WebSocketHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.conns, id)
	}
	return nil
}

// WebSocketClient is the worker end of the WebSocket transport
type WebSocketClient struct {
	conn     *websocket.Conn
	workerID string
	log      zerolog.Logger
}

// DialWebSocket connects a worker to the hub at baseURL (ws://host/api/mcu/ws)
func DialWebSocket(ctx context.Context, baseURL, workerID string, log zerolog.Logger) (*WebSocketClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("worker_id", workerID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	return &WebSocketClient{
		conn:     conn,
		workerID: workerID,
		log:      log.With().Str("component", "websocket_client").Str("worker_id", workerID).Logger(),
	}, nil
}

// Send writes an envelope (normally a response) to the hub
func (c *WebSocketClient) Send(ctx context.Context, env Envelope) error {
	data, err := Marshal(env)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("failed to write to hub: %w", err)
	}
	return nil
}

// Consume reads task and cancel envelopes addressed to this worker
func (c *WebSocketClient) Consume(ctx context.Context, address string, h Handler) error {
	if address != c.workerID {
		return fmt.Errorf("websocket client for %s cannot consume %q: %w", c.workerID, address, ErrNoRoute)
	}

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) != -1 {
				return ErrClosed
			}
			return fmt.Errorf("failed to read from hub: %w", err)
		}
		if typ != websocket.MessageBinary {
			continue
		}

		env, err := Unmarshal(data)
		if err != nil {
			c.log.Error().Err(err).Msg("Dropping malformed frame")
			continue
		}
		if err := h(ctx, env); err != nil {
			c.log.Warn().Err(err).Str("task_id", env.TaskID).Msg("Envelope handler failed")
		}
	}
}

// Close sends a normal closure to the hub
func (c *WebSocketClient) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
