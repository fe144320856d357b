package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/akmatori/incidentflow/internal/logging"
	"github.com/akmatori/incidentflow/internal/remediation"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Messages from API to the action worker
	MessageExecuteAction MessageType = "execute_action"

	// Messages from the action worker to API
	MessageActionCompleted MessageType = "action_completed"
	MessageActionError     MessageType = "action_error"
	MessageHeartbeat       MessageType = "heartbeat"
	MessageStatus          MessageType = "status"
)

// ErrorCodeInvalidAction is sent by the worker for actions it refuses to run
const ErrorCodeInvalidAction = "invalid_action"

var (
	ErrWorkerNotConnected = errors.New("action worker not connected")
	ErrUnknownExecution   = errors.New("unknown execution id")
	ErrExecutionTimeout   = errors.New("action execution timed out")
)

// Message is exchanged between API and the action worker
type Message struct {
	Type        MessageType    `json:"type"`
	ExecutionID string         `json:"execution_id,omitempty"`
	ActionType  string         `json:"action_type,omitempty"`
	Target      string         `json:"target,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Code        string         `json:"code,omitempty"`
	Data        map[string]any `json:"data,omitempty"`

	ExecutionTimeMs int64 `json:"execution_time_ms,omitempty"`
}

// Option configures an AgentHub
type Option func(*AgentHub)

// WithTimeout bounds how long Execute waits for the worker's answer
func WithTimeout(d time.Duration) Option {
	return func(h *AgentHub) { h.timeout = d }
}

// WithStatusTTL sets how long a finished or abandoned execution status stays queryable
func WithStatusTTL(d time.Duration) Option {
	return func(h *AgentHub) { h.statusTTL = d }
}

// WithClock replaces time.Now for status expiry
func WithClock(now func() time.Time) Option {
	return func(h *AgentHub) { h.now = now }
}

// WithBreakerSettings replaces the default circuit breaker settings
func WithBreakerSettings(s gobreaker.Settings) Option {
	return func(h *AgentHub) { h.breakerSettings = s }
}

// AgentHub accepts one action worker over WebSocket and implements remediation.Executor
// on top of it. Executions are correlated by execution id.
type AgentHub struct {
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	workerConn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan Message // execution_id -> waiter

	statusMu sync.RWMutex
	statuses  map[string]statusEntry
	statusTTL time.Duration
	now       func() time.Time

	breakerSettings gobreaker.Settings
	breaker         *gobreaker.CircuitBreaker
	timeout         time.Duration
	logger          *zap.Logger
}

// NewAgentHub creates a hub with a circuit breaker that opens after five consecutive failures
func NewAgentHub(logger *zap.Logger, opts ...Option) *AgentHub {
	h := &AgentHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // internal worker connection
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pending:  make(map[string]chan Message),
		statuses:  make(map[string]statusEntry),
		statusTTL: time.Hour,
		now:       time.Now,
		timeout:   2 * time.Minute,
		logger:    logging.OrNop(logger),
	}
	h.breakerSettings = gobreaker.Settings{
		Name:        "action-worker",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	settings := h.breakerSettings
	settings.IsSuccessful = func(err error) bool {
		// a rejected action says nothing about worker health
		return err == nil || errors.Is(err, remediation.ErrInvalidAction)
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		h.logger.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	h.breaker = gobreaker.NewCircuitBreaker(settings)
	return h
}

// SetupRoutes registers the worker endpoint
func (h *AgentHub) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/agent", h.HandleWebSocket)
}

// HandleWebSocket handles the WebSocket connection from the action worker
func (h *AgentHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}

	h.logger.Info("action worker connected", zap.String("remote_addr", r.RemoteAddr))

	h.mu.Lock()
	if h.workerConn != nil {
		h.workerConn.Close()
	}
	h.workerConn = conn
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.workerConn == conn {
			h.workerConn = nil
		}
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("action worker disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("failed to parse worker message", zap.Error(err))
			continue
		}

		h.handleMessage(msg)
	}
}

// handleMessage processes incoming messages from the action worker
func (h *AgentHub) handleMessage(msg Message) {
	switch msg.Type {
	case MessageHeartbeat:
		return

	case MessageStatus:
		if status, ok := msg.Data["status"].(string); ok {
			h.logger.Debug("worker status", zap.String("status", status))
		}

	case MessageActionCompleted:
		h.logger.Info("action completed",
			zap.String("execution_id", msg.ExecutionID),
			zap.Int64("execution_time_ms", msg.ExecutionTimeMs))
		h.setStatus(msg.ExecutionID, remediation.ExecutionCompleted)
		h.deliver(msg)

	case MessageActionError:
		h.logger.Warn("action failed on worker",
			zap.String("execution_id", msg.ExecutionID),
			zap.String("error", msg.Error))
		h.setStatus(msg.ExecutionID, remediation.ExecutionFailed)
		h.deliver(msg)

	default:
		h.logger.Warn("unknown message type from worker", zap.String("type", string(msg.Type)))
	}
}

// deliver hands a result to the waiting Execute call, if it is still waiting
func (h *AgentHub) deliver(msg Message) {
	h.pendingMu.Lock()
	ch, ok := h.pending[msg.ExecutionID]
	delete(h.pending, msg.ExecutionID)
	h.pendingMu.Unlock()

	if ok {
		ch <- msg
	}
}

type statusEntry struct {
	status  remediation.ExecutionStatus
	updated time.Time
}

func (h *AgentHub) setStatus(id string, status remediation.ExecutionStatus) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	now := h.now()
	h.pruneStatusesLocked(now)
	h.statuses[id] = statusEntry{status: status, updated: now}
}

// pruneStatusesLocked drops entries not updated within the TTL. Caller holds statusMu.
func (h *AgentHub) pruneStatusesLocked(now time.Time) {
	for id, e := range h.statuses {
		if now.Sub(e.updated) > h.statusTTL {
			delete(h.statuses, id)
		}
	}
}

// IsWorkerConnected returns whether a worker is connected
func (h *AgentHub) IsWorkerConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.workerConn != nil
}

// sendToWorker sends a message to the action worker
func (h *AgentHub) sendToWorker(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.workerConn == nil {
		return ErrWorkerNotConnected
	}
	return h.workerConn.WriteMessage(websocket.TextMessage, data)
}

// Execute dispatches an action to the worker and waits for its result
func (h *AgentHub) Execute(ctx context.Context, actionType, target string, params map[string]any) (remediation.Outcome, error) {
	result, err := h.breaker.Execute(func() (interface{}, error) {
		return h.dispatch(ctx, actionType, target, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return remediation.Outcome{}, fmt.Errorf("action worker unavailable: %w", err)
		}
		return remediation.Outcome{}, err
	}
	return result.(remediation.Outcome), nil
}

func (h *AgentHub) dispatch(ctx context.Context, actionType, target string, params map[string]any) (remediation.Outcome, error) {
	id := uuid.New().String()
	ch := make(chan Message, 1)

	h.pendingMu.Lock()
	h.pending[id] = ch
	h.pendingMu.Unlock()
	h.setStatus(id, remediation.ExecutionInProgress)

	err := h.sendToWorker(Message{
		Type:        MessageExecuteAction,
		ExecutionID: id,
		ActionType:  actionType,
		Target:      target,
		Parameters:  params,
	})
	if err != nil {
		h.forget(id)
		h.setStatus(id, remediation.ExecutionFailed)
		return remediation.Outcome{}, err
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		if msg.Type == MessageActionError {
			if msg.Code == ErrorCodeInvalidAction {
				return remediation.Outcome{}, fmt.Errorf("%w: %s", remediation.ErrInvalidAction, msg.Error)
			}
			return remediation.Outcome{}, fmt.Errorf("worker error for %s on %s: %s", actionType, target, msg.Error)
		}
		return remediation.Outcome{ExecutionID: id, Output: msg.Output}, nil
	case <-timer.C:
		h.forget(id)
		return remediation.Outcome{}, fmt.Errorf("%w: %s on %s after %s", ErrExecutionTimeout, actionType, target, h.timeout)
	case <-ctx.Done():
		h.forget(id)
		return remediation.Outcome{}, ctx.Err()
	}
}

func (h *AgentHub) forget(id string) {
	h.pendingMu.Lock()
	delete(h.pending, id)
	h.pendingMu.Unlock()
}

// Status reports the last known state of an execution
func (h *AgentHub) Status(_ context.Context, executionID string) (remediation.ExecutionStatus, error) {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	e, ok := h.statuses[executionID]
	if !ok || h.now().Sub(e.updated) > h.statusTTL {
		return "", fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	return e.status, nil
}
