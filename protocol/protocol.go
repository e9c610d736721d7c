package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/message"
	"github.com/DataScienceBioLab/squirrel/metric"
)

// Handler processes a single accepted message and produces a response.
// Handlers are registered per message type; at most one handler may be
// registered for a type at a time.
type Handler func(ctx context.Context, msg *message.Message) (*Response, error)

// Response is the result of handling a message, correlated to the
// request by ID.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// stateRecord is the serialized internal representation of the protocol
// state installed at initialization.
type stateRecord struct {
	Initialized    bool   `json:"initialized"`
	Version        string `json:"version"`
	MaxMessageSize int    `json:"max_message_size"`
	TimeoutMs      int64  `json:"timeout_ms"`
	RetryCount     int    `json:"retry_count"`
}

// Protocol is the MCP protocol state machine. It owns its lifecycle
// state and configuration exclusively, gates message handling on that
// state, and routes accepted messages to registered per-type handlers.
//
// Lifecycle follows the platform component pattern:
//
//	p := protocol.New()
//	p.InitializeWithConfig(cfg)  // uninitialized -> initialized
//	p.Start(ctx)                 // initialized -> ready
//	...
//	p.Stop(5 * time.Second)      // -> shutting_down
//
// All methods are safe for concurrent use. The handler table and the
// state record are each guarded by a single lock; a handler is either
// fully visible or fully absent to any concurrent HandleMessage call.
type Protocol struct {
	mu          sync.RWMutex
	state       State
	initialized bool
	config      Config
	record      []byte
	lastErr     error

	handlersMu sync.RWMutex
	handlers   map[message.MessageType]Handler

	logger  *slog.Logger
	metrics *metric.Metrics
}

// ProtocolOption configures a Protocol at construction time.
type ProtocolOption func(*Protocol)

// WithLogger sets the structured logger used for lifecycle events.
func WithLogger(logger *slog.Logger) ProtocolOption {
	return func(p *Protocol) {
		p.logger = logger
	}
}

// WithMetrics attaches platform metrics to the instance.
func WithMetrics(m *metric.Metrics) ProtocolOption {
	return func(p *Protocol) {
		p.metrics = m
	}
}

// New creates an uninitialized protocol instance.
func New(opts ...ProtocolOption) *Protocol {
	p := &Protocol{
		state:    StateUninitialized,
		handlers: make(map[message.MessageType]Handler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize installs the default configuration.
// Fails with ErrAlreadyInitialized if the instance is already
// initialized; the existing state and config are left untouched.
func (p *Protocol) Initialize() error {
	return p.InitializeWithConfig(DefaultConfig())
}

// InitializeWithConfig validates and installs the given configuration,
// transitioning uninitialized -> initialized. On any failure the
// instance remains exactly as it was before the call.
func (p *Protocol) InitializeWithConfig(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return errors.WrapInvalid(errors.ErrAlreadyInitialized, "Protocol", "Initialize",
			fmt.Sprintf("instance is already initialized with protocol version %s", p.config.Version))
	}

	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "Protocol", "Initialize", "config validation")
	}

	record := stateRecord{
		Initialized:    true,
		Version:        cfg.Version.String(),
		MaxMessageSize: cfg.MaxMessageSize,
		TimeoutMs:      cfg.Timeout.Milliseconds(),
		RetryCount:     cfg.RetryCount,
	}
	data, err := json.Marshal(record)
	if err != nil {
		// Abort without mutating: state remains uninitialized
		return errors.WrapFatal(errors.ErrStateSerialization, "Protocol", "Initialize",
			"state record serialization: "+err.Error())
	}

	p.config = cfg
	p.record = data
	p.initialized = true
	p.setStateLocked(StateInitialized)

	p.logger.Info("protocol initialized",
		"version", cfg.Version.String(),
		"max_message_size", cfg.MaxMessageSize,
		"timeout", cfg.Timeout)
	return nil
}

// Start transitions initialized -> ready, after which HandleMessage
// accepts traffic. The context is reserved for future transport
// attachment and is not retained.
func (p *Protocol) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return errors.WrapInvalid(errors.ErrNotInitialized, "Protocol", "Start",
			"Start requires a prior Initialize")
	}
	if p.state != StateInitialized {
		return errors.WrapInvalid(errors.ErrInvalidState, "Protocol", "Start",
			fmt.Sprintf("cannot start from state %s", p.state))
	}

	p.setStateLocked(StateReady)
	p.logger.Info("protocol ready")
	return nil
}

// Stop transitions the instance to shutting_down. The timeout is
// advisory for collaborators draining in-flight work; the core itself
// holds no background tasks. The error state is absorbing: a failed
// instance cannot be stopped, only replaced.
func (p *Protocol) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return errors.WrapInvalid(errors.ErrNotInitialized, "Protocol", "Stop",
			"Stop requires a prior Initialize")
	}
	if p.state == StateError {
		return errors.WrapInvalid(errors.ErrInvalidState, "Protocol", "Stop",
			"instance is in the error state; create a new instance")
	}
	if p.state == StateShuttingDown {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Protocol", "Stop",
			"instance is already shutting down")
	}

	p.setStateLocked(StateShuttingDown)
	p.logger.Info("protocol shutting down", "drain_timeout", timeout)
	return nil
}

// Fail records an unrecoverable fault and moves the instance to the
// absorbing error state.
func (p *Protocol) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	p.setStateLocked(StateError)
	p.logger.Error("protocol entered error state", "error", err)
}

// State returns the current protocol state.
func (p *Protocol) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Config returns a copy of the installed configuration. The zero Config
// is returned before initialization.
func (p *Protocol) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// LastError returns the fault recorded by Fail, if any.
func (p *Protocol) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// StateRecord returns the serialized internal state record installed at
// initialization, or nil before initialization.
func (p *Protocol) StateRecord() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.record == nil {
		return nil
	}
	out := make([]byte, len(p.record))
	copy(out, p.record)
	return out
}

// RegisterHandler registers a handler for a message type. Registering a
// second handler for an already-registered type is an error.
func (p *Protocol) RegisterHandler(t message.MessageType, h Handler) error {
	if !t.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidFormat, "Protocol", "RegisterHandler",
			fmt.Sprintf("cannot register handler for unknown message type %q", t))
	}
	if h == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Protocol", "RegisterHandler",
			"handler must not be nil")
	}

	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()

	if _, exists := p.handlers[t]; exists {
		msg := fmt.Errorf("handler for message type %s is already registered", t)
		return errors.WrapInvalid(msg, "Protocol", "RegisterHandler", "duplicate handler check")
	}

	p.handlers[t] = h
	return nil
}

// UnregisterHandler removes the handler for a message type.
// Unregistering a type with no handler is an error.
func (p *Protocol) UnregisterHandler(t message.MessageType) error {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()

	if _, exists := p.handlers[t]; !exists {
		return errors.WrapInvalid(errors.ErrHandlerNotFound, "Protocol", "UnregisterHandler",
			fmt.Sprintf("no handler registered for message type %s", t))
	}

	delete(p.handlers, t)
	return nil
}

// HandleMessage validates and dispatches a message to its registered
// handler. Requires the instance to be initialized and in the ready
// state; returns the handler's response or propagates its error.
func (p *Protocol) HandleMessage(ctx context.Context, msg *message.Message) (*Response, error) {
	p.mu.RLock()
	initialized := p.initialized
	state := p.state
	cfg := p.config
	p.mu.RUnlock()

	if !initialized {
		return nil, errors.WrapInvalid(errors.ErrNotInitialized, "Protocol", "HandleMessage",
			"message handling requires a prior Initialize")
	}
	if state != StateReady {
		return nil, errors.WrapInvalid(errors.ErrNotReady, "Protocol", "HandleMessage",
			fmt.Sprintf("protocol state is %s, message handling requires ready", state))
	}

	if err := ValidateMessage(msg, cfg); err != nil {
		p.countValidated(msg, "rejected")
		return nil, err
	}
	p.countValidated(msg, "accepted")

	return p.handleMessageInternal(ctx, msg)
}

// handleMessageInternal looks up the registered handler by message type
// and invokes it.
func (p *Protocol) handleMessageInternal(ctx context.Context, msg *message.Message) (*Response, error) {
	p.handlersMu.RLock()
	handler, exists := p.handlers[msg.MessageType()]
	p.handlersMu.RUnlock()

	if !exists {
		p.countHandled(msg, "unroutable")
		return nil, errors.WrapInvalid(errors.ErrHandlerNotFound, "Protocol", "HandleMessage",
			fmt.Sprintf("no handler registered for message type %s", msg.MessageType()))
	}

	start := time.Now()
	resp, err := handler(ctx, msg)
	if p.metrics != nil {
		p.metrics.HandlerDuration.WithLabelValues(msg.MessageType().String()).
			Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.countHandled(msg, "error")
		return nil, err
	}

	p.countHandled(msg, "ok")
	return resp, nil
}

// RouteMessage resolves the handler for a message without requiring the
// ready state. It is the lighter-weight check used before full
// handling: only initialization is required.
func (p *Protocol) RouteMessage(msg *message.Message) (Handler, error) {
	p.mu.RLock()
	initialized := p.initialized
	p.mu.RUnlock()

	if !initialized {
		return nil, errors.WrapInvalid(errors.ErrNotInitialized, "Protocol", "RouteMessage",
			"message routing requires a prior Initialize")
	}
	if msg == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidFormat, "Protocol", "RouteMessage",
			"message must not be nil")
	}

	p.handlersMu.RLock()
	handler, exists := p.handlers[msg.MessageType()]
	p.handlersMu.RUnlock()

	if !exists {
		return nil, errors.WrapInvalid(errors.ErrHandlerNotFound, "Protocol", "RouteMessage",
			fmt.Sprintf("no handler registered for message type %s", msg.MessageType()))
	}
	return handler, nil
}

// ValidateMessage checks a message against the installed configuration.
// Independent of lifecycle state: before initialization the default
// configuration is used.
func (p *Protocol) ValidateMessage(msg *message.Message) error {
	p.mu.RLock()
	cfg := p.config
	initialized := p.initialized
	p.mu.RUnlock()

	if !initialized {
		cfg = DefaultConfig()
	}
	return ValidateMessage(msg, cfg)
}

// setStateLocked updates the state and the state gauge. Callers must
// hold p.mu.
func (p *Protocol) setStateLocked(s State) {
	p.state = s
	if p.metrics != nil {
		p.metrics.ProtocolState.Set(float64(s))
	}
}

func (p *Protocol) countValidated(msg *message.Message, result string) {
	if p.metrics == nil || msg == nil {
		return
	}
	p.metrics.MessagesValidated.WithLabelValues(msg.MessageType().String(), result).Inc()
}

func (p *Protocol) countHandled(msg *message.Message, status string) {
	if p.metrics == nil {
		return
	}
	p.metrics.MessagesHandled.WithLabelValues(msg.MessageType().String(), status).Inc()
}
