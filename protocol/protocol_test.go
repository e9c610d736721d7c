package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/message"
	"github.com/DataScienceBioLab/squirrel/metric"
)

func echoHandler(_ context.Context, msg *message.Message) (*Response, error) {
	return &Response{ID: msg.ID(), Success: true, Payload: msg.Payload()}, nil
}

// readyProtocol returns an initialized, started protocol with an echo
// handler registered for Command messages.
func readyProtocol(t *testing.T) *Protocol {
	t.Helper()
	p := New()
	require.NoError(t, p.Initialize())
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.RegisterHandler(message.Command, echoHandler))
	return p
}

func TestNew_StartsUninitialized(t *testing.T) {
	p := New()
	assert.Equal(t, StateUninitialized, p.State())
	assert.Nil(t, p.StateRecord())
	assert.NoError(t, p.LastError())
}

func TestInitialize(t *testing.T) {
	p := New()
	require.NoError(t, p.Initialize())

	assert.Equal(t, StateInitialized, p.State())
	assert.Equal(t, DefaultConfig().MaxMessageSize, p.Config().MaxMessageSize)

	// The internal state record is serialized at initialize time
	record := p.StateRecord()
	require.NotNil(t, record)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(record, &decoded))
	assert.Equal(t, true, decoded["initialized"])
	assert.Equal(t, "1.0.0", decoded["version"])
}

func TestInitialize_Twice(t *testing.T) {
	p := New()
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 2048
	require.NoError(t, p.InitializeWithConfig(cfg))

	other := DefaultConfig()
	other.MaxMessageSize = 4096
	err := p.InitializeWithConfig(other)
	require.ErrorIs(t, err, errors.ErrAlreadyInitialized)

	// Config unchanged by the failed call
	assert.Equal(t, 2048, p.Config().MaxMessageSize)
	assert.Equal(t, StateInitialized, p.State())
}

func TestInitialize_InvalidConfig(t *testing.T) {
	p := New()
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 0

	err := p.InitializeWithConfig(cfg)
	require.ErrorIs(t, err, errors.ErrInvalidConfig)

	// Instance remains usable after the failed attempt
	assert.Equal(t, StateUninitialized, p.State())
	require.NoError(t, p.Initialize())
}

func TestStart(t *testing.T) {
	p := New()

	// Before initialize
	err := p.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotInitialized)

	require.NoError(t, p.Initialize())
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, StateReady, p.State())

	// Double start
	err = p.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestStop(t *testing.T) {
	p := New()
	assert.ErrorIs(t, p.Stop(time.Second), errors.ErrNotInitialized)

	require.NoError(t, p.Initialize())
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, StateShuttingDown, p.State())

	assert.ErrorIs(t, p.Stop(time.Second), errors.ErrShuttingDown)
}

func TestFail(t *testing.T) {
	p := readyProtocol(t)

	fault := fmt.Errorf("transport collapsed")
	p.Fail(fault)

	assert.Equal(t, StateError, p.State())
	assert.ErrorIs(t, p.LastError(), fault)
	assert.True(t, p.State().IsTerminal())
}

func TestFail_ErrorStateIsAbsorbing(t *testing.T) {
	p := readyProtocol(t)
	p.Fail(fmt.Errorf("transport collapsed"))

	// No lifecycle call may leave the error state.
	assert.ErrorIs(t, p.Stop(time.Second), errors.ErrInvalidState)
	assert.Equal(t, StateError, p.State())

	assert.ErrorIs(t, p.Start(context.Background()), errors.ErrInvalidState)
	assert.Equal(t, StateError, p.State())

	assert.ErrorIs(t, p.Initialize(), errors.ErrAlreadyInitialized)
	assert.Equal(t, StateError, p.State())
}

func TestHandleMessage_LifecycleGating(t *testing.T) {
	msg := message.New(message.Command, json.RawMessage(`{"name":"status"}`))

	// Before initialize
	p := New()
	_, err := p.HandleMessage(context.Background(), msg)
	assert.ErrorIs(t, err, errors.ErrNotInitialized)

	// Initialized but not ready
	require.NoError(t, p.Initialize())
	_, err = p.HandleMessage(context.Background(), msg)
	assert.ErrorIs(t, err, errors.ErrNotReady)

	// Ready
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.RegisterHandler(message.Command, echoHandler))
	resp, err := p.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg.ID(), resp.ID)
	assert.True(t, resp.Success)
}

func TestHandleMessage_ValidationRejection(t *testing.T) {
	p := readyProtocol(t)

	// Non-object command payload is rejected before dispatch
	bad := message.New(message.Command, json.RawMessage(`[1,2]`))
	_, err := p.HandleMessage(context.Background(), bad)
	assert.ErrorIs(t, err, errors.ErrInvalidPayload)
}

func TestHandleMessage_NoHandler(t *testing.T) {
	p := readyProtocol(t)

	evt := message.New(message.Event, nil)
	_, err := p.HandleMessage(context.Background(), evt)
	assert.ErrorIs(t, err, errors.ErrHandlerNotFound)
}

func TestHandleMessage_HandlerErrorPropagates(t *testing.T) {
	p := New()
	require.NoError(t, p.Initialize())
	require.NoError(t, p.Start(context.Background()))

	handlerErr := fmt.Errorf("downstream registry rejected the command")
	require.NoError(t, p.RegisterHandler(message.Command,
		func(context.Context, *message.Message) (*Response, error) {
			return nil, handlerErr
		}))

	_, err := p.HandleMessage(context.Background(),
		message.New(message.Command, json.RawMessage(`{"name":"x"}`)))
	assert.ErrorIs(t, err, handlerErr)
}

func TestRegisterHandler(t *testing.T) {
	p := New()

	require.NoError(t, p.RegisterHandler(message.Command, echoHandler))

	// Duplicate registration
	err := p.RegisterHandler(message.Command, echoHandler)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	// Unknown type
	assert.ErrorIs(t, p.RegisterHandler(message.Unknown, echoHandler), errors.ErrInvalidFormat)

	// Nil handler
	assert.ErrorIs(t, p.RegisterHandler(message.Event, nil), errors.ErrInvalidConfig)
}

func TestUnregisterHandler(t *testing.T) {
	p := New()
	require.NoError(t, p.RegisterHandler(message.Command, echoHandler))

	require.NoError(t, p.UnregisterHandler(message.Command))

	// Second unregister fails
	assert.ErrorIs(t, p.UnregisterHandler(message.Command), errors.ErrHandlerNotFound)

	// Re-registration after unregister succeeds
	assert.NoError(t, p.RegisterHandler(message.Command, echoHandler))
}

func TestRouteMessage(t *testing.T) {
	msg := message.New(message.Command, json.RawMessage(`{"name":"status"}`))

	// Requires initialized, not ready
	p := New()
	_, err := p.RouteMessage(msg)
	assert.ErrorIs(t, err, errors.ErrNotInitialized)

	require.NoError(t, p.Initialize())
	require.NoError(t, p.RegisterHandler(message.Command, echoHandler))

	handler, err := p.RouteMessage(msg)
	require.NoError(t, err)
	require.NotNil(t, handler)

	resp, err := handler(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg.ID(), resp.ID)

	// No handler for the type
	_, err = p.RouteMessage(message.New(message.Event, nil))
	assert.ErrorIs(t, err, errors.ErrHandlerNotFound)

	// Nil message
	_, err = p.RouteMessage(nil)
	assert.ErrorIs(t, err, errors.ErrInvalidFormat)
}

func TestValidateMessage_Method(t *testing.T) {
	// ValidateMessage works before initialization using defaults
	p := New()
	ok := message.New(message.Event, nil)
	assert.NoError(t, p.ValidateMessage(ok))

	bad := message.New(message.Command, json.RawMessage(`"scalar"`))
	assert.ErrorIs(t, p.ValidateMessage(bad), errors.ErrInvalidPayload)

	// After initialization the installed config applies
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 64
	require.NoError(t, p.InitializeWithConfig(cfg))

	big := message.New(message.Event, json.RawMessage(`{"pad":"`+strings.Repeat("x", 128)+`"}`))
	assert.ErrorIs(t, p.ValidateMessage(big), errors.ErrMessageTooLarge)
}

func TestHandleMessage_ConcurrentWithRegistration(t *testing.T) {
	p := New()
	require.NoError(t, p.Initialize())
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.RegisterHandler(message.Command, echoHandler))

	msg := message.New(message.Command, json.RawMessage(`{"name":"status"}`))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				// Either the handler is fully visible or fully absent;
				// both outcomes are coherent.
				if _, err := p.HandleMessage(context.Background(), msg); err != nil {
					assert.ErrorIs(t, err, errors.ErrHandlerNotFound)
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 25; j++ {
			_ = p.UnregisterHandler(message.Command)
			_ = p.RegisterHandler(message.Command, echoHandler)
		}
	}()

	wg.Wait()
}

func TestProtocol_WithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	p := New(WithMetrics(registry.CoreMetrics()))

	require.NoError(t, p.Initialize())
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.RegisterHandler(message.Command, echoHandler))

	_, err := p.HandleMessage(context.Background(),
		message.New(message.Command, json.RawMessage(`{"name":"status"}`)))
	require.NoError(t, err)

	// Rejected message counted too
	_, err = p.HandleMessage(context.Background(),
		message.New(message.Command, json.RawMessage(`[1]`)))
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateUninitialized, "uninitialized"},
		{StateInitializing, "initializing"},
		{StateInitialized, "initialized"},
		{StateReady, "ready"},
		{StateShuttingDown, "shutting_down"},
		{StateError, "error"},
		{State(99), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.state.String())
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StateUninitialized.IsTerminal())
	assert.False(t, StateReady.IsTerminal())
	assert.True(t, StateShuttingDown.IsTerminal())
	assert.True(t, StateError.IsTerminal())
}
