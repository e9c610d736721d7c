package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DataScienceBioLab/squirrel/message"
	"github.com/DataScienceBioLab/squirrel/protocol"
	"github.com/DataScienceBioLab/squirrel/session"
)

// sessionHandlers bridges protocol messages to the session layer. The
// payload of a command or request names an action plus its arguments.
type sessionHandlers struct {
	manager     *session.StateManager
	persistence *session.StatePersistence
	recovery    *session.StateRecovery
	logger      *slog.Logger
}

func newSessionHandlers(
	manager *session.StateManager,
	persistence *session.StatePersistence,
	recovery *session.StateRecovery,
	logger *slog.Logger,
) *sessionHandlers {
	return &sessionHandlers{
		manager:     manager,
		persistence: persistence,
		recovery:    recovery,
		logger:      logger,
	}
}

type commandPayload struct {
	Action   string         `json:"action"`
	Name     string         `json:"name,omitempty"`
	From     string         `json:"from,omitempty"`
	To       string         `json:"to,omitempty"`
	PointID  string         `json:"point_id,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleCommand executes state-changing actions.
func (h *sessionHandlers) handleCommand(ctx context.Context, msg *message.Message) (*protocol.Response, error) {
	var cmd commandPayload
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		return failure(msg, fmt.Sprintf("malformed command payload: %v", err)), nil
	}

	switch cmd.Action {
	case "register_state":
		st := session.NewState(cmd.Name, cmd.Data)
		if err := h.manager.RegisterState(st); err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, map[string]any{"id": st.ID, "version": st.Version})

	case "register_transition":
		err := h.manager.RegisterTransition(session.StateTransition{
			FromState: cmd.From,
			ToState:   cmd.To,
		})
		if err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, nil)

	case "transition":
		if err := h.manager.TransitionState(cmd.From, cmd.To, cmd.Metadata); err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, nil)

	case "save_state":
		st, err := h.manager.GetState(cmd.Name)
		if err != nil {
			return failure(msg, err.Error()), nil
		}
		if err := h.persistence.SaveState(ctx, st); err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, map[string]any{"version": st.Version})

	case "delete_state":
		if err := h.persistence.DeleteState(ctx, cmd.Name); err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, nil)

	case "create_recovery_point":
		st, err := h.manager.GetState(cmd.Name)
		if err != nil {
			return failure(msg, err.Error()), nil
		}
		point, err := h.recovery.CreateRecoveryPoint(ctx, st, session.RecoveryMetadata{
			Reason: cmd.Reason,
		})
		if err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, map[string]any{"point_id": point.ID})

	case "recover_state":
		st, err := h.recovery.RecoverState(ctx, cmd.Name, cmd.PointID)
		if err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, map[string]any{"version": st.Version, "data": st.Data})

	default:
		return failure(msg, fmt.Sprintf("unknown command action %q", cmd.Action)), nil
	}
}

// handleRequest serves read-only queries.
func (h *sessionHandlers) handleRequest(ctx context.Context, msg *message.Message) (*protocol.Response, error) {
	var req commandPayload
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		return failure(msg, fmt.Sprintf("malformed request payload: %v", err)), nil
	}

	switch req.Action {
	case "get_state":
		st, err := h.manager.GetState(req.Name)
		if err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, st)

	case "load_state":
		st, err := h.persistence.LoadState(ctx, req.Name)
		if err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, st)

	case "list_states":
		names, err := h.persistence.ListStates(ctx)
		if err != nil {
			return failure(msg, err.Error()), nil
		}
		return success(msg, map[string]any{"names": names})

	case "get_history":
		return success(msg, map[string]any{"history": h.manager.GetHistory()})

	case "list_recovery_points":
		return success(msg, map[string]any{"points": h.recovery.ListRecoveryPoints(req.Name)})

	default:
		return failure(msg, fmt.Sprintf("unknown request action %q", req.Action)), nil
	}
}

func success(msg *message.Message, payload any) (*protocol.Response, error) {
	resp := &protocol.Response{ID: msg.ID(), Success: true}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal response payload: %w", err)
		}
		resp.Payload = data
	}
	return resp, nil
}

func failure(msg *message.Message, reason string) *protocol.Response {
	return &protocol.Response{ID: msg.ID(), Success: false, Error: reason}
}
