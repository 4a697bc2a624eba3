package sync

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/vidforge/orchestrator/internal/metrics"
	"github.com/vidforge/orchestrator/internal/orcherr"
	"github.com/vidforge/orchestrator/internal/store"
)

// taskOperator is the subset of *store.Store the task-management HTTP
// surface needs. Each method is a thin wrapper over one task-store write
// (or, for ListTasks, one read) — the handlers below do no other I/O (§6).
type taskOperator interface {
	ApproveGate(ctx context.Context, id string, gate store.Gate) (*store.Task, error)
	RejectGate(ctx context.Context, id string, gate store.Gate, reason string) (*store.Task, error)
	Cancel(ctx context.Context, id string) (*store.Task, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error)
}

// approveGateRequest and rejectGateRequest mirror §6's operation signatures:
// approve_gate(task_id, gate) and reject_gate(task_id, gate, reason).
type approveGateRequest struct {
	Gate store.Gate `json:"gate"`
}

type rejectGateRequest struct {
	Gate   store.Gate `json:"gate"`
	Reason string     `json:"reason"`
}

func (ws *WebhookServer) handleApproveGate(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var in approveGateRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Gate == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	task, err := ws.tasks.ApproveGate(r.Context(), taskID, in.Gate)
	ws.writeTaskResult(w, r, "approve_gate", task, err)
}

func (ws *WebhookServer) handleRejectGate(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var in rejectGateRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Gate == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	task, err := ws.tasks.RejectGate(r.Context(), taskID, in.Gate, in.Reason)
	ws.writeTaskResult(w, r, "reject_gate", task, err)
}

func (ws *WebhookServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := ws.tasks.Cancel(r.Context(), taskID)
	ws.writeTaskResult(w, r, "cancel", task, err)
}

func (ws *WebhookServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{
		ChannelID: r.URL.Query().Get("channel_id"),
		Status:    store.Status(r.URL.Query().Get("status")),
	}

	tasks, err := ws.tasks.ListTasks(r.Context(), filter)
	if err != nil {
		ws.logger.Error().Err(err).Msg("list_tasks failed")
		metrics.RecordWebhookEvent("list_tasks", "store_error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	metrics.RecordWebhookEvent("list_tasks", "ok")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tasks)
}

// writeTaskResult translates the outcome of a gate/cancel operation into an
// HTTP response: a rejected compare-and-set (mismatched gate/status, or an
// already-terminal task) surfaces as 409, anything else unrecognized as 500.
func (ws *WebhookServer) writeTaskResult(w http.ResponseWriter, r *http.Request, op string, task *store.Task, err error) {
	if err != nil {
		var conflict *orcherr.ConflictError
		var validation *orcherr.ValidationError
		switch {
		case errors.As(err, &conflict):
			metrics.RecordWebhookEvent(op, "conflict")
			http.Error(w, conflict.Error(), http.StatusConflict)
		case errors.As(err, &validation):
			metrics.RecordWebhookEvent(op, "bad_request")
			http.Error(w, validation.Error(), http.StatusBadRequest)
		default:
			ws.logger.Error().Err(err).Str("op", op).Msg("task operation failed")
			metrics.RecordWebhookEvent(op, "store_error")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	metrics.RecordWebhookEvent(op, "ok")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(task)
}
