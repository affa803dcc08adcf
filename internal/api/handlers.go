package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Maco21496/remindandpay-live/internal/pkg/httputil"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
	"github.com/Maco21496/remindandpay-live/internal/service/outbox"
)

// Handlers holds the admin API's dependencies. All account-scoped routes
// take the acting account via the user_id query parameter (or body field
// for enqueue-one); the ops session only proves the operator may act.
type Handlers struct {
	svc *outbox.Service
	db  *sql.DB
	log *logger.Logger
}

// NewHandlers wires the admin handlers.
func NewHandlers(svc *outbox.Service, db *sql.DB) *Handlers {
	return &Handlers{svc: svc, db: db, log: logger.New("api")}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	httputil.JSON(w, status, data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	httputil.Error(w, status, message)
}

// serviceError maps the service sentinels onto HTTP statuses.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, outbox.ErrNotFound), errors.Is(err, outbox.ErrRunNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, outbox.ErrCustomerNotFound):
		respondError(w, http.StatusNotFound, "customer not found")
	case errors.Is(err, outbox.ErrNotCancelable):
		respondError(w, http.StatusConflict, "job is not cancelable")
	case errors.Is(err, outbox.ErrNotRetryable):
		respondError(w, http.StatusConflict, "job is not retryable")
	case errors.Is(err, outbox.ErrEmptyRecipient):
		respondError(w, http.StatusUnprocessableEntity, "no recipient email")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryInt64Ptr(r *http.Request, name string) *int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// requireUserID resolves the acting account from the user_id query param.
func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return 0, false
	}
	return id, true
}

// HealthCheck pings the database.
//
//	GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable,
				map[string]string{"status": "unhealthy", "database": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListOutbox returns one page of the account's jobs.
//
//	GET /api/outbox?user_id=&status=&search=&rule_id=&run_id=&customer_id=&date_from=&date_to=&page=&per_page=
func (h *Handlers) ListOutbox(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := outbox.ListFilter{
		Status:     q.Get("status"),
		Search:     q.Get("search"),
		RuleID:     queryInt64Ptr(r, "rule_id"),
		RunID:      queryInt64Ptr(r, "run_id"),
		CustomerID: queryInt64Ptr(r, "customer_id"),
		DateFrom:   q.Get("date_from"),
		DateTo:     q.Get("date_to"),
	}

	page, err := h.svc.List(r.Context(), userID, f, queryInt(r, "page", 1), queryInt(r, "per_page", 50))
	if err != nil {
		h.log.Error("list outbox failed", "user_id", userID, "error", err.Error())
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// GetOutboxJob returns one job.
//
//	GET /api/outbox/{id}?user_id=
func (h *Handlers) GetOutboxJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.svc.Get(r.Context(), userID, id)
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// CancelJob withdraws a queued job.
//
//	POST /api/outbox/{id}/cancel?user_id=
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if err := h.svc.Cancel(r.Context(), userID, id); err != nil {
		serviceError(w, err)
		return
	}
	h.log.Info("job canceled", "job_id", id, "user_id", userID)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "canceled"})
}

// RetryJob requeues a failed job with a fresh attempt budget.
//
//	POST /api/outbox/{id}/retry?user_id=
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if err := h.svc.Retry(r.Context(), userID, id); err != nil {
		serviceError(w, err)
		return
	}
	h.log.Info("job requeued for retry", "job_id", id, "user_id", userID)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "queued"})
}

// ListRuns returns one page of the account's statement runs, newest first.
//
//	GET /api/runs?user_id=&page=&per_page=
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	page, err := h.svc.ListRuns(r.Context(), userID, queryInt(r, "page", 1), queryInt(r, "per_page", 50))
	if err != nil {
		h.log.Error("list runs failed", "user_id", userID, "error", err.Error())
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// GetRun returns one run.
//
//	GET /api/runs/{id}?user_id=
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := h.svc.GetRun(r.Context(), userID, id)
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// enqueueOneRequest is the body for a one-off statement send.
type enqueueOneRequest struct {
	UserID int64 `json:"user_id"`
	outbox.EnqueueStatementInput
}

// EnqueueOne inserts a single due-now statement email job.
//
//	POST /api/statement-reminders/enqueue-one
func (h *Handlers) EnqueueOne(w http.ResponseWriter, r *http.Request) {
	var req enqueueOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID <= 0 {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.CustomerID <= 0 {
		respondError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	jobID, err := h.svc.EnqueueStatement(r.Context(), req.UserID, req.EnqueueStatementInput)
	if err != nil {
		serviceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "job_id": jobID})
}

// EnqueueDue expands every due statement rule into a run plus jobs. The
// worker's scheduler calls the same service in-process; this route exists
// for external cron and manual triggers.
//
//	POST /api/statement-reminders/enqueue-due
func (h *Handlers) EnqueueDue(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.EnqueueDueRuns(r.Context())
	if err != nil {
		h.log.Error("enqueue-due failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "enqueue-due failed")
		return
	}
	if runs == nil {
		runs = []outbox.RunSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "runs": runs})
}
