package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/testdeck/testdeck/internal/compare"
	"github.com/testdeck/testdeck/internal/domain"
	"github.com/testdeck/testdeck/internal/scheduler"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	CreateTrigger(ctx context.Context, trg domain.Trigger) error
	GetTriggerByID(ctx context.Context, triggerID uuid.UUID) (domain.Trigger, error)
	ListTriggers(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]domain.Trigger, error)
	UpdateTrigger(ctx context.Context, trg domain.Trigger) error
	DeleteTrigger(ctx context.Context, triggerID, projectID uuid.UUID) error
	InsertExecution(ctx context.Context, exec domain.Execution) error
	ListExecutions(ctx context.Context, triggerID uuid.UUID, limit, offset int) ([]domain.Execution, error)
	GetRunResults(ctx context.Context, runID uuid.UUID) (map[string]domain.CaseResult, error)
}

// EventEmitter defines the interface for emitting trigger events.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// OccurrenceComputer resolves the next occurrence of a recurrence.
// Satisfied by *scheduler.Scheduler, which also handles cron kinds.
type OccurrenceComputer interface {
	NextOccurrence(r domain.Recurrence, now time.Time) (time.Time, error)
}

// MetricsSink records API-side metrics. Methods must not block.
type MetricsSink interface {
	ComparisonComputed(duration time.Duration)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store       Store
	emitter     EventEmitter
	occurrences OccurrenceComputer
	projectID   uuid.UUID // single-tenant for now
	db          HealthChecker
	metrics     MetricsSink // optional, nil = disabled
	clock       func() time.Time
}

func NewHandler(store Store, emitter EventEmitter, occurrences OccurrenceComputer, projectID uuid.UUID) *Handler {
	return &Handler{
		store:       store,
		emitter:     emitter,
		occurrences: occurrences,
		projectID:   projectID,
		clock:       time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithMetrics attaches a metrics sink to the handler.
func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/triggers" && r.Method == http.MethodPost:
		h.createTrigger(w, r)

	case path == "/triggers" && r.Method == http.MethodGet:
		h.listTriggers(w, r)

	case strings.HasSuffix(path, "/executions") && r.Method == http.MethodGet:
		h.listExecutions(w, r)

	case strings.HasSuffix(path, "/fire") && r.Method == http.MethodPost:
		h.fireTrigger(w, r)

	case strings.HasPrefix(path, "/triggers/") && r.Method == http.MethodPatch:
		h.updateTrigger(w, r)

	case strings.HasPrefix(path, "/triggers/") && r.Method == http.MethodDelete:
		h.deleteTrigger(w, r)

	case path == "/runs/compare" && r.Method == http.MethodGet:
		h.compareRuns(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createTrigger(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()

	trg := domain.Trigger{
		ID:         uuid.New(),
		ProjectID:  h.projectID,
		Name:       req.Name,
		PlanID:     uuid.MustParse(req.PlanID), // validated above
		Recurrence: parseRecurrence(req.Recurrence),
		Function: domain.FunctionConfig{
			URL:     req.FunctionURL,
			Secret:  req.FunctionSecret,
			Timeout: functionTimeout(req.FunctionTimeout),
		},
		IsActive:  true,
		Analytics: parseAnalyticsConfig(req.Analytics),
		CreatedAt: now,
		UpdatedAt: now,
	}

	next, err := h.occurrences.NextOccurrence(trg.Recurrence, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trg.NextRunAt = &next

	if err := h.store.CreateTrigger(r.Context(), trg); err != nil {
		log.Printf("api: create trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create trigger")
		return
	}

	writeJSON(w, http.StatusCreated, triggerResponse(trg))
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	triggers, err := h.store.ListTriggers(r.Context(), h.projectID, limit, offset)
	if err != nil {
		log.Printf("api: list triggers error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, len(triggers))}
	for i, trg := range triggers {
		resp.Triggers[i] = triggerResponse(trg)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID, ok := parseTriggerPath(w, r, 2)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req UpdateTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateUpdateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trg, err := h.store.GetTriggerByID(r.Context(), triggerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: get trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update trigger")
		return
	}
	if trg.ProjectID != h.projectID {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}

	if req.Name != nil {
		trg.Name = *req.Name
	}
	if req.Recurrence != nil {
		trg.Recurrence = parseRecurrence(*req.Recurrence)
	}
	if req.FunctionURL != nil {
		trg.Function.URL = *req.FunctionURL
	}
	if req.FunctionSecret != nil {
		trg.Function.Secret = *req.FunctionSecret
	}
	if req.FunctionTimeout != nil {
		trg.Function.Timeout = functionTimeout(*req.FunctionTimeout)
	}
	if req.IsActive != nil {
		trg.IsActive = *req.IsActive
	}

	now := h.clock().UTC()
	trg.UpdatedAt = now

	// Recurrence or activation changes invalidate the stored occurrence.
	if req.Recurrence != nil || req.IsActive != nil {
		if trg.IsActive {
			next, err := h.occurrences.NextOccurrence(trg.Recurrence, now)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			trg.NextRunAt = &next
		} else {
			trg.NextRunAt = nil
		}
	}

	if err := h.store.UpdateTrigger(r.Context(), trg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: update trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update trigger")
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse(trg))
}

func (h *Handler) fireTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID, ok := parseTriggerPath(w, r, 3)
	if !ok {
		return
	}

	trg, err := h.store.GetTriggerByID(r.Context(), triggerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: get trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fire trigger")
		return
	}
	if trg.ProjectID != h.projectID {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}

	now := h.clock().UTC()
	exec := domain.Execution{
		ID:          uuid.New(),
		TriggerID:   trg.ID,
		ProjectID:   trg.ProjectID,
		ScheduledAt: now,
		FiredAt:     now,
		Source:      domain.SourceManual,
		Status:      domain.ExecutionStatusPending,
		CreatedAt:   now,
	}

	if err := h.store.InsertExecution(r.Context(), exec); err != nil {
		if errors.Is(err, scheduler.ErrDuplicateExecution) {
			writeError(w, http.StatusConflict, "execution already exists for this instant")
			return
		}
		log.Printf("api: insert execution error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fire trigger")
		return
	}

	event := domain.TriggerEvent{
		ExecutionID:    exec.ID,
		TriggerID:      trg.ID,
		ProjectID:      trg.ProjectID,
		ScheduledAt:    exec.ScheduledAt,
		FiredAt:        exec.FiredAt,
		Source:         domain.SourceManual,
		IdempotencyKey: scheduler.IdempotencyKey(trg.ID, exec.ScheduledAt),
		CreatedAt:      now,
	}

	if err := h.emitter.Emit(r.Context(), event); err != nil {
		// Execution row is persisted; the reconciler re-emits it later.
		log.Printf("api: emit manual fire trigger=%s: %v", trg.ID, err)
	}

	writeJSON(w, http.StatusAccepted, ExecutionResponse{
		ID:          exec.ID.String(),
		TriggerID:   exec.TriggerID.String(),
		ScheduledAt: formatTime(exec.ScheduledAt),
		FiredAt:     formatTime(exec.FiredAt),
		Source:      string(exec.Source),
		Status:      string(exec.Status),
		CreatedAt:   formatTime(exec.CreatedAt),
	})
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	triggerID, ok := parseTriggerPath(w, r, 3)
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	executions, err := h.store.ListExecutions(r.Context(), triggerID, limit, offset)
	if err != nil {
		log.Printf("api: list executions error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := ListExecutionsResponse{Executions: make([]ExecutionResponse, len(executions))}
	for i, exec := range executions {
		resp.Executions[i] = ExecutionResponse{
			ID:          exec.ID.String(),
			TriggerID:   exec.TriggerID.String(),
			ScheduledAt: formatTime(exec.ScheduledAt),
			FiredAt:     formatTime(exec.FiredAt),
			Source:      string(exec.Source),
			Status:      string(exec.Status),
			Error:       exec.ErrorMessage,
			CreatedAt:   formatTime(exec.CreatedAt),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID, ok := parseTriggerPath(w, r, 2)
	if !ok {
		return
	}

	if err := h.store.DeleteTrigger(r.Context(), triggerID, h.projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: delete trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete trigger")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) compareRuns(w http.ResponseWriter, r *http.Request) {
	baselineID, err := uuid.Parse(r.URL.Query().Get("baseline"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid baseline run id")
		return
	}
	compareID, err := uuid.Parse(r.URL.Query().Get("compare"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid compare run id")
		return
	}

	baseline, err := h.store.GetRunResults(r.Context(), baselineID)
	if err != nil {
		log.Printf("api: get baseline run %s: %v", baselineID, err)
		writeError(w, http.StatusInternalServerError, "failed to load baseline run")
		return
	}
	comparison, err := h.store.GetRunResults(r.Context(), compareID)
	if err != nil {
		log.Printf("api: get compare run %s: %v", compareID, err)
		writeError(w, http.StatusInternalServerError, "failed to load compare run")
		return
	}

	start := h.clock()
	result, err := compare.CompareRuns(baseline, comparison)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.metrics != nil {
		h.metrics.ComparisonComputed(h.clock().Sub(start))
	}

	resp := ComparisonResponse{
		BaselineRunID: baselineID.String(),
		CompareRunID:  compareID.String(),
		Entries:       make([]ComparisonEntryResponse, len(result.Entries)),
		Stats: ComparisonStatsResponse{
			Regressed:        result.Stats.Regressed,
			Improved:         result.Stats.Improved,
			New:              result.Stats.New,
			Removed:          result.Stats.Removed,
			Same:             result.Stats.Same,
			BaselinePassRate: result.Stats.BaselinePassRate,
			ComparePassRate:  result.Stats.ComparePassRate,
			PassRateDelta:    result.Stats.PassRateDelta,
		},
	}
	for i, e := range result.Entries {
		resp.Entries[i] = ComparisonEntryResponse{
			TestCaseID:     e.TestCaseID,
			Title:          e.Title,
			ReadableID:     e.ReadableID,
			BaselineStatus: statusString(e.BaselineStatus),
			CompareStatus:  statusString(e.CompareStatus),
			Classification: string(e.Classification),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseTriggerPath extracts the trigger ID from /triggers/{id} or
// /triggers/{id}/{action} paths. wantParts is the expected segment count.
func parseTriggerPath(w http.ResponseWriter, r *http.Request, wantParts int) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != wantParts || parts[0] != "triggers" {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}

	triggerID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return uuid.Nil, false
	}
	return triggerID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func triggerResponse(trg domain.Trigger) TriggerResponse {
	resp := TriggerResponse{
		ID:        trg.ID.String(),
		ProjectID: trg.ProjectID.String(),
		Name:      trg.Name,
		PlanID:    trg.PlanID.String(),
		Recurrence: RecurrenceResponse{
			Kind:           string(trg.Recurrence.Kind),
			Hour:           trg.Recurrence.Hour,
			Minute:         trg.Recurrence.Minute,
			DayOfWeek:      trg.Recurrence.DayOfWeek,
			Timezone:       trg.Recurrence.Timezone,
			CronExpression: trg.Recurrence.CronExpression,
		},
		FunctionURL: trg.Function.URL,
		IsActive:    trg.IsActive,
		CreatedAt:   formatTime(trg.CreatedAt),
	}
	if trg.NextRunAt != nil {
		resp.NextRunAt = formatTime(*trg.NextRunAt)
	}
	return resp
}

func parseRecurrence(r RecurrenceRequest) domain.Recurrence {
	rec := domain.Recurrence{
		Kind:           domain.RecurrenceKind(r.Kind),
		Hour:           r.Hour,
		Minute:         r.Minute,
		Timezone:       r.Timezone,
		CronExpression: r.CronExpression,
	}
	if r.DayOfWeek != nil {
		rec.DayOfWeek = *r.DayOfWeek
	}
	return rec
}

// parseAnalyticsConfig converts a validated AnalyticsRequest to domain config.
// If analytics is nil, returns a disabled config.
func parseAnalyticsConfig(a *AnalyticsRequest) domain.AnalyticsConfig {
	if a == nil {
		return domain.AnalyticsConfig{}
	}
	retention := 24 * time.Hour
	if a.RetentionSeconds > 0 {
		retention = time.Duration(a.RetentionSeconds) * time.Second
	}
	return domain.AnalyticsConfig{
		Enabled:   true,
		Type:      domain.AnalyticsTypeCount,
		Window:    time.Minute,
		Retention: retention,
	}
}

func functionTimeout(seconds int) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 30 * time.Second
}

func statusString(s *domain.CaseStatus) string {
	if s == nil {
		return ""
	}
	return string(*s)
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
