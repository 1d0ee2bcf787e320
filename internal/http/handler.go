package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/davidbz/howl/internal/cache"
	"github.com/davidbz/howl/internal/classify"
	"github.com/davidbz/howl/internal/domain"
	"github.com/davidbz/howl/internal/experiment"
	"github.com/davidbz/howl/internal/observability"
	"github.com/davidbz/howl/internal/routing"
	"github.com/davidbz/howl/internal/version"
)

// Handler handles HTTP requests.
type Handler struct {
	router      *routing.Router
	versions    *version.Manager
	experiments *experiment.Controller
	registry    domain.ProviderRegistry
	recorder    domain.UsageRecorder
	responses   *cache.ResponseCache
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	router *routing.Router,
	versions *version.Manager,
	experiments *experiment.Controller,
	registry domain.ProviderRegistry,
	recorder domain.UsageRecorder,
	responses *cache.ResponseCache,
) *Handler {
	return &Handler{
		router:      router,
		versions:    versions,
		experiments: experiments,
		registry:    registry,
		recorder:    recorder,
		responses:   responses,
	}
}

// HandleRoute processes completion requests through the full routing path:
// classification, version resolution, provider selection and the fallback
// cascade.
func (h *Handler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "at least one message is required", http.StatusBadRequest)
		return
	}

	if req.Category == "" {
		req.Category = classify.Classify(req.PromptText())
	}
	ctx = observability.WithTaskDomain(ctx, string(req.Category))

	// No explicit model: the version manager resolves which variant serves
	// this (domain, user) pair.
	if req.Model == "" {
		v, err := h.versions.SelectVersion(ctx, string(req.Category), req.UserID)
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}
		req.Model = v.BaseModel
	}

	logger := observability.FromContext(ctx)
	logger.Info("route request received",
		zap.String("model", req.Model),
		zap.String("category", string(req.Category)),
		zap.Bool("stream", req.Stream),
	)

	if req.Stream {
		h.handleStream(ctx, w, &req)
		return
	}

	if cached, err := h.responses.Get(ctx, &req); err == nil {
		w.Header().Set("X-Cache", "hit")
		h.writeJSON(ctx, w, http.StatusOK, cached)
		return
	}

	response, err := h.router.Route(ctx, &req)
	if err != nil {
		logger.Error("routing failed", zap.Error(err))
		h.writeError(ctx, w, err)
		return
	}

	if err := h.responses.Set(ctx, &req, response); err != nil {
		logger.Warn("response not cached", zap.Error(err))
	}

	logger.Info("route request succeeded",
		zap.String("provider", response.Provider),
		zap.Int("tokens", response.Usage.TotalTokens),
		zap.Bool("fallback", response.Fallback),
	)
	h.writeJSON(ctx, w, http.StatusOK, response)
}

func (h *Handler) handleStream(ctx context.Context, w http.ResponseWriter, req *domain.CompletionRequest) {
	logger := observability.FromContext(ctx)
	logger.Info("stream request started")

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	chunks, err := h.router.Stream(ctx, req)
	if err != nil {
		logger.Error("stream failed", zap.Error(err))
		h.writeError(ctx, w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	for chunk := range chunks {
		if chunk.Error != nil {
			logger.Error("stream chunk error", zap.Error(chunk.Error))
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", chunk.Error.Error())
			flusher.Flush()
			return
		}

		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", string(data))
		flusher.Flush()

		if chunk.Done {
			logger.Info("stream completed")
			break
		}
	}
}

// HandleCreateExperiment creates a multi-variant experiment.
func (h *Handler) HandleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var exp domain.Experiment
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.experiments.CreateExperiment(ctx, &exp); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, exp)
}

// HandleAssignVariant resolves the sticky variant for a user.
func (h *Handler) HandleAssignVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	experimentID := r.PathValue("id")
	ctx = observability.WithExperiment(ctx, experimentID)

	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	assignment, variant, err := h.experiments.AssignVariant(ctx, experimentID, body.UserID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"variant_id":   assignment.VariantID,
		"variant_name": variant.Name,
		"config":       variant.Config,
		"assigned_at":  assignment.AssignedAt,
	})
}

// HandleRecordResult appends an outcome record for an assignment.
func (h *Handler) HandleRecordResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	experimentID := r.PathValue("id")
	ctx = observability.WithExperiment(ctx, experimentID)

	var record domain.ResultRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	record.ExperimentID = experimentID

	if record.VariantID == "" || record.UserID == "" {
		http.Error(w, "variant_id and user_id are required", http.StatusBadRequest)
		return
	}

	if err := h.experiments.RecordResult(ctx, record); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// HandleExperimentResults returns per-variant rollups with significance.
func (h *Handler) HandleExperimentResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	experimentID := r.PathValue("id")
	ctx = observability.WithExperiment(ctx, experimentID)

	results, err := h.experiments.GetExperimentResults(ctx, experimentID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, results)
}

// HandleCompleteExperiment concludes an experiment with its current winner.
func (h *Handler) HandleCompleteExperiment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	experimentID := r.PathValue("id")
	ctx = observability.WithExperiment(ctx, experimentID)

	results, err := h.experiments.Complete(ctx, experimentID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, results)
}

// HandleRegisterVersion upserts a model version.
func (h *Handler) HandleRegisterVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var v domain.ModelVersion
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.versions.RegisterVersion(ctx, v); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, map[string]string{"status": "registered"})
}

// HandleListVersions lists a domain's versions.
func (h *Handler) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	versions, err := h.versions.ListVersions(ctx, r.PathValue("domain"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, versions)
}

// HandleSetTraffic updates one version's traffic share.
func (h *Handler) HandleSetTraffic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		TrafficPercent float64 `json:"traffic_percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.versions.SetTrafficPercent(ctx, r.PathValue("domain"), r.PathValue("name"), body.TrafficPercent); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "updated"})
}

// HandleRollback atomically retires one version and activates another.
func (h *Handler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.From == "" || body.To == "" {
		http.Error(w, "from and to versions are required", http.StatusBadRequest)
		return
	}

	if err := h.versions.Rollback(ctx, r.PathValue("domain"), body.From, body.To); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "rolled_back"})
}

// HandleProviders reports registered providers with their rolling stats.
func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names, err := h.registry.List(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	type providerStatus struct {
		Name      string               `json:"name"`
		Available bool                 `json:"available"`
		Models    []domain.ModelInfo   `json:"models"`
		Stats     domain.ProviderStats `json:"stats"`
	}

	out := make([]providerStatus, 0, len(names))
	for _, name := range names {
		p, getErr := h.registry.Get(ctx, name)
		if getErr != nil {
			continue
		}
		out = append(out, providerStatus{
			Name:      name,
			Available: p.IsAvailable(ctx),
			Models:    p.Models(ctx),
			Stats:     h.recorder.Stats(name),
		})
	}
	h.writeJSON(ctx, w, http.StatusOK, out)
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		// Already written status, can't change it, just log.
		return
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.FromContext(ctx).Error("failed to encode response", zap.Error(err))
	}
}

// writeError maps domain errors onto HTTP status codes.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var allFailed *domain.AllProvidersFailedError
	switch {
	case errors.Is(err, domain.ErrExperimentNotFound),
		errors.Is(err, domain.ErrVersionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTrafficAllocation),
		errors.Is(err, domain.ErrInvalidTrafficPercent):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientSampleSize):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNoProvidersAvailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &allFailed):
		status = http.StatusBadGateway
	}

	observability.FromContext(ctx).Warn("request failed",
		zap.Int("status", status),
		zap.Error(err))
	http.Error(w, err.Error(), status)
}
