package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	sonic "github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/prospectdb/prospect-stats/internal/domain/source"
	"github.com/prospectdb/prospect-stats/internal/platform/logging"
	"github.com/prospectdb/prospect-stats/internal/usecase"
)

const maxRefreshBodyBytes = 1 << 20

type Handler struct {
	aggregatorService *usecase.AggregatorService
	refreshService    *usecase.RefreshService
	statusService     *usecase.SourceStatusService
	logger            *logging.Logger
	validator         *validator.Validate
}

func NewHandler(
	aggregatorService *usecase.AggregatorService,
	refreshService *usecase.RefreshService,
	statusService *usecase.SourceStatusService,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		aggregatorService: aggregatorService,
		refreshService:    refreshService,
		statusService:     statusService,
		logger:            logger,
		validator:         validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SearchEntities(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.SearchEntities")
	defer span.End()

	params := map[string]string{"name": r.URL.Query().Get("name")}
	if season := strings.TrimSpace(r.URL.Query().Get("season")); season != "" {
		params["season"] = season
	}
	if region := strings.TrimSpace(r.URL.Query().Get("region")); region != "" {
		params["region"] = region
	}

	response, err := h.aggregatorService.Query(ctx, source.QueryRequest{
		Kind:             source.KindSearch,
		Parameters:       params,
		RequestedSources: splitCSV(r.URL.Query().Get("sources")),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "entity search failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, response)
}

func (h *Handler) GetEntityStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetEntityStats")
	defer span.End()

	params := map[string]string{"entityId": r.PathValue("entityID")}
	if season := strings.TrimSpace(r.URL.Query().Get("season")); season != "" {
		params["season"] = season
	}

	response, err := h.aggregatorService.Query(ctx, source.QueryRequest{
		Kind:             source.KindEntityStats,
		Parameters:       params,
		RequestedSources: splitCSV(r.URL.Query().Get("sources")),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "entity stats failed", "entity_id", params["entityId"], "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, response)
}

func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetLeaderboard")
	defer span.End()

	params := map[string]string{"stat": r.PathValue("stat")}
	if season := strings.TrimSpace(r.URL.Query().Get("season")); season != "" {
		params["season"] = season
	}
	if limit := strings.TrimSpace(r.URL.Query().Get("limit")); limit != "" {
		params["limit"] = limit
	}

	response, err := h.aggregatorService.Query(ctx, source.QueryRequest{
		Kind:             source.KindLeaderboard,
		Parameters:       params,
		RequestedSources: splitCSV(r.URL.Query().Get("sources")),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "leaderboard failed", "stat", params["stat"], "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, response)
}

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListSources")
	defer span.End()

	probe := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("probe")), "true")
	statuses := h.statusService.List(ctx, probe)

	writeSuccess(ctx, w, http.StatusOK, statuses)
}

type refreshQueryDTO struct {
	Kind       string            `json:"kind" validate:"required,oneof=search entityStats leaderboard"`
	Parameters map[string]string `json:"parameters" validate:"required"`
	Sources    []string          `json:"sources"`
}

type refreshRequestDTO struct {
	Queries    []refreshQueryDTO `json:"queries" validate:"required,min=1,dive"`
	MaxWorkers int               `json:"maxWorkers" validate:"gte=0,lte=16"`
	Invalidate bool              `json:"invalidate"`
	DryRun     bool              `json:"dryRun"`
}

func (h *Handler) RunRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunRefresh")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRefreshBodyBytes))
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: read request body: %v", usecase.ErrInvalidInput, err))
		return
	}

	var payload refreshRequestDTO
	if err := sonic.Unmarshal(body, &payload); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: decode request body: %v", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validator.StructCtx(ctx, payload); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: %v", usecase.ErrInvalidInput, err))
		return
	}

	queries := make([]source.QueryRequest, 0, len(payload.Queries))
	for _, q := range payload.Queries {
		queries = append(queries, source.QueryRequest{
			Kind:             source.QueryKind(q.Kind),
			Parameters:       q.Parameters,
			RequestedSources: q.Sources,
		})
	}

	result, err := h.refreshService.Run(ctx, usecase.RefreshInput{
		Queries:    queries,
		MaxWorkers: payload.MaxWorkers,
		Invalidate: payload.Invalidate,
		DryRun:     payload.DryRun,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "refresh run failed", "queries", len(queries), "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, result)
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
