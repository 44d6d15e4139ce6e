// Package handler содержит HTTP-обработчики API движка сегментации и доступности наград.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/bulk"
	"github.com/mmeshcher/loyalty-engine/internal/eligibility"
	"github.com/mmeshcher/loyalty-engine/internal/model"
	"github.com/mmeshcher/loyalty-engine/internal/pos"
	"github.com/mmeshcher/loyalty-engine/internal/progress"
	"github.com/mmeshcher/loyalty-engine/internal/rewards"
	"github.com/mmeshcher/loyalty-engine/internal/service"
	"github.com/mmeshcher/loyalty-engine/internal/session"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListRewards(ctx context.Context, merchantID, cursor string, limit int, q rewards.Query) (service.RewardsPage, error)
	RewardEligibility(ctx context.Context, merchantID, rewardID string) (eligibility.Stats, error)
	BulkDelete(ctx context.Context, merchantID string, ids []string) (bulk.Result, error)
	BulkSetActive(ctx context.Context, merchantID string, ids []string, active bool) (bulk.Result, error)

	CreateSession(merchantID string) (*session.Session, error)
	CloseSession(merchantID, sessionID string) error
	SessionRewards(ctx context.Context, merchantID, sessionID string, limit int, q rewards.Query) (service.RewardsPage, error)
	SessionEligibility(ctx context.Context, merchantID, sessionID, rewardID string) (eligibility.Stats, error)
	SessionBulkDelete(ctx context.Context, merchantID, sessionID string, ids []string) (bulk.Result, error)

	Customers(ctx context.Context, merchantID, tab string) ([]model.Customer, error)
	CohortCounts(ctx context.Context, merchantID string) (service.CohortCounts, error)

	Programs(ctx context.Context, merchantID string) ([]model.Program, error)
	ProgramSummary(ctx context.Context, merchantID string) (progress.Summary, error)
	ProgramCustomers(ctx context.Context, merchantID, programID string) (progress.CustomerTable, error)
	CustomerProgress(ctx context.Context, merchantID, programID, customerID string) (progress.View, error)
}

// Handler реализует HTTP-обработчики API движка.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: s,
		logger:  logger,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// writeError отображает доменную ошибку на HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var rateLimited *pos.RateLimitError
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.As(err, &rateLimited):
		if rateLimited.RetryAfter > 0 {
			secs := int(math.Ceil(rateLimited.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	case errors.Is(err, model.ErrUpstreamUnavailable):
		h.logger.Warn(op+" upstream unavailable", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled):
		// клиент ушёл, отвечать некому
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func failedMessages(p model.PartialFailure) map[string]string {
	out := make(map[string]string, len(p))
	for id, err := range p {
		out[id] = err.Error()
	}
	return out
}

// Health отвечает на проверку живости.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type rewardResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Type              string     `json:"type,omitempty"`
	ProgramType       string     `json:"programType,omitempty"`
	Category          string     `json:"category"`
	PointsCost        int        `json:"pointsCost"`
	RedemptionCount   int        `json:"redemptionCount"`
	IsActive          bool       `json:"isActive"`
	CreatedAt         string     `json:"createdAt"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty"`
	LastRedeemedAt    *time.Time `json:"lastRedeemedAt,omitempty"`
	Impressions       int        `json:"impressions"`
	UniqueCustomerIDs []string   `json:"uniqueCustomerIds,omitempty"`
}

type rewardsPageResponse struct {
	Rewards    []rewardResponse `json:"rewards"`
	NextCursor string           `json:"nextCursor,omitempty"`
	HasMore    bool             `json:"hasMore"`
}

func newRewardsPageResponse(page service.RewardsPage) rewardsPageResponse {
	resp := rewardsPageResponse{
		Rewards:    make([]rewardResponse, 0, len(page.Rewards)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, rw := range page.Rewards {
		resp.Rewards = append(resp.Rewards, rewardResponse{
			ID:                rw.ID,
			Name:              rw.Name,
			Description:       rw.Description,
			Type:              rw.Type,
			ProgramType:       string(rw.ProgramType),
			Category:          string(rw.Category),
			PointsCost:        rw.PointsCost,
			RedemptionCount:   rw.RedemptionCount,
			IsActive:          rw.IsActive,
			CreatedAt:         rw.CreatedAt.Format(time.RFC3339),
			UpdatedAt:         rw.UpdatedAt,
			LastRedeemedAt:    rw.LastRedeemedAt,
			Impressions:       rw.Impressions,
			UniqueCustomerIDs: rw.UniqueCustomerIDs,
		})
	}
	return resp
}

// parseListQuery разбирает limit, category, q, sort и order из строки запроса.
func parseListQuery(r *http.Request) (int, rewards.Query, error) {
	values := r.URL.Query()

	limit := 0
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, rewards.Query{}, model.ErrInvalidArgument
		}
		limit = n
	}

	sort, err := rewards.ParseSort(values.Get("sort"), values.Get("order"))
	if err != nil {
		return 0, rewards.Query{}, err
	}

	return limit, rewards.Query{
		Category: values.Get("category"),
		Search:   values.Get("q"),
		Sort:     sort,
	}, nil
}

// ListRewards возвращает страницу наград мерчанта.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	limit, q, err := parseListQuery(r)
	if err != nil {
		h.writeError(w, "list rewards", err)
		return
	}

	page, err := h.service.ListRewards(r.Context(), chi.URLParam(r, "merchantID"), r.URL.Query().Get("cursor"), limit, q)
	if err != nil {
		h.writeError(w, "list rewards", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newRewardsPageResponse(page))
}

// RewardEligibility считает доступность награды без кэша.
func (h *Handler) RewardEligibility(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.RewardEligibility(r.Context(), chi.URLParam(r, "merchantID"), chi.URLParam(r, "rewardID"))
	if err != nil {
		h.writeError(w, "reward eligibility", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newEligibilityResponse(stats))
}

type eligibilityResponse struct {
	eligibility.Stats
	Partial bool              `json:"partial"`
	Failed  map[string]string `json:"failed"`
}

func newEligibilityResponse(stats eligibility.Stats) eligibilityResponse {
	if stats.EligibleCustomers == nil {
		stats.EligibleCustomers = []model.CustomerSummary{}
	}
	return eligibilityResponse{Stats: stats, Partial: stats.Partial(), Failed: failedMessages(stats.Failed)}
}

type bulkRequest struct {
	IDs    []string `json:"ids"`
	Active *bool    `json:"active,omitempty"`
}

type bulkResponse struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

func newBulkResponse(res bulk.Result) bulkResponse {
	succeeded := res.Succeeded
	if succeeded == nil {
		succeeded = []string{}
	}
	return bulkResponse{Succeeded: succeeded, Failed: failedMessages(res.Failed)}
}

func decodeBulkRequest(r *http.Request) (bulkRequest, bool) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return bulkRequest{}, false
	}
	return req, len(req.IDs) > 0
}

// BulkDelete удаляет набор наград.
func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBulkRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.BulkDelete(r.Context(), chi.URLParam(r, "merchantID"), req.IDs)
	if err != nil {
		h.writeError(w, "bulk delete", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newBulkResponse(res))
}

// BulkSetActive включает или выключает набор наград.
func (h *Handler) BulkSetActive(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBulkRequest(r)
	if !ok || req.Active == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.BulkSetActive(r.Context(), chi.URLParam(r, "merchantID"), req.IDs, *req.Active)
	if err != nil {
		h.writeError(w, "bulk set active", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newBulkResponse(res))
}

type sessionResponse struct {
	ID         string `json:"id"`
	MerchantID string `json:"merchantId"`
	CreatedAt  string `json:"createdAt"`
}

// CreateSession открывает сессию просмотра.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.CreateSession(chi.URLParam(r, "merchantID"))
	if err != nil {
		h.writeError(w, "create session", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sessionResponse{
		ID:         sess.ID,
		MerchantID: sess.MerchantID,
		CreatedAt:  sess.CreatedAt.Format(time.RFC3339),
	})
}

// CloseSession закрывает сессию просмотра.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseSession(chi.URLParam(r, "merchantID"), chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, "close session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionRewards догружает страницу в сессию и возвращает накопленный список.
func (h *Handler) SessionRewards(w http.ResponseWriter, r *http.Request) {
	limit, q, err := parseListQuery(r)
	if err != nil {
		h.writeError(w, "session rewards", err)
		return
	}

	page, err := h.service.SessionRewards(r.Context(), chi.URLParam(r, "merchantID"), chi.URLParam(r, "sessionID"), limit, q)
	if err != nil {
		h.writeError(w, "session rewards", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRewardsPageResponse(page))
}

// SessionEligibility возвращает доступность награды из кэша сессии.
func (h *Handler) SessionEligibility(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.SessionEligibility(r.Context(),
		chi.URLParam(r, "merchantID"), chi.URLParam(r, "sessionID"), chi.URLParam(r, "rewardID"))
	if err != nil {
		h.writeError(w, "session eligibility", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newEligibilityResponse(stats))
}

// SessionBulkDelete удаляет награды в рамках сессии.
func (h *Handler) SessionBulkDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBulkRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.SessionBulkDelete(r.Context(), chi.URLParam(r, "merchantID"), chi.URLParam(r, "sessionID"), req.IDs)
	if err != nil {
		h.writeError(w, "session bulk delete", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newBulkResponse(res))
}
