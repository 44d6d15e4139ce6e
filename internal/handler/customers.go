package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/loyalty-engine/internal/cohort"
	"github.com/mmeshcher/loyalty-engine/internal/model"
	"github.com/mmeshcher/loyalty-engine/internal/progress"
)

type customerResponse struct {
	ID                       string  `json:"id"`
	FullName                 string  `json:"fullName"`
	Cohort                   string  `json:"cohort"`
	StoredCohort             string  `json:"storedCohort,omitempty"`
	DaysSinceLastVisit       *int    `json:"daysSinceLastVisit,omitempty"`
	LifetimeTransactionCount int     `json:"lifetimeTransactionCount"`
	TotalLifetimeSpend       float64 `json:"totalLifetimeSpend"`
	PointsBalance            int     `json:"pointsBalance"`
	MembershipTier           string  `json:"membershipTier,omitempty"`
}

// GetCustomers возвращает клиентов мерчанта, попавших во вкладку tab.
func (h *Handler) GetCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.Customers(r.Context(), chi.URLParam(r, "merchantID"), r.URL.Query().Get("tab"))
	if err != nil {
		h.writeError(w, "get customers", err)
		return
	}

	if len(customers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]customerResponse, 0, len(customers))
	for _, c := range customers {
		resp = append(resp, customerResponse{
			ID:                       c.ID,
			FullName:                 c.FullName,
			Cohort:                   string(cohort.Classify(c)),
			StoredCohort:             c.StoredCohortName(),
			DaysSinceLastVisit:       c.DaysSinceLastVisit,
			LifetimeTransactionCount: c.LifetimeTransactionCount,
			TotalLifetimeSpend:       c.TotalLifetimeSpend,
			PointsBalance:            c.PointsBalance,
			MembershipTier:           c.MembershipTier,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type cohortsResponse struct {
	Total int            `json:"total"`
	Tabs  map[string]int `json:"tabs"`
}

// GetCohorts возвращает количество клиентов по вкладкам.
func (h *Handler) GetCohorts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.CohortCounts(r.Context(), chi.URLParam(r, "merchantID"))
	if err != nil {
		h.writeError(w, "get cohorts", err)
		return
	}

	tabs := make(map[string]int, len(counts.Tabs))
	for label, n := range counts.Tabs {
		tabs[string(label)] = n
	}
	h.writeJSON(w, http.StatusOK, cohortsResponse{Total: counts.Total, Tabs: tabs})
}

type programResponse struct {
	ID            string                `json:"id"`
	Kind          string                `json:"kind"`
	Type          string                `json:"type,omitempty"`
	OriginalIndex *int                  `json:"originalIndex,omitempty"`
	Name          string                `json:"name"`
	Active        bool                  `json:"active"`
	TotalRewards  int                   `json:"totalRewards"`
	Rewards       []model.ProgramReward `json:"rewards"`
}

func newProgramResponse(p model.Program) programResponse {
	resp := programResponse{
		ID:           p.ID,
		Kind:         string(p.Kind),
		Type:         string(p.Type),
		Name:         p.Name,
		Active:       p.Active,
		TotalRewards: p.TotalRewards(),
		Rewards:      p.Rewards,
	}
	if p.Kind == model.ProgramKindBuiltin {
		idx := p.OriginalIndex
		resp.OriginalIndex = &idx
	}
	if resp.Rewards == nil {
		resp.Rewards = []model.ProgramReward{}
	}
	return resp
}

// GetPrograms возвращает встроенные и пользовательские программы мерчанта.
func (h *Handler) GetPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.service.Programs(r.Context(), chi.URLParam(r, "merchantID"))
	if err != nil {
		h.writeError(w, "get programs", err)
		return
	}

	resp := make([]programResponse, 0, len(programs))
	for _, p := range programs {
		resp = append(resp, newProgramResponse(p))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	Types  []progress.TypeSummary `json:"types"`
	Failed map[string]string      `json:"failed"`
}

// GetProgramSummary возвращает сводку наград встроенных программ.
func (h *Handler) GetProgramSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.ProgramSummary(r.Context(), chi.URLParam(r, "merchantID"))
	if err != nil {
		h.writeError(w, "get program summary", err)
		return
	}

	types := summary.Types
	if types == nil {
		types = []progress.TypeSummary{}
	}
	h.writeJSON(w, http.StatusOK, summaryResponse{Types: types, Failed: failedMessages(summary.Failed)})
}

type programCustomersResponse struct {
	Program programResponse        `json:"program"`
	Rows    []progress.CustomerRow `json:"rows"`
	Failed  map[string]string      `json:"failed"`
}

// GetProgramCustomers возвращает клиентов, взаимодействовавших с программой.
func (h *Handler) GetProgramCustomers(w http.ResponseWriter, r *http.Request) {
	table, err := h.service.ProgramCustomers(r.Context(), chi.URLParam(r, "merchantID"), chi.URLParam(r, "programID"))
	if err != nil {
		h.writeError(w, "get program customers", err)
		return
	}

	rows := table.Rows
	if rows == nil {
		rows = []progress.CustomerRow{}
	}
	h.writeJSON(w, http.StatusOK, programCustomersResponse{
		Program: newProgramResponse(table.Program),
		Rows:    rows,
		Failed:  failedMessages(table.Failed),
	})
}

type progressResponse struct {
	progress.View
	ResolvedAt string `json:"resolvedAt"`
}

// GetCustomerProgress возвращает прогресс клиента в программе.
func (h *Handler) GetCustomerProgress(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CustomerProgress(r.Context(),
		chi.URLParam(r, "merchantID"), chi.URLParam(r, "programID"), chi.URLParam(r, "customerID"))
	if err != nil {
		h.writeError(w, "get customer progress", err)
		return
	}
	h.writeJSON(w, http.StatusOK, progressResponse{View: view, ResolvedAt: time.Now().UTC().Format(time.RFC3339)})
}
