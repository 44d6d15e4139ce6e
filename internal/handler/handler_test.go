package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/bulk"
	"github.com/mmeshcher/loyalty-engine/internal/cohort"
	"github.com/mmeshcher/loyalty-engine/internal/eligibility"
	"github.com/mmeshcher/loyalty-engine/internal/model"
	"github.com/mmeshcher/loyalty-engine/internal/pos"
	"github.com/mmeshcher/loyalty-engine/internal/progress"
	"github.com/mmeshcher/loyalty-engine/internal/rewards"
	"github.com/mmeshcher/loyalty-engine/internal/service"
	"github.com/mmeshcher/loyalty-engine/internal/session"
)

type stubService struct {
	gotMerchant string
	gotLimit    int
	gotQuery    rewards.Query
	gotIDs      []string
	gotActive   bool

	pageResp service.RewardsPage
	pageErr  error

	statsResp eligibility.Stats
	statsErr  error

	bulkResp bulk.Result
	bulkErr  error

	sessionResp *session.Session
	sessionErr  error

	customersResp []model.Customer
	customersErr  error

	countsResp service.CohortCounts

	programsResp []model.Program
	summaryResp  progress.Summary
	tableResp    progress.CustomerTable
	viewResp     progress.View
	progressErr  error
}

func (s *stubService) ListRewards(ctx context.Context, merchantID, cursor string, limit int, q rewards.Query) (service.RewardsPage, error) {
	s.gotMerchant, s.gotLimit, s.gotQuery = merchantID, limit, q
	return s.pageResp, s.pageErr
}

func (s *stubService) RewardEligibility(ctx context.Context, merchantID, rewardID string) (eligibility.Stats, error) {
	s.gotMerchant = merchantID
	return s.statsResp, s.statsErr
}

func (s *stubService) BulkDelete(ctx context.Context, merchantID string, ids []string) (bulk.Result, error) {
	s.gotMerchant, s.gotIDs = merchantID, ids
	return s.bulkResp, s.bulkErr
}

func (s *stubService) BulkSetActive(ctx context.Context, merchantID string, ids []string, active bool) (bulk.Result, error) {
	s.gotMerchant, s.gotIDs, s.gotActive = merchantID, ids, active
	return s.bulkResp, s.bulkErr
}

func (s *stubService) CreateSession(merchantID string) (*session.Session, error) {
	return s.sessionResp, s.sessionErr
}

func (s *stubService) CloseSession(merchantID, sessionID string) error {
	return s.sessionErr
}

func (s *stubService) SessionRewards(ctx context.Context, merchantID, sessionID string, limit int, q rewards.Query) (service.RewardsPage, error) {
	return s.pageResp, s.pageErr
}

func (s *stubService) SessionEligibility(ctx context.Context, merchantID, sessionID, rewardID string) (eligibility.Stats, error) {
	return s.statsResp, s.statsErr
}

func (s *stubService) SessionBulkDelete(ctx context.Context, merchantID, sessionID string, ids []string) (bulk.Result, error) {
	s.gotIDs = ids
	return s.bulkResp, s.bulkErr
}

func (s *stubService) Customers(ctx context.Context, merchantID, tab string) ([]model.Customer, error) {
	return s.customersResp, s.customersErr
}

func (s *stubService) CohortCounts(ctx context.Context, merchantID string) (service.CohortCounts, error) {
	return s.countsResp, nil
}

func (s *stubService) Programs(ctx context.Context, merchantID string) ([]model.Program, error) {
	return s.programsResp, nil
}

func (s *stubService) ProgramSummary(ctx context.Context, merchantID string) (progress.Summary, error) {
	return s.summaryResp, nil
}

func (s *stubService) ProgramCustomers(ctx context.Context, merchantID, programID string) (progress.CustomerTable, error) {
	return s.tableResp, s.progressErr
}

func (s *stubService) CustomerProgress(ctx context.Context, merchantID, programID, customerID string) (progress.View, error) {
	return s.viewResp, s.progressErr
}

func newTestRouter(t *testing.T, svc Service) http.Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	return NewHandler(svc, logger).SetupRouter(nil, nil)
}

func serve(h http.Handler, method, target string, body []byte) *http.Response {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Result()
}

func TestListRewards_JSONResponse(t *testing.T) {
	svc := &stubService{
		pageResp: service.RewardsPage{
			Rewards: []model.Reward{
				{ID: "r2", Name: "Free coffee", Category: model.CategoryIndividual, IsActive: true, CreatedAt: time.Now()},
			},
			NextCursor: "abc",
			HasMore:    true,
		},
	}
	r := newTestRouter(t, svc)

	res := serve(r, http.MethodGet, "/api/merchants/m1/rewards?limit=5&category=agent&q=cof&sort=name&order=desc", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var got rewardsPageResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got.Rewards, 1)
	assert.Equal(t, "r2", got.Rewards[0].ID)
	assert.Equal(t, "abc", got.NextCursor)
	assert.True(t, got.HasMore)

	assert.Equal(t, "m1", svc.gotMerchant)
	assert.Equal(t, 5, svc.gotLimit)
	assert.Equal(t, "agent", svc.gotQuery.Category)
	assert.Equal(t, "cof", svc.gotQuery.Search)
	assert.Equal(t, rewards.Sort{Key: rewards.SortName, Desc: true}, svc.gotQuery.Sort)
}

func TestListRewards_BadQuery(t *testing.T) {
	r := newTestRouter(t, &stubService{})

	for _, target := range []string{
		"/api/merchants/m1/rewards?sort=colour",
		"/api/merchants/m1/rewards?order=sideways",
		"/api/merchants/m1/rewards?limit=-1",
		"/api/merchants/m1/rewards?limit=many",
	} {
		res := serve(r, http.MethodGet, target, nil)
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want %d", target, res.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestRewardEligibility_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{name: "not found", err: fmt.Errorf("get reward: %w", model.ErrNotFound), status: http.StatusNotFound},
		{name: "invalid", err: model.ErrInvalidArgument, status: http.StatusBadRequest},
		{name: "upstream", err: fmt.Errorf("list customers: %w", model.ErrUpstreamUnavailable), status: http.StatusServiceUnavailable},
		{name: "rate limited", err: &pos.RateLimitError{RetryAfter: 1500 * time.Millisecond}, status: http.StatusServiceUnavailable, retryAfter: "2"},
		{name: "other", err: fmt.Errorf("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, &stubService{statsErr: tt.err})

			res := serve(r, http.MethodGet, "/api/merchants/m1/rewards/r1/eligibility", nil)
			defer res.Body.Close()

			if res.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.status)
			}
			if got := res.Header.Get("Retry-After"); got != tt.retryAfter {
				t.Fatalf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}

func TestRewardEligibility_ReportsPartial(t *testing.T) {
	svc := &stubService{statsResp: eligibility.Stats{
		RewardID:       "r1",
		TotalCustomers: 3,
		FailedLookups:  1,
		Failed:         model.PartialFailure{"c3": errors.New("state unavailable")},
	}}
	r := newTestRouter(t, svc)

	res := serve(r, http.MethodGet, "/api/merchants/m1/rewards/r1/eligibility", nil)
	defer res.Body.Close()

	var got map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, true, got["partial"])
	assert.Equal(t, float64(1), got["failedLookups"])
	assert.Equal(t, []any{}, got["eligibleCustomers"])
	assert.Equal(t, map[string]any{"c3": "state unavailable"}, got["failed"])
}

func TestBulkDelete(t *testing.T) {
	svc := &stubService{
		bulkResp: bulk.Result{
			Succeeded: []string{"r1"},
			Failed:    model.PartialFailure{"r9": fmt.Errorf("delete reward: %w", model.ErrNotFound)},
		},
	}
	r := newTestRouter(t, svc)

	body, _ := json.Marshal(bulkRequest{IDs: []string{"r1", "r9"}})
	res := serve(r, http.MethodPost, "/api/merchants/m1/rewards/bulk-delete", body)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got bulkResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, []string{"r1"}, got.Succeeded)
	assert.Equal(t, "delete reward: not found", got.Failed["r9"])
	assert.Equal(t, []string{"r1", "r9"}, svc.gotIDs)
}

func TestBulkDelete_EmptyBody(t *testing.T) {
	r := newTestRouter(t, &stubService{})

	for _, body := range []string{"", "{}", `{"ids":[]}`, "not json"} {
		res := serve(r, http.MethodPost, "/api/merchants/m1/rewards/bulk-delete", []byte(body))
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want %d", body, res.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestBulkSetActive(t *testing.T) {
	svc := &stubService{bulkResp: bulk.Result{Succeeded: []string{"r1"}}}
	r := newTestRouter(t, svc)

	res := serve(r, http.MethodPost, "/api/merchants/m1/rewards/bulk-active", []byte(`{"ids":["r1"]}`))
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status without active = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	svc.gotActive = true
	res = serve(r, http.MethodPost, "/api/merchants/m1/rewards/bulk-active", []byte(`{"ids":["r1"],"active":false}`))
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	assert.False(t, svc.gotActive)
}

func TestSessions(t *testing.T) {
	svc := &stubService{
		sessionResp: &session.Session{ID: "s1", MerchantID: "m1", CreatedAt: time.Now()},
	}
	r := newTestRouter(t, svc)

	res := serve(r, http.MethodPost, "/api/merchants/m1/sessions", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created sessionResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	assert.Equal(t, "s1", created.ID)

	res = serve(r, http.MethodDelete, "/api/merchants/m1/sessions/s1", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("close status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	svc.sessionErr = model.ErrNotFound
	res = serve(r, http.MethodDelete, "/api/merchants/m1/sessions/s1", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second close status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestGetCustomers_NoContent(t *testing.T) {
	r := newTestRouter(t, &stubService{customersResp: []model.Customer{}})

	res := serve(r, http.MethodGet, "/api/merchants/m1/customers?tab=vip", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestGetCustomers_ClassifiesCohort(t *testing.T) {
	days := 45
	svc := &stubService{customersResp: []model.Customer{{ID: "c1", FullName: "Ann", DaysSinceLastVisit: &days}}}
	r := newTestRouter(t, svc)

	res := serve(r, http.MethodGet, "/api/merchants/m1/customers", nil)
	defer res.Body.Close()

	var got []customerResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, string(cohort.Engaged), got[0].Cohort)
}

func TestGetCohorts(t *testing.T) {
	svc := &stubService{countsResp: service.CohortCounts{Total: 3, Tabs: map[cohort.Label]int{cohort.VIP: 1}}}
	r := newTestRouter(t, svc)

	res := serve(r, http.MethodGet, "/api/merchants/m1/cohorts", nil)
	defer res.Body.Close()

	var got cohortsResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.Tabs["vip"])
}

func TestGetPrograms_BuiltinIndex(t *testing.T) {
	svc := &stubService{programsResp: []model.Program{
		{ID: "coffeeprogramnew-0", Kind: model.ProgramKindBuiltin, Type: model.ProgramTypeStamp},
		{ID: "p1", Kind: model.ProgramKindCustom, Rewards: []model.ProgramReward{{ID: "r1"}}},
	}}
	r := newTestRouter(t, svc)

	res := serve(r, http.MethodGet, "/api/merchants/m1/programs", nil)
	defer res.Body.Close()

	var got []programResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got, 2)
	require.NotNil(t, got[0].OriginalIndex)
	assert.Equal(t, 0, *got[0].OriginalIndex)
	assert.Nil(t, got[1].OriginalIndex)
	assert.Equal(t, 1, got[1].TotalRewards)
}

func TestGetCustomerProgress(t *testing.T) {
	svc := &stubService{viewResp: progress.View{CustomerID: "c1", ProgramID: "p1", RewardsEarned: 2, TotalRewards: 3, Completion: 0.667}}
	r := newTestRouter(t, svc)

	res := serve(r, http.MethodGet, "/api/merchants/m1/programs/p1/customers/c1", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, 0.667, got["completion"])

	svc.progressErr = model.ErrNotFound
	res = serve(r, http.MethodGet, "/api/merchants/m1/programs/p1/customers", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestHealthAndUnknownRoute(t *testing.T) {
	r := newTestRouter(t, &stubService{})

	res := serve(r, http.MethodGet, "/health", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	res = serve(r, http.MethodGet, "/api/unknown", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
