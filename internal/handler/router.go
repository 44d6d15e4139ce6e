package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/loyalty-engine/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка.
// metrics может быть nil, тогда /metrics не регистрируется.
func (h *Handler) SetupRouter(metrics http.Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.CORS(allowedOrigins))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/health", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api/merchants/{merchantID}", func(r chi.Router) {
		r.Route("/rewards", func(r chi.Router) {
			r.Get("/", h.ListRewards)
			r.Get("/{rewardID}/eligibility", h.RewardEligibility)
			r.Post("/bulk-delete", h.BulkDelete)
			r.Post("/bulk-active", h.BulkSetActive)
		})

		r.Get("/customers", h.GetCustomers)
		r.Get("/cohorts", h.GetCohorts)

		r.Route("/programs", func(r chi.Router) {
			r.Get("/", h.GetPrograms)
			r.Get("/summary", h.GetProgramSummary)
			r.Get("/{programID}/customers", h.GetProgramCustomers)
			r.Get("/{programID}/customers/{customerID}", h.GetCustomerProgress)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Delete("/{sessionID}", h.CloseSession)
			r.Get("/{sessionID}/rewards", h.SessionRewards)
			r.Get("/{sessionID}/rewards/{rewardID}/eligibility", h.SessionEligibility)
			r.Post("/{sessionID}/rewards/bulk-delete", h.SessionBulkDelete)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
