package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wakala/hedger/internal/ingestion"
	"github.com/wakala/hedger/internal/ledger"
	"github.com/wakala/hedger/internal/orders"
	"github.com/wakala/hedger/internal/policy"
	"github.com/wakala/hedger/internal/recommendation"
	"github.com/wakala/hedger/internal/reporting"
	"github.com/wakala/hedger/internal/settlement"
)

// Deps are the services the API fronts.
type Deps struct {
	Ledger          *ledger.Service
	Policies        *policy.Service
	Generator       *recommendation.Generator
	Recommendations *recommendation.Service
	Orders          *orders.Manager
	Settlements     *settlement.Service
	Import          *ingestion.Service
	Reports         *reporting.Service
	// Now anchors date-derived views. Defaults to time.Now.
	Now func() time.Time
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(d Deps) http.Handler {
	h := &Handlers{Deps: d}
	if h.Now == nil {
		h.Now = time.Now
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/exposures", func(r chi.Router) {
			r.Post("/", h.CreateExposure)
			r.Get("/", h.ListExposures)
			r.Get("/summary", h.ExposureSummary)
			r.Get("/by-horizon", h.ExposuresByHorizon)
			r.Post("/import", h.ImportExposures)
			r.Get("/{id}", h.GetExposure)
			r.Put("/{id}", h.UpdateExposure)
			r.Post("/{id}/cancel", h.CancelExposure)
			r.Get("/{id}/policy", h.ExposurePolicy)
		})

		r.Post("/counterparties", h.CreateCounterparty)
		r.Get("/counterparties", h.ListCounterparties)

		r.Route("/policies", func(r chi.Router) {
			r.Post("/", h.CreatePolicy)
			r.Get("/", h.ListPolicies)
			r.Post("/simulate", h.SimulatePolicy)
			r.Get("/{id}", h.GetPolicy)
			r.Put("/{id}", h.UpdatePolicy)
			r.Post("/{id}/deactivate", h.DeactivatePolicy)
		})

		r.Route("/recommendations", func(r chi.Router) {
			r.Post("/generate", h.GenerateRecommendations)
			r.Post("/expire", h.ExpireRecommendations)
			r.Get("/", h.ListRecommendations)
			r.Get("/summary", h.RecommendationSummary)
			r.Get("/calendar", h.RecommendationCalendar)
			r.Get("/{id}", h.GetRecommendation)
			r.Post("/{id}/accept", h.AcceptRecommendation)
			r.Post("/{id}/reject", h.RejectRecommendation)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/summary", h.OrderSummary)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/submit", h.SubmitOrder)
			r.Post("/{id}/approve", h.ApproveOrder)
			r.Post("/{id}/reject", h.RejectOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Post("/{id}/quotes", h.AddQuote)
			r.Get("/{id}/quotes", h.ListQuotes)
			r.Post("/{id}/quotes/{quoteID}/accept", h.AcceptQuote)
			r.Post("/{id}/execute", h.ExecuteOrder)
			r.Get("/{id}/trade", h.GetTrade)
			r.Get("/{id}/settlements", h.OrderSettlements)
		})

		r.Route("/settlements", func(r chi.Router) {
			r.Get("/", h.ListSettlements)
			r.Get("/summary", h.SettlementSummary)
			r.Get("/calendar", h.SettlementCalendar)
			r.Get("/{id}", h.GetSettlement)
			r.Post("/{id}/process", h.ProcessSettlement)
			r.Post("/{id}/complete", h.CompleteSettlement)
			r.Post("/{id}/fail", h.FailSettlement)
			r.Post("/{id}/retry", h.RetrySettlement)
		})

		r.Get("/reports/coverage", h.CoverageReport)
		r.Get("/reports/maturity-ladder", h.MaturityLadder)
		r.Get("/reports/dashboard", h.Dashboard)
	})

	return r
}
