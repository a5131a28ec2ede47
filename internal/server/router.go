package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openjobspec/ojs-operator-checks/internal/api"
	"github.com/openjobspec/ojs-operator-checks/internal/metrics"
)

// RouterDeps are the collaborators behind the admin routes.
type RouterDeps struct {
	Health    api.HealthChecker
	State     api.StateReader
	Scheduler api.CheckScheduler
	Cycles    api.CycleReader
	Queues    api.QueueInspector
	Results   api.ResultReader
}

// NewRouter builds the admin HTTP router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(api.RequestID)
	r.Use(api.RequestLogger)
	r.Use(api.LimitBody)
	r.Use(api.ValidateContentType)

	systemH := api.NewSystemHandler(deps.Health)
	checkH := api.NewCheckHandler(deps.State, deps.Scheduler)
	cycleH := api.NewCycleHandler(deps.Cycles)
	queueH := api.NewQueueHandler(deps.Queues)
	resultH := api.NewResultHandler(deps.Results)

	r.Get("/healthz", systemH.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", checkH.State)
		r.Post("/checks/schedule", checkH.Schedule)
		r.Get("/cycles/{id}", cycleH.Get)
		r.Get("/queues/{name}/stats", queueH.Stats)
		r.Get("/queues/{name}/failed", queueH.Failed)
		r.Get("/results", resultH.Recent)
	})

	return r
}
