// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielhkuo/runoff/cliparse"
	"github.com/danielhkuo/runoff/engine"
	"github.com/danielhkuo/runoff/handlers"
	"github.com/danielhkuo/runoff/middleware"
)

// maxBody bounds request bodies; a full ballot batch fits well inside it.
const maxBody = 4 << 20

func NewRouter(e *engine.Engine, cfg cliparse.Config, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	pollHandler := handlers.NewPollHandler(e, cfg)
	votingHandler := handlers.NewVotingHandler(e, cfg)
	resultsHandler := handlers.NewResultsHandler(e, cfg)
	liveHandler := handlers.NewLiveHandler(e)
	auditHandler := handlers.NewAuditHandler(e)

	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, middleware.WithLogging(middleware.WithBodyLimit(maxBody, h)))
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	handle("GET /methodology", resultsHandler.GetMethodology)

	// Poll management (admin operations)
	handle("POST /polls", pollHandler.CreatePoll)
	handle("GET /polls/{id}", pollHandler.GetPoll)
	handle("POST /polls/{id}/candidates", pollHandler.AddCandidate)
	handle("POST /polls/{id}/candidates/{cid}/withdraw", pollHandler.WithdrawCandidate)
	handle("POST /polls/{id}/close", pollHandler.ClosePoll)
	handle("POST /polls/{id}/finalize", pollHandler.FinalizePoll)

	// Ballots (public, id or share slug)
	handle("POST /polls/{id}/ballots", votingHandler.SubmitBallot)
	handle("POST /polls/{id}/ballots/batch", votingHandler.SubmitBatch)

	// Results
	handle("GET /polls/{id}/results", resultsHandler.GetResults)
	handle("GET /polls/{id}/trend", resultsHandler.GetTrend)
	handle("GET /polls/{id}/breakdown", resultsHandler.GetBreakdown)
	handle("GET /polls/{id}/live", liveHandler.Stream)

	// Audit
	handle("GET /polls/{id}/audit/dataset", auditHandler.GetDataset)
	handle("GET /polls/{id}/audit/proof/{ballot}", auditHandler.GetProof)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("runoff API v1"))
	})

	return mux
}
