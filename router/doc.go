// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the runoff API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(e, cfg, registry)

Every route is wrapped with request logging and a 4 MiB body limit.

# Endpoints

Operational:

	GET /health
	GET /metrics      - Prometheus exposition (when a gatherer is given)
	GET /methodology  - Published tally, privacy and trend rules

Poll management (admin, requires X-Admin-Key):

	POST /polls                                - Create poll
	POST /polls/{id}/candidates                - Add candidate
	POST /polls/{id}/candidates/{cid}/withdraw - Withdraw candidate
	POST /polls/{id}/close                     - Close now and finalize
	POST /polls/{id}/finalize                  - Finalize after close_at

Voting and results (public, id or share slug):

	GET  /polls/{id}
	POST /polls/{id}/ballots
	POST /polls/{id}/ballots/batch
	GET  /polls/{id}/results
	GET  /polls/{id}/trend
	GET  /polls/{id}/breakdown?dimension=&view=
	GET  /polls/{id}/live                     - websocket
	GET  /polls/{id}/audit/dataset
	GET  /polls/{id}/audit/proof/{ballot}
*/
package router
