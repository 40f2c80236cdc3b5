// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danielhkuo/runoff/cliparse"
	"github.com/danielhkuo/runoff/db"
	"github.com/danielhkuo/runoff/engine"
	"github.com/danielhkuo/runoff/methodology"
	"github.com/danielhkuo/runoff/models"
	"github.com/danielhkuo/runoff/testutil"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type exactNoise struct{}

func (exactNoise) Laplace(float64) float64 { return 0 }

type testEnv struct {
	engine  *engine.Engine
	cfg     cliparse.Config
	clock   *testClock
	polls   *PollHandler
	voting  *VotingHandler
	results *ResultsHandler
	audit   *AuditHandler
	live    *LiveHandler
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	clock := &testClock{t: time.Now().UTC().Truncate(time.Second)}

	e, err := engine.New(db.NewStore(conn), engine.Options{
		Methodology: methodology.Default(),
		Noise:       exactNoise{},
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(e.Close)

	return &testEnv{
		engine:  e,
		cfg:     cfg,
		clock:   clock,
		polls:   NewPollHandler(e, cfg),
		voting:  NewVotingHandler(e, cfg),
		results: NewResultsHandler(e, cfg),
		audit:   NewAuditHandler(e),
		live:    NewLiveHandler(e),
	}
}

// createPoll creates a poll through the handler and returns the response.
func (env *testEnv) createPoll(t *testing.T, mutate func(*models.CreatePollRequest)) models.CreatePollResponse {
	t.Helper()
	req := models.CreatePollRequest{
		Title:      "Best snack",
		CloseAt:    env.clock.Now().Add(time.Hour),
		Candidates: []string{"A", "B", "C"},
	}
	if mutate != nil {
		mutate(&req)
	}

	w := httptest.NewRecorder()
	env.polls.CreatePoll(w, testutil.MakeRequest("POST", "/polls", req, nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("Create poll failed: %d - %s", w.Code, w.Body.String())
	}
	var resp models.CreatePollResponse
	testutil.AssertJSON(t, w, &resp)
	return resp
}

// vote submits one ballot and returns the recorder.
func (env *testEnv) vote(t *testing.T, ref string, ranking ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.MakeRequest("POST", "/polls/"+ref+"/ballots", models.SubmitBallotRequest{Ranking: ranking}, nil)
	req.SetPathValue("id", ref)
	w := httptest.NewRecorder()
	env.voting.SubmitBallot(w, req)
	return w
}

// call builds a request with the poll id path value and optional headers.
func call(h http.HandlerFunc, method, path, pollID string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	req := testutil.MakeRequest(method, path, body, headers)
	req.SetPathValue("id", pollID)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
}
