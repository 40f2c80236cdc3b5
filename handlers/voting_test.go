// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/danielhkuo/runoff/models"
	"github.com/danielhkuo/runoff/testutil"
)

func TestSubmitBallot(t *testing.T) {
	env := setupEnv(t)
	created := env.createPoll(t, func(r *models.CreatePollRequest) { r.AllowWriteIns = true })

	tests := []struct {
		name            string
		ref             string
		ranking         []string
		expectedStatus  int
		expectedRanking []string
	}{
		{"valid ballot", created.PollID, []string{"A", "B", "C"}, http.StatusCreated, []string{"A", "B", "C"}},
		{"by share slug", created.ShareSlug, []string{"B"}, http.StatusCreated, []string{"B"}},
		{"duplicates dropped", created.PollID, []string{"C", "C", "A"}, http.StatusCreated, []string{"C", "A"}},
		{"unknown candidates dropped", created.PollID, []string{"Z", "A"}, http.StatusCreated, []string{"A"}},
		{"write-in", created.PollID, []string{"writein:Bob"}, http.StatusCreated, []string{"writein:bob"}},
		{"nothing countable", created.PollID, []string{"Z"}, http.StatusUnprocessableEntity, []string{}},
		{"empty ranking", created.PollID, nil, http.StatusUnprocessableEntity, []string{}},
		{"unknown poll", "missing", []string{"A"}, http.StatusNotFound, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.vote(t, tt.ref, tt.ranking...)
			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.expectedRanking == nil {
				return
			}

			var resp models.SubmitBallotResponse
			decode(t, w, &resp)
			if resp.BallotID == "" {
				t.Error("Expected a ballot id")
			}
			if !resp.Official {
				t.Error("Expected an official ballot before close")
			}
			got := resp.Ranking
			if got == nil {
				got = []string{}
			}
			if !reflect.DeepEqual(got, tt.expectedRanking) {
				t.Errorf("Expected ranking %v, got %v", tt.expectedRanking, got)
			}
			if resp.Exhausted != (len(tt.expectedRanking) == 0) {
				t.Errorf("Expected exhausted=%v, got %v", len(tt.expectedRanking) == 0, resp.Exhausted)
			}
		})
	}

	t.Run("invalid JSON", func(t *testing.T) {
		w := call(env.voting.SubmitBallot, "POST", "/polls/"+created.PollID+"/ballots", created.PollID, "not an object", nil)
		testutil.AssertStatus(t, w, http.StatusBadRequest)
	})
}

func TestSubmitBallotAfterClose(t *testing.T) {
	env := setupEnv(t)
	strict := env.createPoll(t, nil)
	lenient := env.createPoll(t, func(r *models.CreatePollRequest) { r.AllowPostClose = true })

	env.clock.Advance(2 * time.Hour)

	testutil.AssertStatus(t, env.vote(t, strict.PollID, "A"), http.StatusConflict)

	w := env.vote(t, lenient.PollID, "A")
	testutil.AssertStatus(t, w, http.StatusCreated)
	var resp models.SubmitBallotResponse
	decode(t, w, &resp)
	if resp.Official {
		t.Error("Expected a post-close ballot to be unofficial")
	}
}

func TestSubmitBatch(t *testing.T) {
	env := setupEnv(t)
	created := env.createPoll(t, nil)
	path := "/polls/" + created.PollID + "/ballots/batch"

	body := models.SubmitBatchRequest{Ballots: []models.SubmitBallotRequest{
		{Ranking: []string{"A", "B"}},
		{Ranking: []string{"Q"}},
		{Ranking: []string{"C"}, Attributes: map[string]string{"location": "north"}},
	}}
	w := call(env.voting.SubmitBatch, "POST", path, created.PollID, body, nil)
	testutil.AssertStatus(t, w, http.StatusCreated)

	var resp models.SubmitBatchResponse
	decode(t, w, &resp)
	if len(resp.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(resp.Results))
	}
	if !resp.Results[1].Exhausted || resp.Results[1].Message == "" {
		t.Errorf("Expected the second ballot to be exhausted with a message, got %+v", resp.Results[1])
	}
	if resp.Version == 0 {
		t.Error("Expected a committed tally version")
	}

	w = call(env.voting.SubmitBatch, "POST", path, created.PollID, models.SubmitBatchRequest{}, nil)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}
