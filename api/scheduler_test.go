package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTick(t *testing.T) {
	started := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		now    time.Time
		expect time.Time
	}{
		{"right after start", started.Add(time.Second), started.Add(time.Hour)},
		{"mid second interval", started.Add(90 * time.Minute), started.Add(2 * time.Hour)},
		{"exactly on a tick", started.Add(2 * time.Hour), started.Add(3 * time.Hour)},
		{"clock behind start", started.Add(-time.Minute), started.Add(time.Hour)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, nextTick(started, time.Hour, tc.now))
		})
	}

	assert.True(t, nextTick(time.Time{}, time.Hour, started).IsZero())
}

func TestDuePostingScheduler_NextRunTime(t *testing.T) {
	srv := newTestServer(t)
	ds := NewDuePostingScheduler(srv.handler.Service, nil)
	ds.CheckInterval = time.Hour

	// GIVEN: A stopped scheduler has no next run
	assert.True(t, ds.NextRunTime().IsZero())

	// WHEN: Started, then run manually
	before := time.Now()
	ds.Start()
	t.Cleanup(ds.Stop)
	ds.RunNow(context.Background())

	// THEN: The next run follows the ticker, not the manual pass
	next := ds.NextRunTime()
	assert.False(t, next.Before(before.Add(time.Hour)))
	assert.False(t, next.After(time.Now().Add(time.Hour)))
}

func TestListSyncRuns_OmitsNextRunWhenStopped(t *testing.T) {
	srv := newTestServer(t)
	srv.handler.Scheduler = NewDuePostingScheduler(srv.handler.Service, nil)

	rec := srv.do(t, http.MethodGet, "/api/ledger/runs", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.NotContains(t, body, "next_run")
	assert.Equal(t, true, body["enabled"])
}
