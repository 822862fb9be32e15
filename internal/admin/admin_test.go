package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.code/internal/txnmanager"
)

func newTestManager(t *testing.T) *txnmanager.TransactionManager {
	t.Helper()
	m, err := txnmanager.New(txnmanager.Options{
		PartitionCount:        2,
		PartitionGroupCount:   1,
		MinTimeoutSec:         1,
		StableTimeoutSec:      30,
		CeilingTimeoutSec:     300,
		ReplicationTimeoutSec: 30,
	}, nil)
	require.NoError(t, err)
	return m
}

func TestHandleStats_ReturnsGroupStatsJSON(t *testing.T) {
	s := New(Config{ConnectionLimit: 256}, newTestManager(t))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "group_id")
}

func TestHandleHealthz_OK(t *testing.T) {
	s := New(Config{ConnectionLimit: 256}, newTestManager(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.handleHealthz(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestConnectionLimiter_BlocksAfterBurst(t *testing.T) {
	l := newConnectionLimiter(3)
	addr := "10.0.0.1:1234"
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.limiterFor(addr).Allow() {
			allowed++
		}
	}
	assert.Less(t, allowed, 10)
}
