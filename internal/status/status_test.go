package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-watcher/internal/marketplace"
	"market-watcher/internal/service"
	"market-watcher/internal/storage/memory"
)

type fixedReports struct {
	report service.CycleReport
}

func (f fixedReports) LastReport() (service.CycleReport, bool) { return f.report, true }

func init() {
	gin.SetMode(gin.TestMode)
}

func get(t *testing.T, router http.Handler, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealth(t *testing.T) {
	code, body := get(t, NewRouter(Sources{}, zerolog.Nop()), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusReportsState(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SetWorkerEnabled(context.Background(), false))

	breaker := marketplace.NewBreaker(marketplace.BreakerOptions{Threshold: 1, Step: time.Minute, MaxCooldown: time.Hour})
	breaker.RecordRateLimited()

	router := NewRouter(Sources{
		Reports: fixedReports{report: service.CycleReport{Watches: 3, AlertsSent: 2}},
		Breaker: breaker,
		Control: store,
	}, zerolog.Nop())

	code, body := get(t, router, "/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["worker_enabled"])

	b, ok := body["breaker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, b["open"])
	assert.EqualValues(t, 1, b["consecutive_429"])
	assert.Contains(t, b, "cooldown_until")

	last, ok := body["last_cycle"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, last["watches"])
	assert.EqualValues(t, 2, last["alerts_sent"])
}

func TestStatusWithoutSources(t *testing.T) {
	code, body := get(t, NewRouter(Sources{}, zerolog.Nop()), "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "breaker")
	assert.NotContains(t, body, "last_cycle")
}
