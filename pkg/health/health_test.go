package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/health"
)

type fakePinger struct {
	err error
}

func (p fakePinger) PingContext(context.Context) error {
	return p.err
}

func get(t *testing.T, e *echo.Echo, path string) (int, health.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	e := echo.New()
	health.NewChecker(fakePinger{err: errors.New("down")}, "test").RegisterRoutes(e)

	code, resp := get(t, e, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusHealthy, resp.Status)
}

func TestReadiness(t *testing.T) {
	e := echo.New()
	checker := health.NewChecker(fakePinger{}, "test")
	checker.RegisterRoutes(e)

	code, _ := get(t, e, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	checker.SetReady(true)
	code, resp := get(t, e, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusHealthy, resp.Checks["database"].Status)
}

func TestHealth_DegradedAndUnhealthy(t *testing.T) {
	e := echo.New()
	checker := health.NewChecker(fakePinger{}, "test")
	checker.AddCheck("last_sync", func(context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusDegraded, Message: "last run failed"}
	})
	checker.RegisterRoutes(e)

	code, resp := get(t, e, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StatusDegraded, resp.Status)

	checker.AddCheck("database", health.DatabaseCheck(fakePinger{err: errors.New("down")}))
	code, resp = get(t, e, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, health.StatusUnhealthy, resp.Status)
}
