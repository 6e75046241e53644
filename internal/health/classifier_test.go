package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/user_service/internal/config"
	"github.com/R3E-Network/user_service/internal/database"
	"github.com/R3E-Network/user_service/internal/health"
	"github.com/R3E-Network/user_service/internal/httputil"
	"github.com/R3E-Network/user_service/internal/logging"
	"github.com/R3E-Network/user_service/pkg/testutil"
)

func fixed(name string, status health.Status) health.Probe {
	return health.Probe{
		Name: name,
		Check: func(context.Context) (health.CheckResult, error) {
			return health.CheckResult{Status: status, Details: map[string]interface{}{"fixed": true}}, nil
		},
	}
}

func newManager(t *testing.T, driver *testutil.FakeDriver, connect bool) *database.Manager {
	t.Helper()
	m := database.NewManager(driver, database.ManagerConfig{
		URI:    "mongodb://localhost:27017/user_service_test",
		Logger: logging.NewDiscard(),
	})
	if connect {
		require.NoError(t, m.Connect(context.Background()))
	}
	return m
}

func newClassifier(conn health.Connection) *health.Classifier {
	return health.NewClassifier(health.Options{
		Service:          "user-service",
		Environment:      "test",
		Connection:       conn,
		CheckTimeout:     time.Second,
		ReadinessTimeout: time.Second,
		Logger:           logging.NewDiscard(),
	})
}

func TestAggregate(t *testing.T) {
	r := func(name string, s health.Status) health.CheckResult {
		return health.CheckResult{Name: name, Status: s}
	}

	tests := []struct {
		name    string
		results []health.CheckResult
		want    health.Status
	}{
		{"all healthy", []health.CheckResult{
			r("application", health.StatusHealthy), r("connection", health.StatusHealthy),
			r("memory", health.StatusHealthy), r("cpu", health.StatusHealthy), r("environment", health.StatusHealthy),
		}, health.StatusHealthy},
		{"critical failure dominates", []health.CheckResult{
			r("application", health.StatusHealthy), r("connection", health.StatusUnhealthy),
			r("memory", health.StatusHealthy), r("cpu", health.StatusHealthy), r("environment", health.StatusHealthy),
		}, health.StatusUnhealthy},
		{"critical error with warnings", []health.CheckResult{
			r("application", health.StatusError), r("memory", health.StatusDegraded),
		}, health.StatusUnhealthy},
		{"warning degrades", []health.CheckResult{
			r("application", health.StatusHealthy), r("connection", health.StatusHealthy),
			r("cpu", health.StatusDegraded),
		}, health.StatusDegraded},
		{"missing environment degrades", []health.CheckResult{
			r("connection", health.StatusHealthy), r("environment", health.StatusUnhealthy),
		}, health.StatusDegraded},
		{"informational checks ignored", []health.CheckResult{
			r("connection", health.StatusHealthy), r("disk", health.StatusSkipped), r("dependencies", health.StatusError),
		}, health.StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, health.Aggregate(tt.results))
		})
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	results := []health.CheckResult{
		{Name: "application", Status: health.StatusHealthy},
		{Name: "connection", Status: health.StatusHealthy},
		{Name: "memory", Status: health.StatusDegraded},
		{Name: "cpu", Status: health.StatusHealthy},
		{Name: "environment", Status: health.StatusHealthy},
		{Name: "disk", Status: health.StatusUnhealthy},
	}
	want := health.Aggregate(results)
	require.Equal(t, health.StatusDegraded, want)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := append([]health.CheckResult(nil), results...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, health.Aggregate(shuffled))
	}
}

func TestDetailed_IsolatesProbeFailures(t *testing.T) {
	c := newClassifier(nil)
	c.Register(
		fixed(health.CheckApplication, health.StatusHealthy),
		fixed(health.CheckConnection, health.StatusHealthy),
		health.Probe{Name: health.CheckMemory, Check: func(context.Context) (health.CheckResult, error) {
			return health.CheckResult{}, errors.New("no meminfo")
		}},
		health.Probe{Name: health.CheckCPU, Check: func(context.Context) (health.CheckResult, error) {
			panic("sampler exploded")
		}},
		health.Probe{Name: health.CheckDisk, Timeout: 20 * time.Millisecond, Check: func(ctx context.Context) (health.CheckResult, error) {
			time.Sleep(time.Second)
			return health.CheckResult{Status: health.StatusHealthy}, nil
		}},
	)

	start := time.Now()
	report, err := c.Detailed(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "a hung probe must not block the report")

	assert.Equal(t, health.StatusDegraded, report.Status)
	assert.Equal(t, health.StatusHealthy, report.Checks["application"].Status)
	assert.Equal(t, health.StatusError, report.Checks["memory"].Status)
	assert.Equal(t, "no meminfo", report.Checks["memory"].Details["error"])
	assert.Equal(t, health.StatusError, report.Checks["cpu"].Status)
	assert.Contains(t, report.Checks["cpu"].Details["error"], "sampler exploded")
	assert.Equal(t, health.StatusError, report.Checks["disk"].Status)
}

func TestDetailed_Failures(t *testing.T) {
	c := newClassifier(nil)
	_, err := c.Detailed(context.Background())
	assert.Error(t, err, "no probes")

	c.Register(fixed(health.CheckApplication, health.StatusHealthy))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Detailed(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBasicAndLiveness(t *testing.T) {
	c := newClassifier(nil)

	b := c.Basic()
	assert.Equal(t, "OK", b.Status)
	assert.Equal(t, "user-service", b.Service)
	assert.Equal(t, "test", b.Environment)
	assert.GreaterOrEqual(t, b.Uptime, 0.0)

	assert.True(t, c.Liveness().Alive)
}

func TestReadiness(t *testing.T) {
	driver := testutil.NewFakeDriver()
	m := newManager(t, driver, false)
	c := newClassifier(m)

	ready := c.Readiness(context.Background())
	assert.False(t, ready.Ready)
	assert.Equal(t, "disconnected", ready.Database)
	assert.Equal(t, 0, driver.PingCalls())

	require.NoError(t, m.Connect(context.Background()))
	ready = c.Readiness(context.Background())
	assert.True(t, ready.Ready)
	assert.Equal(t, "connected", ready.Database)
}

// detailedRouter wires the handlers the way the application does, with
// deterministic resource probes.
func detailedRouter(m *database.Manager) *mux.Router {
	c := newClassifier(m)
	c.Register(
		health.ApplicationProbe(health.AppInfo{Name: "user-service", Version: "test"}, time.Now()),
		health.ConnectionProbe(m),
		fixed(health.CheckMemory, health.StatusHealthy),
		fixed(health.CheckCPU, health.StatusHealthy),
		health.EnvironmentProbe(func() map[string]bool { return map[string]bool{"MONGODB_URI": true} }),
		health.DependenciesProbe(),
	)
	r := mux.NewRouter()
	health.NewHandler(c, httputil.NewResponder(logging.NewDiscard(), config.EnvTest)).Register(r)
	return r
}

type detailedBody struct {
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Data       struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status  string                 `json:"status"`
			Details map[string]interface{} `json:"details"`
		} `json:"checks"`
	} `json:"data"`
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDetailedEndpoint_ConnectionFailureIsUnhealthy(t *testing.T) {
	driver := testutil.NewFakeDriver()
	m := newManager(t, driver, true)
	r := detailedRouter(m)

	rec := get(t, r, "/health/detailed")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body detailedBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Data.Status)
	memoryBefore := body.Data.Checks["memory"].Status

	driver.FailPingOnce(errors.New("server selection timeout"))

	rec = get(t, r, "/health/detailed")
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	body = detailedBody{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Data.Status)
	assert.Equal(t, "unhealthy", body.Data.Checks["connection"].Status)
	assert.Equal(t, false, body.Data.Checks["connection"].Details["responsive"])
	assert.Equal(t, memoryBefore, body.Data.Checks["memory"].Status)
	assert.Equal(t, 207, body.StatusCode)
	assert.True(t, body.Success)
}

func TestReadinessEndpoint(t *testing.T) {
	driver := testutil.NewFakeDriver()
	m := newManager(t, driver, false)
	r := detailedRouter(m)

	rec := get(t, r, "/health/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Ready bool `json:"ready"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.False(t, body.Data.Ready)

	require.NoError(t, m.Connect(context.Background()))
	rec = get(t, r, "/health/readiness")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicLivenessAndMetricsEndpoints(t *testing.T) {
	m := newManager(t, testutil.NewFakeDriver(), false)
	r := detailedRouter(m)

	rec := get(t, r, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"OK"`)

	rec = get(t, r, "/health/liveness")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive":true`)

	rec = get(t, r, "/health/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "user_service_database_connection_state"))
}

func TestDetailedEndpoint_ClassifierFailure(t *testing.T) {
	c := newClassifier(nil)
	r := mux.NewRouter()
	health.NewHandler(c, httputil.NewResponder(logging.NewDiscard(), config.EnvTest)).Register(r)

	rec := get(t, r, "/health/detailed")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
