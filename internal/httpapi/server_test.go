package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordergate/internal/core"
	"ordergate/internal/infra/persistence/memory"
	"ordergate/internal/inflow"
	"ordergate/internal/monitor"
	"ordergate/internal/tracker"
	"ordergate/pkg/domain"
	"ordergate/testutil"
)

const secret = "whsec"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeProcessor struct {
	mu      sync.Mutex
	calls   []string
	alerts  []bool
	err     error
	history []domain.Report
}

func (f *fakeProcessor) Process(_ context.Context, orderID string, alert bool) (core.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, orderID)
	f.alerts = append(f.alerts, alert)
	if f.err != nil {
		return core.Outcome{}, f.err
	}
	return core.Outcome{
		Report: domain.Report{
			OrderID:     orderID,
			OrderNumber: "SO-" + orderID,
			Status:      domain.StatusFailed,
			Issues:      []domain.Issue{{Rule: "R", Message: "m", Severity: domain.SeverityError}},
		},
		Notified: alert,
	}, nil
}

func (f *fakeProcessor) History(context.Context, string) ([]domain.Report, error) {
	return f.history, f.err
}

type fakeMonitor struct {
	mu        sync.Mutex
	triggered int
}

func (m *fakeMonitor) TriggerAsync(context.Context) {
	m.mu.Lock()
	m.triggered++
	m.mu.Unlock()
}

func (m *fakeMonitor) Status() monitor.Status {
	return monitor.Status{Running: true, IntervalMinutes: 10}
}

type fixture struct {
	srv     *Server
	proc    *fakeProcessor
	mon     *fakeMonitor
	tracker *tracker.Tracker
	clock   *testutil.Clock
}

func newFixture(t *testing.T, mutate func(*Deps)) fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	f := fixture{
		proc:    &fakeProcessor{},
		mon:     &fakeMonitor{},
		tracker: tracker.New(memory.NewStore(), tracker.WithClock(clock.Now)),
		clock:   clock,
	}
	deps := Deps{
		Processor:     f.proc,
		Tracker:       f.tracker,
		Monitor:       f.mon,
		Metrics:       promhttp.Handler(),
		WebhookSecret: secret,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.srv = New(deps)
	return f
}

func (f fixture) do(method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func signed(body string) map[string]string {
	return map[string]string{SignatureHeader: Sign(secret, []byte(body))}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, map[string]any{"running": true, "interval_minutes": float64(10)}, body["monitor"])
}

func TestWebhookSignature(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"eventType":"SalesOrderUpdatedV1","salesOrderId":"o1"}`

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/webhook/inflow", []byte(body), nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/webhook/inflow", []byte(body), map[string]string{SignatureHeader: "not base64!"}).Code)
	tampered := signed(body)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/webhook/inflow", []byte(body+" "), tampered).Code)
	assert.Empty(t, f.proc.calls)

	rec := f.do(http.MethodPost, "/webhook/inflow", []byte(body), signed(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "processed", out["status"])
	assert.Equal(t, "failed", out["validation_status"])
	assert.Equal(t, []string{"o1"}, f.proc.calls)
	assert.Equal(t, []bool{true}, f.proc.alerts)
}

func TestWebhookRejectsWhenSecretUnset(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.WebhookSecret = "" })
	body := `{"eventType":"salesOrder.created","salesOrderId":"o1"}`
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/webhook/inflow", []byte(body), signed(body)).Code)
}

func TestWebhookPayloadHandling(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		calls  int
	}{
		{"order id under data", `{"eventType":"salesOrder.created","data":{"salesOrderId":"o2"}}`, http.StatusOK, 1},
		{"missing order id", `{"eventType":"salesOrder.created"}`, http.StatusBadRequest, 0},
		{"other event", `{"eventType":"ProductUpdatedV1","salesOrderId":"o3"}`, http.StatusOK, 0},
		{"malformed json", `{"eventType":`, http.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(http.MethodPost, "/webhook/inflow", []byte(tc.body), signed(tc.body))
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Len(t, f.proc.calls, tc.calls)
		})
	}
}

func TestWebhookIgnoredEventReportsStatus(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"eventType":"CustomerCreatedV1","salesOrderId":"o1"}`
	out := decode(t, f.do(http.MethodPost, "/webhook/inflow", []byte(body), signed(body)))
	assert.Equal(t, "ignored", out["status"])
}

func TestWebhookFetchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.proc.err = errors.New("inflow down")
	body := `{"eventType":"SalesOrderCreatedV1","salesOrderId":"o1"}`
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodPost, "/webhook/inflow", []byte(body), signed(body)).Code)
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/validate/o9", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "o9", report.OrderID)
	assert.Equal(t, []bool{false}, f.proc.alerts, "manual validation never notifies")

	f.proc.err = fmt.Errorf("order o9: %w", inflow.ErrOrderNotFound)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/validate/o9", nil, nil).Code)
	f.proc.err = core.ErrNoOrderSource
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/validate/o9", nil, nil).Code)
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	out := decode(t, f.do(http.MethodGet, "/history/o1", nil, nil))
	assert.EqualValues(t, 0, out["count"])
	assert.Equal(t, []any{}, out["history"])

	f.proc.history = []domain.Report{{ID: "r2", OrderID: "o1"}, {ID: "r1", OrderID: "o1"}}
	out = decode(t, f.do(http.MethodGet, "/history/o1", nil, nil))
	assert.EqualValues(t, 2, out["count"])
}

func TestPendingErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	issue := domain.Issue{Rule: "R", Message: "m", Severity: domain.SeverityError}
	f.tracker.Track(ctx, "o1", "fp-old", issue, "SO-1")
	f.clock.Advance(31 * time.Minute)
	f.tracker.Track(ctx, "o2", "fp-new", issue, "SO-2")

	all := decode(t, f.do(http.MethodGet, "/errors/pending", nil, nil))
	assert.EqualValues(t, 2, all["count"])
	expired := decode(t, f.do(http.MethodGet, "/errors/pending?expired=true", nil, nil))
	assert.EqualValues(t, 1, expired["count"])
	assert.EqualValues(t, 30, expired["grace_period_minutes"])
}

func TestMonitorTriggerAndStatus(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.TriggerPerMinute = 1 })
	rec := f.do(http.MethodPost, "/monitor/trigger", nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, decode(t, rec)["triggered"])
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/monitor/trigger", nil, nil).Code)
	assert.Equal(t, 1, f.mon.triggered)

	status := decode(t, f.do(http.MethodGet, "/monitor/status", nil, nil))
	assert.Equal(t, true, status["running"])
	assert.EqualValues(t, 10, status["interval_minutes"])
}

func TestMonitorUnconfigured(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Monitor = nil })
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/monitor/trigger", nil, nil).Code)
	assert.Equal(t, false, decode(t, f.do(http.MethodGet, "/monitor/status", nil, nil))["running"])
	assert.NotContains(t, decode(t, f.do(http.MethodGet, "/", nil, nil)), "monitor")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSignRoundTrip(t *testing.T) {
	body := []byte(`{"a":1}`)
	require.NoError(t, verifySignature("k", body, Sign("k", body)))
	require.ErrorIs(t, verifySignature("k", body, Sign("other", body)), errBadSignature)
	require.ErrorIs(t, verifySignature("k", body, ""), errMissingSignature)
	require.ErrorIs(t, verifySignature("", body, "x"), errNoSecret)
}
