package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AlexKimmel/RoleGate/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		l := NewLogger(&bytes.Buffer{}, tt.in)
		assert.Equal(t, tt.want, l.GetLevel(), "level %q", tt.in)
	}
}

func TestLogger_AccessLine(t *testing.T) {
	var buf bytes.Buffer
	h := Logger(NewLogger(&buf, "info"))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/resource", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req", line["message"])
	assert.Equal(t, "/v1/resource", line["path"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
}

func TestMetrics_Observer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveDecision("user", ratelimit.Allowed)
	m.ObserveDecision("user", ratelimit.Allowed)
	m.ObserveDecision("user", ratelimit.Denied)
	m.ObserveDecision("ghost", ratelimit.UnknownRole)
	m.ObserveBuckets(3)
	m.ObserveBuckets(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("user", "Allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("user", "Denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("ghost", "UnknownRole")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Buckets))
}

func TestMetrics_Middleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := m.Middleware(map[string]struct{}{"/health": {}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/limited" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, p := range []string{"/ok", "/limited", "/limited", "/health"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "429")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}
