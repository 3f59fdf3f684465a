package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	}
	t.Fatalf("unexpected metric %v", &m)
	return 0
}

func count(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return len(f.GetMetric())
		}
	}
	return 0
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SessionOpened("tcp")
	m.SessionClosed("tcp", "stall")
	m.PacketIn("tcp", "call")
	m.PacketOut("tcp", "ack")
	m.CallDone(OutcomeOK)
	m.ObserveHook("foo", time.Millisecond, nil)
}

func TestSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg))

	m.SessionOpened("tcp")
	m.SessionOpened("tcp")
	m.SessionClosed("tcp", "")

	if got := value(t, m.activeSessions.WithLabelValues("tcp")); got != 1 {
		t.Fatalf("expect 1 active session, got %v", got)
	}
	if got := count(t, reg, "bsock_session_failures_total"); got != 0 {
		t.Fatalf("clean close must not count a failure, got %d series", got)
	}

	m.SessionClosed("tcp", "bad_pong")
	if got := value(t, m.sessionFailures.WithLabelValues("tcp", "bad_pong")); got != 1 {
		t.Fatalf("expect 1 failure, got %v", got)
	}
}

func TestHookErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("test"))

	m.ObserveHook("foo", time.Millisecond, nil)
	m.ObserveHook("foo", time.Millisecond, errors.New("boom"))

	if got := value(t, m.hookErrors.WithLabelValues("foo")); got != 1 {
		t.Fatalf("expect 1 hook error, got %v", got)
	}
}
