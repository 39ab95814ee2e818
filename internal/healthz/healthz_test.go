package healthz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyProbe(name string) Probe {
	return FuncProbe{ProbeName: name, Fn: func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	}}
}

func degradedProbe(name string) Probe {
	return FuncProbe{ProbeName: name, Fn: func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded}
	}}
}

func unhealthyProbe(name string) Probe {
	return FuncProbe{ProbeName: name, Fn: func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusUnhealthy}
	}}
}

func TestAggregateUnhealthyDominatesDegradedDominatesHealthy(t *testing.T) {
	assert.Equal(t, StatusHealthy, Aggregate([]ComponentHealth{{Status: StatusHealthy}, {Status: StatusHealthy}}))
	assert.Equal(t, StatusDegraded, Aggregate([]ComponentHealth{{Status: StatusHealthy}, {Status: StatusDegraded}}))
	assert.Equal(t, StatusUnhealthy, Aggregate([]ComponentHealth{{Status: StatusDegraded}, {Status: StatusUnhealthy}}))
}

func TestAggregatorReadyRequiresHealthyDatabase(t *testing.T) {
	a := New()
	a.Register(healthyProbe(DatabaseProbeName))
	a.Register(degradedProbe("monitoring"))
	assert.True(t, a.Ready(context.Background()))

	b := New()
	b.Register(unhealthyProbe(DatabaseProbeName))
	assert.False(t, b.Ready(context.Background()))

	c := New()
	c.Register(healthyProbe("storage"))
	assert.False(t, c.Ready(context.Background()))
}

func TestAggregatorLiveIsAlwaysTrue(t *testing.T) {
	a := New()
	assert.True(t, a.Live())
}

func TestHTTPProbeHealthyAndUnhealthy(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }))
	defer bad.Close()

	p1 := NewHTTPProbe("monitoring", ok.URL)
	h1 := p1.Check(context.Background())
	assert.Equal(t, StatusHealthy, h1.Status)

	p2 := NewHTTPProbe("websocket", bad.URL)
	h2 := p2.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h2.Status)
}

func TestExecProbeExitCodeMapsToStatus(t *testing.T) {
	p := NewExecProbe("vm-manager", []string{"true"})
	h := p.Check(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)

	p = NewExecProbe("vm-manager", []string{"false"})
	h = p.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
}

func TestExecProbeNoCommandIsUnhealthy(t *testing.T) {
	p := NewExecProbe("vm-manager", nil)
	h := p.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Equal(t, "no command configured", h.Message)
}

func TestTCPProbeUnreachable(t *testing.T) {
	p := NewTCPProbe("storage", "127.0.0.1:1")
	h := p.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
}

func TestCheckFillsNameFromProbe(t *testing.T) {
	a := New()
	a.Register(healthyProbe("cluster"))
	results, overall := a.Check(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, "cluster", results[0].Name)
	assert.Equal(t, StatusHealthy, overall)
}
