/*
Package healthz aggregates per-component health probes into one
overall status plus readiness and liveness signals.

Each registered Probe checks one dependency (database, monitoring,
storage, VM manager, cluster, websocket) and reports a
ComponentHealth with status, message, and latency. Aggregation is
strict dominance: any unhealthy component makes the whole process
unhealthy, otherwise any degraded component makes it degraded,
otherwise it is healthy.

Readiness is true iff the probe named "database" reports healthy.
Liveness is unconditionally true once the process is constructed;
it answers "is this process running", not "are its dependencies up".

# Probes

  - TCPProbe: dials an address, unhealthy on connect failure
  - HTTPProbe: healthy inside the accepted status window, degraded on
    other non-5xx responses, unhealthy on 5xx or transport errors
  - ExecProbe: healthy iff the command exits zero within its timeout
  - FuncProbe: adapts an in-process check without a dedicated type

# Usage

	agg := healthz.New()
	agg.Register(healthz.FuncProbe{
		ProbeName: healthz.DatabaseProbeName,
		Fn:        checkDatabase,
	})
	agg.Register(healthz.NewTCPProbe("storage", "10.0.0.5:3260"))

	results, overall := agg.Check(ctx)
	ready := agg.Ready(ctx)

# Integration Points

This package integrates with:

  - internal/metrics, which exports a gauge per component
  - cmd/vcpd, which serves the aggregate over /healthz and /readyz
    and prints the startup-check summary
*/
package healthz
