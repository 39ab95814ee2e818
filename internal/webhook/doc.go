/*
Package webhook fans audit events out to subscribed external
endpoints with retry.

A Subscription names an endpoint and the event kinds it wants; an
empty kind set matches everything. Dispatch delivers the event to
every matching subscription concurrently, each on its own goroutine,
retried independently with exponential backoff up to the configured
attempt limit. The transport itself lives behind the Sender
interface, an HTTP POST in production and a fake in tests.

Outcomes land in a bounded delivery history, pruned oldest-first, so
operators can see which endpoints are failing without unbounded
memory growth. A delivery that exhausts its retries is recorded and
logged; it never propagates an error into the component that emitted
the event.

# Usage

	d := webhook.New(webhook.Config{MaxAttempts: 5}, httpSender)
	d.Subscribe(webhook.Subscription{
		ID:       "security-feed",
		Endpoint: "https://siem.example.com/hook",
		Kinds: map[types.EventKind]bool{
			types.EventLoginFailed:        true,
			types.EventBruteForceDetected: true,
		},
	})

	go d.Dispatch(ctx, event)

# Integration Points

This package integrates with:

  - internal/audit, whose events are the dispatch payload
  - internal/metrics for delivery counters and attempt histograms
*/
package webhook
