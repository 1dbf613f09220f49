// Package reconcile ingests payment gateway webhooks and turns them into
// subscription and invoice state changes.
//
// A delivery is verified, parsed into a normalized gateway.Event, resolved
// to the local subscription by gateway ids and deduplicated by (provider,
// event id), first in an LRU and then durably through EventStore.Begin. The
// change itself is applied by the subscription service under the
// per-subscription lock, with the trigger key webhook:<provider>:<event_id>
// so a replay after a crash is a no-op.
//
// Processing failures are acknowledged, stored as failed and retried by
// RetryFailed with exponential backoff until the attempts run out:
//
//	proc := reconcile.NewProcessor(billingService, reconcile.NewMemoryEventStore(),
//		reconcile.WithProvider(provider),
//		reconcile.WithConfig(cfg),
//	)
//	res, err := proc.HandleWebhook(ctx, "stripe", body, r.Header.Get("Stripe-Signature"))
package reconcile
