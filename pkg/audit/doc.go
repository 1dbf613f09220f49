// Package audit records append-only entries for every billing state change.
//
// An Event carries the entity type and ID, JSON snapshots of the entity before
// and after the change, the actor (a user id, "system" or a gateway name) and
// the source of the change (api, webhook or scheduler). Entries written as part
// of a business transaction are appended by the transaction itself; entries
// that happen outside one, such as rejected webhooks, go through a Logger.
//
// # Usage
//
//	storage := audit.NewMemoryStorage()
//	logger := audit.NewLogger(storage)
//
//	ctx = audit.ContextWithActor(ctx, "stripe")
//	err := logger.Log(ctx, "webhook.rejected",
//	    audit.WithSource(audit.SourceWebhook),
//	    audit.WithEntity("webhook_event", eventID),
//	    audit.WithMetadata("reason", "tenant mismatch"),
//	)
//
//	reader := audit.NewReader(storage)
//	events, err := reader.Find(ctx, audit.Criteria{
//	    EntityType: "subscription",
//	    EntityID:   subID,
//	})
//
// # Async Storage
//
// AsyncStorage batches writes to a slower backend. Store still waits for the
// flush that carries its events, so errors are not swallowed. When the buffer
// is full it writes directly. Always call the returned close func on shutdown.
//
//	async, closeFn := audit.NewAsyncStorage(pgStorage, audit.AsyncOptions{BatchSize: 50})
//	defer closeFn(context.Background())
//
// # Errors
//
//   - ErrEventValidation: required fields are missing
//   - ErrStorageNotAvailable: AsyncStorage has been closed
package audit
