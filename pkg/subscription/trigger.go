package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
)

// Trigger identifies what caused a transition. Key makes replays detectable.
type Trigger struct {
	Key        string
	Source     audit.Source
	Actor      string
	OccurredAt time.Time
}

// WebhookTrigger builds the trigger for a gateway event.
func WebhookTrigger(provider, eventID string, occurredAt time.Time) Trigger {
	return Trigger{
		Key:        fmt.Sprintf("webhook:%s:%s", provider, eventID),
		Source:     audit.SourceWebhook,
		Actor:      provider,
		OccurredAt: occurredAt,
	}
}

// JobTrigger builds the trigger for a scheduled job acting on one subscription on a given day.
func JobTrigger(job string, subID uuid.UUID, now time.Time) Trigger {
	return Trigger{
		Key:        fmt.Sprintf("job:%s:%s:%s", job, subID, now.UTC().Format(time.DateOnly)),
		Source:     audit.SourceScheduler,
		Actor:      job,
		OccurredAt: now,
	}
}

// APITrigger builds the trigger for a collaborator call.
func APITrigger(actor, key string, now time.Time) Trigger {
	return Trigger{
		Key:        "api:" + key,
		Source:     audit.SourceAPI,
		Actor:      actor,
		OccurredAt: now,
	}
}
