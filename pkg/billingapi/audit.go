package billingapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
)

// AuditReader is the query side of the audit log.
type AuditReader interface {
	Find(ctx context.Context, c audit.Criteria) ([]audit.Event, error)
	Count(ctx context.Context, c audit.Criteria) (int64, error)
}

// WithAuditReader mounts GET /tenants/{tenantID}/audit.
func WithAuditReader(r AuditReader) Option {
	return func(a *API) { a.audit = r }
}

const defaultAuditPageSize = 50

type auditRequest struct {
	TenantID   uuid.UUID `path:"tenantID" validate:"required"`
	EntityType string    `query:"entity_type" validate:"omitempty,oneof=subscription invoice payment_transaction webhook_event"`
	EntityID   string    `query:"entity_id" validate:"max=64"`
	Action     string    `query:"action" validate:"max=64"`
	Result     string    `query:"result" validate:"omitempty,oneof=success failure error"`
	Limit      int       `query:"limit" validate:"gte=0,lte=200"`
	Offset     int       `query:"offset" validate:"gte=0"`
}

// AuditPage is one page of audit entries. Total ignores paging.
type AuditPage struct {
	Events []audit.Event `json:"events"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (a *API) listAudit(r *http.Request, req auditRequest) Response {
	if req.Limit == 0 {
		req.Limit = defaultAuditPageSize
	}
	c := audit.Criteria{
		TenantID:   req.TenantID.String(),
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Action:     req.Action,
		Result:     audit.Result(req.Result),
		Limit:      req.Limit,
		Offset:     req.Offset,
	}

	events, err := a.audit.Find(r.Context(), c)
	if err != nil {
		return a.Error(err)
	}
	total, err := a.audit.Count(r.Context(), c)
	if err != nil {
		return a.Error(err)
	}
	if events == nil {
		events = []audit.Event{}
	}
	return JSON(http.StatusOK, AuditPage{Events: events, Total: total, Limit: req.Limit, Offset: req.Offset})
}
