package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/locker"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/statemachine"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
)

// Service owns the subscription lifecycle. Every state change goes through
// the same locked, transactional apply path.
type Service struct {
	store     Store
	catalog   *Catalog
	provider  gateway.Provider
	directory tenant.Directory
	locker    locker.Locker
	machine   statemachine.Machine
	validate  *validator.Validate
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates the subscription service.
// Panics if a required dependency is nil.
func NewService(store Store, catalog *Catalog, provider gateway.Provider, directory tenant.Directory, opts ...ServiceOption) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if catalog == nil {
		panic("subscription: Catalog is required")
	}
	if provider == nil {
		panic("subscription: gateway.Provider is required")
	}
	if directory == nil {
		panic("subscription: tenant.Directory is required")
	}

	s := &Service{
		store:     store,
		catalog:   catalog,
		provider:  provider,
		directory: directory,
		locker:    locker.NewMemory(),
		machine:   newLifecycle(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		cfg:       DefaultConfig(),
		logger:    discardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the plan catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Config returns the effective billing rules.
func (s *Service) Config() Config { return s.cfg }

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now().UTC() }

// TransitionRequest asks for a lifecycle event on one subscription.
type TransitionRequest struct {
	SubscriptionID uuid.UUID
	Event          Event
	Trigger        Trigger
	Params         TransitionParams
}

// Transition applies one lifecycle event. Replays of the same trigger are
// reported with Applied=false.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (Result, error) {
	var res Result
	err := s.withSubscription(ctx, req.SubscriptionID, func(ctx context.Context, tx Tx, sub *Subscription) error {
		var err error
		res, err = s.apply(ctx, tx, sub, req.Event, req.Trigger, req.Params)
		return err
	})
	return res, err
}

// CanTransition reports whether event is legal for sub right now.
func (s *Service) CanTransition(ctx context.Context, sub *Subscription, event Event, params TransitionParams) bool {
	if sub == nil {
		return false
	}
	data := &transitionData{sub: sub.Clone(), now: s.Now(), params: params, trigger: Trigger{OccurredAt: s.Now()}}
	return s.machine.CanFire(ctx, sub.Status, event, data)
}

// withSubscription runs fn under the subscription lock, inside one transaction,
// with the row loaded for update.
func (s *Service) withSubscription(ctx context.Context, subID uuid.UUID, fn func(ctx context.Context, tx Tx, sub *Subscription) error) error {
	release, err := s.lock(ctx, "subscription:"+subID.String())
	if err != nil {
		return err
	}
	defer release()

	return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		sub, err := tx.LockSubscription(ctx, subID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, sub)
	})
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()

	release, err := s.locker.Lock(lockCtx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return release, nil
}

// apply is the single code path for lifecycle events: legality, replay
// detection, persistence, tenant access flag and audit.
func (s *Service) apply(ctx context.Context, tx Tx, sub *Subscription, event Event, trigger Trigger, params TransitionParams) (Result, error) {
	now := s.Now()
	res, err := applyEvent(ctx, s.machine, sub, event, trigger, params, now)
	if err != nil {
		return res, err
	}
	if !res.Applied {
		s.logger.DebugContext(ctx, "transition skipped",
			logger.SubscriptionID(sub.ID),
			logger.Event(string(event)),
			slog.String("reason", res.Reason),
		)
		return res, nil
	}

	if err := tx.UpdateSubscription(ctx, res.Subscription); err != nil {
		return res, fmt.Errorf("update subscription: %w", err)
	}
	if err := tx.SetTenantAccess(ctx, sub.TenantID, res.To.AccessAllowed(), now); err != nil {
		return res, fmt.Errorf("set tenant access: %w", err)
	}
	entry := s.auditEvent("subscription."+string(event), trigger, sub.TenantID,
		audit.WithEntity("subscription", sub.ID.String()),
		audit.WithBefore(sub),
		audit.WithAfter(res.Subscription),
		audit.WithMetadata("from", string(res.From)),
		audit.WithMetadata("to", string(res.To)),
		audit.WithMetadata("trigger", trigger.Key),
	)
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return res, fmt.Errorf("append audit: %w", err)
	}

	s.logger.InfoContext(ctx, "subscription transition applied",
		logger.TenantID(sub.TenantID),
		logger.SubscriptionID(sub.ID),
		logger.Event(string(event)),
		slog.String("from", string(res.From)),
		slog.String("to", string(res.To)),
	)
	return res, nil
}

// save persists a change that is not a status move.
func (s *Service) save(ctx context.Context, tx Tx, before, after *Subscription, action string, trigger Trigger, opts ...audit.EventOption) error {
	after.UpdatedAt = s.Now()
	if err := tx.UpdateSubscription(ctx, after); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	opts = append([]audit.EventOption{
		audit.WithEntity("subscription", after.ID.String()),
		audit.WithBefore(before),
		audit.WithAfter(after),
	}, opts...)
	return tx.AppendAudit(ctx, s.auditEvent(action, trigger, after.TenantID, opts...))
}

func (s *Service) saveInvoice(ctx context.Context, tx Tx, before, after *invoice.Invoice, action string, trigger Trigger) error {
	after.UpdatedAt = s.Now()
	var err error
	if before == nil {
		after.CreatedAt = after.UpdatedAt
		err = tx.InsertInvoice(ctx, after)
	} else {
		err = tx.UpdateInvoice(ctx, after)
	}
	if err != nil {
		return fmt.Errorf("save invoice: %w", err)
	}

	opts := []audit.EventOption{
		audit.WithEntity("invoice", after.ID.String()),
		audit.WithAfter(after),
		audit.WithMetadata("status", string(after.Status)),
	}
	if before != nil {
		opts = append(opts, audit.WithBefore(before))
	}
	return tx.AppendAudit(ctx, s.auditEvent(action, trigger, after.TenantID, opts...))
}

func (s *Service) auditEvent(action string, trigger Trigger, tenantID uuid.UUID, opts ...audit.EventOption) audit.Event {
	base := []audit.EventOption{
		audit.WithTenant(tenantID.String()),
		audit.WithActor(trigger.Actor),
		audit.WithSource(trigger.Source),
		audit.WithTime(s.Now()),
	}
	return audit.NewEvent(action, append(base, opts...)...)
}

// newInvoice builds and numbers an issued invoice for sub.
func (s *Service) newInvoice(ctx context.Context, tx Tx, sub *Subscription, purpose invoice.Purpose, plan PlanSnapshot, cycle BillingCycle, amount Money) (*invoice.Invoice, error) {
	inv, err := invoice.New(sub.TenantID, sub.ID, purpose, amount.Currency, invoice.Item{
		Description: fmt.Sprintf("%s (%s)", plan.Name, cycle),
		Quantity:    1,
		UnitAmount:  amount.Amount,
	})
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	now := s.Now()
	seq, err := tx.NextInvoiceNumber(ctx, now.Year())
	if err != nil {
		return nil, fmt.Errorf("next invoice number: %w", err)
	}
	inv.Number = invoice.FormatNumber(now.Year(), seq)
	inv.PlanID = plan.PlanID
	inv.BillingCycle = string(cycle)
	if err := inv.Issue(now, time.Duration(s.cfg.InvoiceDueDays)*24*time.Hour); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) ownerContact(ctx context.Context, tenantID uuid.UUID) (tenant.Contact, error) {
	contact, err := s.directory.OwnerContact(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return tenant.Contact{}, errors.Join(ErrTenantNotFound, err)
		}
		return tenant.Contact{}, fmt.Errorf("resolve tenant contact: %w", err)
	}
	return contact, nil
}

// ensureCustomer returns the gateway customer of the tenant, creating it once.
func (s *Service) ensureCustomer(ctx context.Context, tenantID uuid.UUID, existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	contact, err := s.ownerContact(ctx, tenantID)
	if err != nil {
		return "", err
	}
	customer, err := s.provider.CreateCustomer(ctx, gateway.CustomerRequest{
		TenantID:       tenantID.String(),
		Email:          contact.Email,
		Name:           contact.Name,
		Metadata:       map[string]string{gateway.MetaTenantID: tenantID.String()},
		IdempotencyKey: gateway.IdempotencyKey("customer", tenantID.String()),
	})
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (s *Service) validateInput(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return errors.Join(ErrValidation, err)
	}
	return nil
}

// currentOpen returns the latest subscription of the tenant if it is not terminal.
func currentOpen(ctx context.Context, q Queries, tenantID uuid.UUID) (*Subscription, error) {
	sub, err := q.FindCurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.IsTerminal() {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}
