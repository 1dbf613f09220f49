package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
)

// TenantAccess is the access flag written for a tenant.
type TenantAccess struct {
	Active    bool
	UpdatedAt time.Time
}

// MemoryStore is an in-process Store for tests and development.
// Transactions are serialized and work on a copy that replaces the
// committed state on success.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
	audit audit.Storage
}

type memoryState struct {
	subs     map[uuid.UUID]*Subscription
	invoices map[uuid.UUID]*invoice.Invoice
	seq      map[int]int64
	access   map[uuid.UUID]TenantAccess
	order    map[uuid.UUID]uint64 // insertion order of subscriptions
	next     uint64
}

// NewMemoryStore creates an empty store. Audit entries are committed to auditStorage;
// a nil storage keeps them in an audit.MemoryStorage.
func NewMemoryStore(auditStorage audit.Storage) *MemoryStore {
	if auditStorage == nil {
		auditStorage = audit.NewMemoryStorage()
	}
	return &MemoryStore{
		state: &memoryState{
			subs:     map[uuid.UUID]*Subscription{},
			invoices: map[uuid.UUID]*invoice.Invoice{},
			seq:      map[int]int64{},
			access:   map[uuid.UUID]TenantAccess{},
			order:    map[uuid.UUID]uint64{},
		},
		audit: auditStorage,
	}
}

// Audit returns the storage audit entries are committed to.
func (m *MemoryStore) Audit() audit.Storage {
	return m.audit
}

// TenantAccess returns the last written access flag of a tenant.
func (m *MemoryStore) TenantAccess(tenantID uuid.UUID) (TenantAccess, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.state.access[tenantID]
	return a, ok
}

// WithTx implements Store.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{state: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(tx.audit) > 0 {
		if err := m.audit.Store(ctx, tx.audit...); err != nil {
			return errors.Join(audit.ErrStorageNotAvailable, err)
		}
	}
	m.state = tx.state
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getSubscription(id)
}

func (m *MemoryStore) FindCurrentByTenant(_ context.Context, tenantID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findCurrentByTenant(tenantID)
}

func (m *MemoryStore) FindByGatewaySubscription(_ context.Context, gatewayID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findByGatewaySubscription(gatewayID)
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listSubscriptions(filter), nil
}

func (m *MemoryStore) GetInvoice(_ context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getInvoice(id)
}

func (m *MemoryStore) FindInvoiceByGatewayCharge(_ context.Context, chargeID string) (*invoice.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findInvoiceByGatewayCharge(chargeID)
}

func (m *MemoryStore) ListInvoices(_ context.Context, filter InvoiceFilter) ([]*invoice.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listInvoices(filter), nil
}

type memoryTx struct {
	state *memoryState
	audit []audit.Event
}

func (tx *memoryTx) GetSubscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	return tx.state.getSubscription(id)
}

func (tx *memoryTx) FindCurrentByTenant(_ context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return tx.state.findCurrentByTenant(tenantID)
}

func (tx *memoryTx) FindByGatewaySubscription(_ context.Context, gatewayID string) (*Subscription, error) {
	return tx.state.findByGatewaySubscription(gatewayID)
}

func (tx *memoryTx) ListSubscriptions(_ context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	return tx.state.listSubscriptions(filter), nil
}

func (tx *memoryTx) GetInvoice(_ context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	return tx.state.getInvoice(id)
}

func (tx *memoryTx) FindInvoiceByGatewayCharge(_ context.Context, chargeID string) (*invoice.Invoice, error) {
	return tx.state.findInvoiceByGatewayCharge(chargeID)
}

func (tx *memoryTx) ListInvoices(_ context.Context, filter InvoiceFilter) ([]*invoice.Invoice, error) {
	return tx.state.listInvoices(filter), nil
}

// LockSubscription is a plain read: the whole transaction already holds the store lock.
func (tx *memoryTx) LockSubscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	return tx.state.getSubscription(id)
}

func (tx *memoryTx) InsertSubscription(_ context.Context, sub *Subscription) error {
	if _, exists := tx.state.subs[sub.ID]; exists {
		return ErrSubscriptionExists
	}
	tx.state.subs[sub.ID] = sub.Clone()
	tx.state.next++
	tx.state.order[sub.ID] = tx.state.next
	return nil
}

func (tx *memoryTx) UpdateSubscription(_ context.Context, sub *Subscription) error {
	if _, exists := tx.state.subs[sub.ID]; !exists {
		return ErrSubscriptionNotFound
	}
	tx.state.subs[sub.ID] = sub.Clone()
	return nil
}

func (tx *memoryTx) InsertInvoice(_ context.Context, inv *invoice.Invoice) error {
	if _, exists := tx.state.invoices[inv.ID]; exists {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}
	for _, other := range tx.state.invoices {
		if inv.Number != "" && other.Number == inv.Number {
			return invoice.ErrInvalidNumber
		}
	}
	tx.state.invoices[inv.ID] = inv.Clone()
	return nil
}

func (tx *memoryTx) UpdateInvoice(_ context.Context, inv *invoice.Invoice) error {
	if _, exists := tx.state.invoices[inv.ID]; !exists {
		return ErrInvoiceNotFound
	}
	tx.state.invoices[inv.ID] = inv.Clone()
	return nil
}

func (tx *memoryTx) NextInvoiceNumber(_ context.Context, year int) (int64, error) {
	tx.state.seq[year]++
	return tx.state.seq[year], nil
}

func (tx *memoryTx) SetTenantAccess(_ context.Context, tenantID uuid.UUID, active bool, at time.Time) error {
	tx.state.access[tenantID] = TenantAccess{Active: active, UpdatedAt: at}
	return nil
}

func (tx *memoryTx) AppendAudit(_ context.Context, events ...audit.Event) error {
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return err
		}
	}
	tx.audit = append(tx.audit, events...)
	return nil
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		subs:     make(map[uuid.UUID]*Subscription, len(s.subs)),
		invoices: make(map[uuid.UUID]*invoice.Invoice, len(s.invoices)),
		seq:      maps.Clone(s.seq),
		access:   maps.Clone(s.access),
		order:    maps.Clone(s.order),
		next:     s.next,
	}
	// rows are replaced, never mutated in place, so sharing pointers is safe
	maps.Copy(c.subs, s.subs)
	maps.Copy(c.invoices, s.invoices)
	return c
}

func (s *memoryState) getSubscription(id uuid.UUID) (*Subscription, error) {
	sub, ok := s.subs[id]
	if !ok || sub.IsDeleted() {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (s *memoryState) findCurrentByTenant(tenantID uuid.UUID) (*Subscription, error) {
	var latest *Subscription
	for _, sub := range s.subs {
		if sub.TenantID != tenantID || sub.IsDeleted() {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) ||
			(sub.CreatedAt.Equal(latest.CreatedAt) && s.order[sub.ID] > s.order[latest.ID]) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ErrSubscriptionNotFound
	}
	return latest.Clone(), nil
}

func (s *memoryState) findByGatewaySubscription(gatewayID string) (*Subscription, error) {
	if gatewayID == "" {
		return nil, ErrSubscriptionNotFound
	}
	for _, sub := range s.subs {
		if sub.GatewaySubscriptionID == gatewayID && !sub.IsDeleted() {
			return sub.Clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *memoryState) listSubscriptions(filter SubscriptionFilter) []*Subscription {
	var out []*Subscription
	for _, sub := range s.subs {
		if filter.Matches(sub) {
			out = append(out, sub.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (s *memoryState) getInvoice(id uuid.UUID) (*invoice.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return inv.Clone(), nil
}

func (s *memoryState) findInvoiceByGatewayCharge(chargeID string) (*invoice.Invoice, error) {
	if chargeID == "" {
		return nil, ErrInvoiceNotFound
	}
	for _, inv := range s.invoices {
		if inv.GatewayChargeID == chargeID || (inv.Pix != nil && inv.Pix.ChargeID == chargeID) {
			return inv.Clone(), nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (s *memoryState) listInvoices(filter InvoiceFilter) []*invoice.Invoice {
	var out []*invoice.Invoice
	for _, inv := range s.invoices {
		if filter.Matches(inv) {
			out = append(out, inv.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *invoice.Invoice) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Number, b.Number))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}
