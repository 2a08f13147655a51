package domain

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryTxKey struct{}

// MemoryRepository is an in-process Repository used for local runs and tests.
// Writes are serialized; WithTransaction holds the write lock for the whole
// callback and restores a snapshot when it fails.
type MemoryRepository struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	users     map[string]User
	mechanics map[string]MechanicProfile
	requests  map[string]ServiceRequest
	payments  map[string]Payment
	outbox    map[string]OutboxEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[string]User),
		mechanics: make(map[string]MechanicProfile),
		requests:  make(map[string]ServiceRequest),
		payments:  make(map[string]Payment),
		outbox:    make(map[string]OutboxEvent),
	}
}

// write takes the write lock unless ctx is already inside WithTransaction.
func (r *MemoryRepository) write(ctx context.Context) func() {
	unlockTx := func() {}
	if ctx.Value(memoryTxKey{}) == nil {
		r.txMu.Lock()
		unlockTx = r.txMu.Unlock
	}
	r.mu.Lock()
	return func() {
		r.mu.Unlock()
		unlockTx()
	}
}

func (r *MemoryRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	users, mechanics, requests := maps.Clone(r.users), maps.Clone(r.mechanics), maps.Clone(r.requests)
	payments, outbox := maps.Clone(r.payments), maps.Clone(r.outbox)
	r.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memoryTxKey{}, true)); err != nil {
		r.mu.Lock()
		r.users, r.mechanics, r.requests = users, mechanics, requests
		r.payments, r.outbox = payments, outbox
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return ctx.Err() }

// User operations

func (r *MemoryRepository) CreateUser(ctx context.Context, user *User) error {
	defer r.write(ctx)()
	for _, u := range r.users {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = NormalizeEmail(email)
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*User, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out[id] = &u
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListUsers(ctx context.Context, page Page) ([]*User, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := collect(r.users, func(u *User) time.Time { return u.CreatedAt })
	return paginate(all, page), int64(len(all)), nil
}

func (r *MemoryRepository) CountUsersByRole(ctx context.Context, role Role) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, u := range r.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteUser(ctx context.Context, id string) error {
	defer r.write(ctx)()
	if _, ok := r.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

// Mechanic operations

func (r *MemoryRepository) CreateMechanic(ctx context.Context, profile *MechanicProfile) error {
	defer r.write(ctx)()
	for _, m := range r.mechanics {
		if m.UserID == profile.UserID {
			return ErrMechanicProfileExists
		}
	}
	r.mechanics[profile.ID] = *profile
	return nil
}

func (r *MemoryRepository) GetMechanicByID(ctx context.Context, id string) (*MechanicProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mechanics[id]
	if !ok {
		return nil, ErrMechanicNotFound
	}
	return &m, nil
}

func (r *MemoryRepository) GetMechanicByUserID(ctx context.Context, userID string) (*MechanicProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mechanicByUser(userID)
}

func (r *MemoryRepository) mechanicByUser(userID string) (*MechanicProfile, error) {
	for _, m := range r.mechanics {
		if m.UserID == userID {
			return &m, nil
		}
	}
	return nil, ErrMechanicNotFound
}

func (r *MemoryRepository) GetMechanicsByIDs(ctx context.Context, ids []string) (map[string]*MechanicProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*MechanicProfile, len(ids))
	for _, id := range ids {
		if m, ok := r.mechanics[id]; ok {
			out[id] = &m
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpdateMechanicLocation(ctx context.Context, userID string, location Coordinates) (*MechanicProfile, error) {
	defer r.write(ctx)()
	m, err := r.mechanicByUser(userID)
	if err != nil {
		return nil, err
	}
	m.CurrentLocation = &location
	r.mechanics[m.ID] = *m
	return m, nil
}

func (r *MemoryRepository) ToggleMechanicAvailability(ctx context.Context, userID string) (*MechanicProfile, error) {
	defer r.write(ctx)()
	m, err := r.mechanicByUser(userID)
	if err != nil {
		return nil, err
	}
	m.IsAvailable = !m.IsAvailable
	r.mechanics[m.ID] = *m
	return m, nil
}

func (r *MemoryRepository) ReserveMechanic(ctx context.Context, mechanicID string) (*MechanicProfile, error) {
	defer r.write(ctx)()
	m, ok := r.mechanics[mechanicID]
	if !ok {
		return nil, ErrMechanicNotFound
	}
	if !m.IsAvailable {
		return nil, ErrMechanicUnavailable
	}
	m.IsAvailable = false
	r.mechanics[mechanicID] = m
	return &m, nil
}

func (r *MemoryRepository) ReleaseMechanic(ctx context.Context, mechanicID string) (*MechanicProfile, error) {
	defer r.write(ctx)()
	m, ok := r.mechanics[mechanicID]
	if !ok {
		return nil, ErrMechanicNotFound
	}
	if m.IsAvailable {
		return nil, ErrMechanicNotReserved
	}
	m.IsAvailable = true
	r.mechanics[mechanicID] = m
	return &m, nil
}

func (r *MemoryRepository) FindAvailableMechanicsInBox(ctx context.Context, box BoundingBox) ([]*MechanicProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MechanicProfile, 0)
	for _, m := range r.mechanics {
		if m.MatchesProximity(box) {
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) ListMechanics(ctx context.Context, page Page) ([]*MechanicProfile, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := collect(r.mechanics, func(m *MechanicProfile) time.Time { return m.CreatedAt })
	return paginate(all, page), int64(len(all)), nil
}

func (r *MemoryRepository) CountMechanics(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.mechanics)), nil
}

// Service request operations

func (r *MemoryRepository) CreateRequest(ctx context.Context, req *ServiceRequest) error {
	defer r.write(ctx)()
	r.requests[req.ID] = *req
	return nil
}

func (r *MemoryRepository) GetRequestByID(ctx context.Context, id string) (*ServiceRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrServiceRequestNotFound
	}
	return &req, nil
}

func (r *MemoryRepository) GetRequestsByIDs(ctx context.Context, ids []string) (map[string]*ServiceRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*ServiceRequest, len(ids))
	for _, id := range ids {
		if req, ok := r.requests[id]; ok {
			out[id] = &req
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListRequestsByUser(ctx context.Context, userID string) ([]*ServiceRequest, error) {
	return r.filterRequests(func(req *ServiceRequest) bool { return req.UserID == userID }), nil
}

func (r *MemoryRepository) ListRequestsByMechanic(ctx context.Context, mechanicID string) ([]*ServiceRequest, error) {
	return r.filterRequests(func(req *ServiceRequest) bool { return req.MechanicID == mechanicID }), nil
}

func (r *MemoryRepository) filterRequests(keep func(*ServiceRequest) bool) []*ServiceRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := collect(r.requests, func(req *ServiceRequest) time.Time { return req.CreatedAt })
	out := make([]*ServiceRequest, 0, len(all))
	for _, req := range all {
		if keep(req) {
			out = append(out, req)
		}
	}
	return out
}

func (r *MemoryRepository) ListRequests(ctx context.Context, page Page) ([]*ServiceRequest, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := collect(r.requests, func(req *ServiceRequest) time.Time { return req.CreatedAt })
	return paginate(all, page), int64(len(all)), nil
}

func (r *MemoryRepository) AssignRequest(ctx context.Context, id, mechanicID string) (*ServiceRequest, error) {
	defer r.write(ctx)()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrServiceRequestNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrStaleStatus
	}
	req.MechanicID = mechanicID
	req.Status = StatusAssigned
	r.requests[id] = req
	return &req, nil
}

func (r *MemoryRepository) TransitionRequest(ctx context.Context, id string, from, to RequestStatus, completedAt *time.Time) (*ServiceRequest, error) {
	defer r.write(ctx)()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrServiceRequestNotFound
	}
	if req.Status != from {
		return nil, ErrStaleStatus
	}
	req.Status = to
	if completedAt != nil {
		at := *completedAt
		req.CompletedAt = &at
	}
	r.requests[id] = req
	return &req, nil
}

func (r *MemoryRepository) SettleRequest(ctx context.Context, id string, amount float64, completedAt time.Time) (*ServiceRequest, error) {
	defer r.write(ctx)()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrServiceRequestNotFound
	}
	if !req.Status.Settleable() {
		return nil, ErrStaleStatus
	}
	req.ActualCost = &amount
	req.Status = StatusCompleted
	if req.CompletedAt == nil {
		req.CompletedAt = &completedAt
	}
	r.requests[id] = req
	return &req, nil
}

func (r *MemoryRepository) OverrideRequest(ctx context.Context, id string, override RequestOverride) (*ServiceRequest, error) {
	defer r.write(ctx)()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrServiceRequestNotFound
	}
	if override.Status != nil {
		req.Status = *override.Status
	}
	if override.EstimatedCost != nil {
		v := *override.EstimatedCost
		req.EstimatedCost = &v
	}
	if override.ActualCost != nil {
		v := *override.ActualCost
		req.ActualCost = &v
	}
	if override.CompletedAt != nil {
		v := *override.CompletedAt
		req.CompletedAt = &v
	}
	r.requests[id] = req
	return &req, nil
}

func (r *MemoryRepository) CountRequests(ctx context.Context, status *RequestStatus) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, req := range r.requests {
		if status == nil || req.Status == *status {
			n++
		}
	}
	return n, nil
}

// Payment operations

func (r *MemoryRepository) CreatePayment(ctx context.Context, payment *Payment) error {
	defer r.write(ctx)()
	r.payments[payment.ID] = *payment
	return nil
}

func (r *MemoryRepository) GetPaymentByID(ctx context.Context, id string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) CompletePayment(ctx context.Context, id, gatewayPaymentID string, at time.Time) (*Payment, error) {
	defer r.write(ctx)()
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if p.Status != PaymentPending {
		return nil, ErrPaymentNotPending
	}
	p.Status = PaymentCompleted
	p.GatewayPaymentID = gatewayPaymentID
	p.CompletedAt = &at
	r.payments[id] = p
	return &p, nil
}

func (r *MemoryRepository) ListPayments(ctx context.Context, page Page) ([]*Payment, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := collect(r.payments, func(p *Payment) time.Time { return p.CreatedAt })
	return paginate(all, page), int64(len(all)), nil
}

func (r *MemoryRepository) ListPaymentsByStatus(ctx context.Context, status PaymentStatus) ([]*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Payment, 0)
	for _, p := range collect(r.payments, func(p *Payment) time.Time { return p.CreatedAt }) {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SumPayments(ctx context.Context, status PaymentStatus) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := decimal.Zero
	for _, p := range r.payments {
		if p.Status == status {
			total = total.Add(decimal.NewFromFloat(p.Amount))
		}
	}
	return total, nil
}

// Outbox operations

func (r *MemoryRepository) SaveOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	defer r.write(ctx)()
	r.outbox[event.ID] = *event
	return nil
}

func (r *MemoryRepository) GetUnprocessedOutboxEvents(ctx context.Context, limit int64) ([]*OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*OutboxEvent, 0)
	for _, e := range r.outbox {
		if !e.Processed {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkOutboxEventProcessed(ctx context.Context, eventID string) error {
	defer r.write(ctx)()
	e, ok := r.outbox[eventID]
	if !ok {
		return NewNotFoundError("outbox event")
	}
	now := time.Now().UTC()
	e.Processed = true
	e.ProcessedAt = &now
	r.outbox[eventID] = e
	return nil
}

// collect copies every value of m and orders the copies newest first, ties
// broken by key so listings are stable.
func collect[T any](m map[string]T, createdAt func(*T) time.Time) []*T {
	type entry struct {
		key string
		val *T
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		entries = append(entries, entry{key: k, val: &v})
	}
	sort.Slice(entries, func(i, j int) bool {
		ti, tj := createdAt(entries[i].val), createdAt(entries[j].val)
		if ti.Equal(tj) {
			return entries[i].key > entries[j].key
		}
		return ti.After(tj)
	})
	out := make([]*T, len(entries))
	for i, e := range entries {
		out[i] = e.val
	}
	return out
}

func paginate[T any](all []*T, page Page) []*T {
	start := int(page.Skip())
	if start >= len(all) {
		return []*T{}
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
