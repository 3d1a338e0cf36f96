//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/adapter"
	"resume-billing/internal/domain/ports/repository"
	"resume-billing/internal/usecase"
)

// -----------------------------
// Utilities: clock and logger
// -----------------------------

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// -----------------------------
// In-memory store shared by all repos
// -----------------------------

type memStore struct {
	mu         sync.Mutex
	seq        int
	subs       map[string]*model.Subscription
	subSeq     map[string]int
	payments   map[string]*model.PaymentTransaction
	usage      map[string]*model.FeatureUsage
	plans      map[string]*model.Plan
	billing    map[string]*model.UserBillingDetails
	selections map[string]*model.PendingPlanSelection
}

func newMemStore() *memStore {
	return &memStore{
		subs:       make(map[string]*model.Subscription),
		subSeq:     make(map[string]int),
		payments:   make(map[string]*model.PaymentTransaction),
		usage:      make(map[string]*model.FeatureUsage),
		plans:      make(map[string]*model.Plan),
		billing:    make(map[string]*model.UserBillingDetails),
		selections: make(map[string]*model.PendingPlanSelection),
	}
}

func usageKey(userID, featureID string) string { return userID + "|" + featureID }

func cloneTxn(t *model.PaymentTransaction) *model.PaymentTransaction {
	c := *t
	c.Metadata = make(map[string]string, len(t.Metadata))
	for k, v := range t.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

func cloneUsage(u *model.FeatureUsage) *model.FeatureUsage {
	c := *u
	if u.ResetDate != nil {
		d := *u.ResetDate
		c.ResetDate = &d
	}
	return &c
}

type memSnapshot struct {
	seq        int
	subs       map[string]*model.Subscription
	subSeq     map[string]int
	payments   map[string]*model.PaymentTransaction
	usage      map[string]*model.FeatureUsage
	selections map[string]*model.PendingPlanSelection
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		seq:        s.seq,
		subs:       make(map[string]*model.Subscription, len(s.subs)),
		subSeq:     make(map[string]int, len(s.subSeq)),
		payments:   make(map[string]*model.PaymentTransaction, len(s.payments)),
		usage:      make(map[string]*model.FeatureUsage, len(s.usage)),
		selections: make(map[string]*model.PendingPlanSelection, len(s.selections)),
	}
	for k, v := range s.subs {
		snap.subs[k] = v.Clone()
	}
	for k, v := range s.subSeq {
		snap.subSeq[k] = v
	}
	for k, v := range s.payments {
		snap.payments[k] = cloneTxn(v)
	}
	for k, v := range s.usage {
		snap.usage[k] = cloneUsage(v)
	}
	for k, v := range s.selections {
		c := *v
		snap.selections[k] = &c
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = snap.seq
	s.subs = snap.subs
	s.subSeq = snap.subSeq
	s.payments = snap.payments
	s.usage = snap.usage
	s.selections = snap.selections
}

// newestFirst sorts by creation time, then insertion order.
func (s *memStore) newestFirst(out []*model.Subscription) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.subSeq[out[i].ID] > s.subSeq[out[j].ID]
	})
}

func (s *memStore) filterSubs(keep func(*model.Subscription) bool) []*model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Subscription
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, sub.Clone())
		}
	}
	s.newestFirst(out)
	return out
}

// -----------------------------
// Mock TxManager and Locker
// -----------------------------

// MockTxManager serializes transactions and rolls the store back when fn fails.
type MockTxManager struct {
	mu         sync.Mutex
	store      *memStore
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.store.snapshot()
	if err := fn(ctx, repository.NoTX); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

type MockLocker struct {
	mu     sync.Mutex
	locked []string
}

func (m *MockLocker) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, userID)
	return nil
}

// -----------------------------
// Mock SubscriptionRepository
// -----------------------------

type MockSubscriptionRepo struct {
	store *memStore

	ListActiveByUserFunc func(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error)
	ListLapsedFunc       func(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error)
}

func (r *MockSubscriptionRepo) Insert(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.subs[s.ID]; ok {
		return domain.ErrInvalidArgument
	}
	r.store.seq++
	r.store.subs[s.ID] = s.Clone()
	r.store.subSeq[s.ID] = r.store.seq
	return nil
}

func (r *MockSubscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.subs[s.ID]; !ok {
		return domain.ErrNotFound
	}
	r.store.subs[s.ID] = s.Clone()
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MockSubscriptionRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	if r.ListActiveByUserFunc != nil {
		return r.ListActiveByUserFunc(ctx, tx, userID)
	}
	return r.store.filterSubs(func(s *model.Subscription) bool {
		return s.UserID == userID && s.Status == model.SubscriptionStatusActive
	}), nil
}

func (r *MockSubscriptionRepo) FindEntitledByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	for _, status := range []model.SubscriptionStatus{model.SubscriptionStatusActive, model.SubscriptionStatusGracePeriod} {
		rows := r.store.filterSubs(func(s *model.Subscription) bool { return s.UserID == userID && s.Status == status })
		if len(rows) > 0 {
			return rows[0], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindLatestByUserAndPlan(ctx context.Context, tx repository.Tx, userID, planID string) (*model.Subscription, error) {
	rows := r.store.filterSubs(func(s *model.Subscription) bool { return s.UserID == userID && s.PlanID == planID })
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	return rows[0], nil
}

func (r *MockSubscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	return r.store.filterSubs(func(s *model.Subscription) bool { return s.UserID == userID }), nil
}

func (r *MockSubscriptionRepo) ListRenewable(ctx context.Context, tx repository.Tx, before time.Time) ([]*model.Subscription, error) {
	return r.store.filterSubs(func(s *model.Subscription) bool {
		return s.Status == model.SubscriptionStatusActive && s.AutoRenew && s.PaymentGateway == model.GatewayNone &&
			s.PendingPlanChangeTo == "" && !s.EndDate.After(before)
	}), nil
}

func (r *MockSubscriptionRepo) ListLapsed(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	if r.ListLapsedFunc != nil {
		return r.ListLapsedFunc(ctx, tx, now)
	}
	return r.store.filterSubs(func(s *model.Subscription) bool {
		return s.Status == model.SubscriptionStatusActive && s.EndDate.Before(now)
	}), nil
}

func (r *MockSubscriptionRepo) ListGraceExpired(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	return r.store.filterSubs(func(s *model.Subscription) bool {
		return s.Status == model.SubscriptionStatusGracePeriod && s.GracePeriodEnd != nil && s.GracePeriodEnd.Before(now)
	}), nil
}

func (r *MockSubscriptionRepo) ListDueScheduledChanges(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	return r.store.filterSubs(func(s *model.Subscription) bool {
		return s.PendingPlanChangeTo != "" && s.PendingPlanChangeDate != nil && !s.PendingPlanChangeDate.After(now)
	}), nil
}

func (r *MockSubscriptionRepo) ListUsersWithMultipleActive(ctx context.Context, tx repository.Tx) ([]string, error) {
	counts := map[string]int{}
	for _, s := range r.store.filterSubs(func(s *model.Subscription) bool { return s.Status == model.SubscriptionStatusActive }) {
		counts[s.UserID]++
	}
	var users []string
	for u, n := range counts {
		if n > 1 {
			users = append(users, u)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (r *MockSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	out := map[model.SubscriptionStatus]int{}
	for _, s := range r.store.filterSubs(func(*model.Subscription) bool { return true }) {
		out[s.Status]++
	}
	return out, nil
}

// -----------------------------
// Mock PaymentTransactionRepository
// -----------------------------

type MockPaymentRepo struct {
	store *memStore
}

func (r *MockPaymentRepo) Insert(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.payments[t.GatewayTransactionID]; ok {
		return false, nil
	}
	r.store.payments[t.GatewayTransactionID] = cloneTxn(t)
	return true, nil
}

func (r *MockPaymentRepo) FindByGatewayTransactionID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentTransaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTxn(t), nil
}

func (r *MockPaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.PaymentTransaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*model.PaymentTransaction
	for _, t := range r.store.payments {
		if t.UserID == userID {
			out = append(out, cloneTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GatewayTransactionID < out[j].GatewayTransactionID })
	return out, nil
}

// -----------------------------
// Mock FeatureUsageRepository
// -----------------------------

type MockUsageRepo struct {
	store *memStore
	// AfterListDue runs once the due rows are read, before they are returned.
	AfterListDue func()
}

func (r *MockUsageRepo) InsertIfMissing(ctx context.Context, tx repository.Tx, u *model.FeatureUsage) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := usageKey(u.UserID, u.FeatureID)
	if _, ok := r.store.usage[key]; ok {
		return false, nil
	}
	r.store.usage[key] = cloneUsage(u)
	return true, nil
}

func (r *MockUsageRepo) Find(ctx context.Context, tx repository.Tx, userID, featureID string) (*model.FeatureUsage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.usage[usageKey(userID, featureID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneUsage(u), nil
}

func (r *MockUsageRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.FeatureUsage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*model.FeatureUsage
	for _, u := range r.store.usage {
		if u.UserID == userID {
			out = append(out, cloneUsage(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeatureID < out[j].FeatureID })
	return out, nil
}

func (r *MockUsageRepo) Increment(ctx context.Context, tx repository.Tx, userID, featureID string, count, tokens int64) (*model.FeatureUsage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.usage[usageKey(userID, featureID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.UsageCount += count
	u.AITokenCount += tokens
	return cloneUsage(u), nil
}

func (r *MockUsageRepo) ResetCounters(ctx context.Context, tx repository.Tx, userID string, featureIDs []string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for _, id := range featureIDs {
		if u, ok := r.store.usage[usageKey(userID, id)]; ok {
			u.UsageCount = 0
			u.AITokenCount = 0
			n++
		}
	}
	return n, nil
}

func (r *MockUsageRepo) ListDueForReset(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.FeatureUsage, error) {
	r.store.mu.Lock()
	var out []*model.FeatureUsage
	for _, u := range r.store.usage {
		if u.ResetFrequency != model.ResetNever && u.ResetDate != nil && u.ResetDate.Before(now) {
			out = append(out, cloneUsage(u))
		}
	}
	r.store.mu.Unlock()
	if hook := r.AfterListDue; hook != nil {
		r.AfterListDue = nil
		hook()
	}
	return out, nil
}

func (r *MockUsageRepo) SaveReset(ctx context.Context, tx repository.Tx, u *model.FeatureUsage, prev time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := usageKey(u.UserID, u.FeatureID)
	cur, ok := r.store.usage[key]
	if !ok || cur.ResetDate == nil || !cur.ResetDate.Equal(prev) {
		return domain.ErrNotFound
	}
	r.store.usage[key] = cloneUsage(u)
	return nil
}

// -----------------------------
// Mock plan, billing and selection repos
// -----------------------------

type MockPlanRepo struct {
	store *memStore
}

func (r *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *plan
	r.store.plans[plan.ID] = &c
	return nil
}

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *MockPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*model.Plan, 0, len(r.store.plans))
	for _, p := range r.store.plans {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type MockBillingRepo struct {
	store *memStore
}

func (r *MockBillingRepo) FindByUserID(ctx context.Context, tx repository.Tx, userID string) (*model.UserBillingDetails, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.billing[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *b
	return &c, nil
}

type MockSelectionRepo struct {
	store *memStore
}

func (r *MockSelectionRepo) Upsert(ctx context.Context, tx repository.Tx, sel *model.PendingPlanSelection) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *sel
	r.store.selections[sel.UserID] = &c
	return nil
}

func (r *MockSelectionRepo) FindByUserID(ctx context.Context, tx repository.Tx, userID string) (*model.PendingPlanSelection, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.selections[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *MockSelectionRepo) Delete(ctx context.Context, tx repository.Tx, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.selections[userID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.store.selections, userID)
	return nil
}

// -----------------------------
// Mock gateway, dispatcher and token counter
// -----------------------------

type cancelCall struct {
	Reference string
	Opts      adapter.CancelOptions
}

type MockGateway struct {
	mu       sync.Mutex
	name     model.PaymentGateway
	verified []adapter.VerifyRequest
	cancels  []cancelCall

	VerifyPaymentFunc      func(ctx context.Context, req adapter.VerifyRequest) (bool, error)
	CancelSubscriptionFunc func(ctx context.Context, reference string, opts adapter.CancelOptions) error
}

func (g *MockGateway) Name() model.PaymentGateway { return g.name }

func (g *MockGateway) VerifyPayment(ctx context.Context, req adapter.VerifyRequest) (bool, error) {
	g.mu.Lock()
	g.verified = append(g.verified, req)
	g.mu.Unlock()
	if g.VerifyPaymentFunc != nil {
		return g.VerifyPaymentFunc(ctx, req)
	}
	return true, nil
}

func (g *MockGateway) CancelSubscription(ctx context.Context, reference string, opts adapter.CancelOptions) error {
	g.mu.Lock()
	g.cancels = append(g.cancels, cancelCall{Reference: reference, Opts: opts})
	g.mu.Unlock()
	if g.CancelSubscriptionFunc != nil {
		return g.CancelSubscriptionFunc(ctx, reference, opts)
	}
	return nil
}

func (g *MockGateway) Cancels() []cancelCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cancelCall(nil), g.cancels...)
}

func (g *MockGateway) VerifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.verified)
}

type recordingDispatcher struct {
	mu      sync.Mutex
	effects []model.Effect
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, effects []model.Effect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.effects = append(d.effects, effects...)
}

// notifications returns the user notification types in dispatch order.
func (d *recordingDispatcher) notifications() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, e := range d.effects {
		if e.Kind == model.EffectNotifyUser {
			out = append(out, e.Notification.Type)
		}
	}
	return out
}

func (d *recordingDispatcher) audits() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, e := range d.effects {
		if e.Kind == model.EffectAudit {
			out = append(out, e.Audit.Action)
		}
	}
	return out
}

type fakeTokenCounter struct{}

// Count treats every character as one token.
func (fakeTokenCounter) Count(text string) int { return len(text) }

// -----------------------------
// Fixture
// -----------------------------

const (
	freePlanID  = "free"
	basicPlanID = "basic"
	proPlanID   = "pro"
)

type fixture struct {
	store    *memStore
	clock    *testClock
	tm       *MockTxManager
	locker   *MockLocker
	subs     *MockSubscriptionRepo
	payments *MockPaymentRepo
	usage    *MockUsageRepo
	plans    *MockPlanRepo
	gateway  *MockGateway
	none     *MockGateway
	effects  *recordingDispatcher

	uc    usecase.SubscriptionUseCase
	meter usecase.UsageUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	f := &fixture{
		store:    store,
		clock:    newTestClock(),
		tm:       &MockTxManager{store: store},
		locker:   &MockLocker{},
		subs:     &MockSubscriptionRepo{store: store},
		payments: &MockPaymentRepo{store: store},
		usage:    &MockUsageRepo{store: store},
		plans:    &MockPlanRepo{store: store},
		gateway:  &MockGateway{name: model.GatewayRazorpay},
		none:     &MockGateway{name: model.GatewayNone},
		effects:  &recordingDispatcher{},
	}
	f.seedPlans(t)

	repos := usecase.Repositories{
		Subscriptions: f.subs,
		Plans:         f.plans,
		Payments:      f.payments,
		Usage:         f.usage,
		Billing:       &MockBillingRepo{store: store},
		Selections:    &MockSelectionRepo{store: store},
		Locker:        f.locker,
	}
	f.uc = usecase.NewSubscriptionUseCase(repos, adapter.NewGatewayRegistry(f.gateway, f.none), f.effects, f.tm,
		usecase.LifecycleOptions{Now: f.clock.Now}, newTestLogger())
	f.meter = usecase.NewUsageUseCase(f.subs, f.plans, f.usage, f.locker, fakeTokenCounter{}, f.tm, f.clock.Now, newTestLogger())
	return f
}

func (f *fixture) seedPlans(t *testing.T) {
	t.Helper()
	mk := func(id string, price string, freemium bool, features ...model.PlanFeature) {
		p, err := model.NewPlan(id, id+" plan", model.BillingCycleMonthly, decimal.RequireFromString(price), freemium)
		if err != nil {
			t.Fatalf("seed plan %s: %v", id, err)
		}
		p.Features = features
		if err := f.plans.Save(context.Background(), repository.NoTX, p); err != nil {
			t.Fatalf("seed plan %s: %v", id, err)
		}
	}
	count := func(id string, limit int64) model.PlanFeature {
		return model.PlanFeature{FeatureID: id, LimitType: model.LimitCount, LimitValue: limit, ResetFrequency: model.ResetMonthly, Enabled: true}
	}
	mk(freePlanID, "0", true,
		count("resume_export", 3),
		count("ai_suggestions", 5),
		model.PlanFeature{FeatureID: "premium_templates", LimitType: model.LimitBoolean, LimitValue: 0, Enabled: true},
	)
	mk(basicPlanID, "9.99", false,
		count("resume_export", 20),
		count("ai_suggestions", 50),
		model.PlanFeature{FeatureID: "premium_templates", LimitType: model.LimitBoolean, LimitValue: 1, Enabled: true},
	)
	mk(proPlanID, "29.99", false,
		model.PlanFeature{FeatureID: "resume_export", LimitType: model.LimitUnlimited, Enabled: true},
		count("ai_suggestions", 500),
		model.PlanFeature{FeatureID: "premium_templates", LimitType: model.LimitBoolean, LimitValue: 1, Enabled: true},
		model.PlanFeature{FeatureID: "cover_letter", LimitType: model.LimitCount, LimitValue: 10, ResetFrequency: model.ResetMonthly, Enabled: false},
	)

	pro, _ := f.plans.FindByID(context.Background(), repository.NoTX, proPlanID)
	pro.Pricing = []model.PlanPricing{{PlanID: proPlanID, Region: model.RegionIndia, Currency: "INR", Price: decimal.RequireFromString("999")}}
	_ = f.plans.Save(context.Background(), repository.NoTX, pro)
}

// setPricing replaces a plan's regional price rows.
func (f *fixture) setPricing(t *testing.T, planID string, rows ...model.PlanPricing) {
	t.Helper()
	plan, err := f.plans.FindByID(context.Background(), repository.NoTX, planID)
	if err != nil {
		t.Fatalf("load plan %s: %v", planID, err)
	}
	plan.Pricing = rows
	if err := f.plans.Save(context.Background(), repository.NoTX, plan); err != nil {
		t.Fatalf("save plan %s: %v", planID, err)
	}
}

func (f *fixture) setCountry(userID, country string) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.billing[userID] = &model.UserBillingDetails{UserID: userID, Country: country}
}

// active returns the user's ACTIVE rows straight from the store.
func (f *fixture) active(userID string) []*model.Subscription {
	rows, _ := f.subs.ListActiveByUser(context.Background(), repository.NoTX, userID)
	return rows
}

func (f *fixture) sub(t *testing.T, id string) *model.Subscription {
	t.Helper()
	s, err := f.subs.FindByID(context.Background(), repository.NoTX, id)
	if err != nil {
		t.Fatalf("load subscription %s: %v", id, err)
	}
	return s
}

func (f *fixture) txns(userID string) []*model.PaymentTransaction {
	out, _ := f.payments.ListByUser(context.Background(), repository.NoTX, userID)
	return out
}

// mutate edits a stored row in place, for setting up edge cases.
func (f *fixture) mutate(id string, fn func(s *model.Subscription)) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	fn(f.store.subs[id])
}

func (f *fixture) paid(userID, planID, paymentID string) usecase.UpgradeRequest {
	return usecase.UpgradeRequest{
		UserID:                userID,
		NewPlanID:             planID,
		PaymentID:             paymentID,
		Gateway:               model.GatewayRazorpay,
		GatewaySubscriptionID: "sub_" + paymentID,
	}
}
