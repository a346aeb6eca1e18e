package usecase

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vitos/options_signal_engine/internal/domain"
	"go.uber.org/zap"
)

const epsilon = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func ptr[T any](v T) *T { return &v }

// memRepo implements every repository plus Transactor over maps.
type memRepo struct {
	mu         sync.Mutex
	signals    map[string]*domain.TradeSignal
	executions map[string]*domain.Execution
	positions  map[string]*domain.Position
	history    []*domain.PositionHistory
	configs    map[string]*domain.UserConfig
	watchlist  []domain.WatchlistItem
	articles   map[string][]domain.ScoredArticle

	failCreatePosition error
}

func newMemRepo() *memRepo {
	return &memRepo{
		signals:    make(map[string]*domain.TradeSignal),
		executions: make(map[string]*domain.Execution),
		positions:  make(map[string]*domain.Position),
		configs:    make(map[string]*domain.UserConfig),
		articles:   make(map[string][]domain.ScoredArticle),
	}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	signals := cloneMap(r.signals)
	executions := cloneMap(r.executions)
	positions := cloneMap(r.positions)
	historyLen := len(r.history)
	r.mu.Unlock()

	if err := fn(ctx); err != nil {
		r.mu.Lock()
		r.signals, r.executions, r.positions = signals, executions, positions
		r.history = r.history[:historyLen]
		r.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[T any](m map[string]*T) map[string]*T {
	out := make(map[string]*T, len(m))
	for k, v := range m {
		c := *v
		out[k] = &c
	}
	return out
}

func (r *memRepo) Ping(ctx context.Context) error { return nil }

func (r *memRepo) CreateSignal(ctx context.Context, s *domain.TradeSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	r.signals[s.ID] = &c
	return nil
}

func (r *memRepo) GetSignal(ctx context.Context, id string) (*domain.TradeSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.signals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *memRepo) ListSignals(ctx context.Context, f domain.SignalFilter) ([]*domain.TradeSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.TradeSignal
	for _, s := range r.signals {
		if f.UserID != "" && s.UserID != f.UserID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, s.Status) {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) TransitionSignal(ctx context.Context, id string, from, to domain.SignalStatus, change domain.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !from.CanTransition(to) {
		return errors.New("illegal transition")
	}
	s, ok := r.signals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Status != from {
		return domain.ErrStaleStatus
	}
	s.Status = to
	s.UpdatedAt = change.At
	if change.Reason != "" {
		s.FailureReason = change.Reason
	}
	if change.Source != "" {
		s.ConfirmationSource = change.Source
	}
	if to == domain.SignalConfirmed {
		at := change.At
		s.ConfirmedAt = &at
	}
	return nil
}

func (r *memRepo) CountSignals(ctx context.Context, userID string, statuses []domain.SignalStatus, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.signals {
		if s.UserID != userID || !containsStatus(statuses, s.Status) {
			continue
		}
		if !since.IsZero() && s.CreatedAt.Before(since) {
			continue
		}
		n++
	}
	return n, nil
}

func (r *memRepo) ExpirePendingSignals(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, s := range r.signals {
		if s.Status == domain.SignalPending && s.ExpiresAt.Before(now) {
			s.Status = domain.SignalExpired
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memRepo) DeleteUserSignals(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.signals {
		if s.UserID == userID {
			delete(r.signals, id)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CreateExecution(ctx context.Context, e *domain.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.executions {
		if existing.SignalID == e.SignalID {
			return errors.New("duplicate execution for signal")
		}
	}
	c := *e
	r.executions[e.ID] = &c
	return nil
}

func (r *memRepo) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (r *memRepo) GetExecutionBySignal(ctx context.Context, signalID string) (*domain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.executions {
		if e.SignalID == signalID {
			c := *e
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) CreatePosition(ctx context.Context, p *domain.Position) error {
	if r.failCreatePosition != nil {
		return r.failCreatePosition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *p
	r.positions[p.ID] = &c
	return nil
}

func (r *memRepo) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *memRepo) ListPositions(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Position
	for _, p := range r.positions {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if len(f.Statuses) > 0 && !containsPositionStatus(f.Statuses, p.Status) {
			continue
		}
		if !f.Since.IsZero() && (p.ClosedAt == nil || p.ClosedAt.Before(f.Since)) {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (r *memRepo) UpdateValuation(ctx context.Context, id string, v domain.Valuation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PositionOpen {
		return domain.ErrStaleStatus
	}
	p.CurrentPrice = ptr(v.CurrentPrice)
	p.UnrealizedPnL = ptr(v.UnrealizedPnL)
	p.UnrealizedPnLPct = ptr(v.UnrealizedPnLPct)
	p.PeakPnLPct = v.PeakPnLPct
	p.LastUpdatedAt = ptr(v.At)
	return nil
}

func (r *memRepo) MarkClosed(ctx context.Context, id string, c domain.ClosedPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PositionOpen {
		return domain.ErrStaleStatus
	}
	p.Status = domain.PositionClosed
	p.CloseReason = c.Reason
	p.ClosedAt = ptr(c.ClosedAt)
	p.RealizedPnL = ptr(c.RealizedPnL)
	p.RealizedPnLPct = ptr(c.RealizedPnLPct)
	return nil
}

func (r *memRepo) AppendHistory(ctx context.Context, h *domain.PositionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *h
	r.history = append(r.history, &c)
	return nil
}

func (r *memRepo) ListHistory(ctx context.Context, positionID string, limit int) ([]*domain.PositionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PositionHistory
	for _, h := range r.history {
		if h.PositionID == positionID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memRepo) GetLatestUserConfig(ctx context.Context, userID string) (*domain.UserConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) SaveUserConfig(ctx context.Context, c *domain.UserConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.configs[c.UserID] = &cp
	return nil
}

func (r *memRepo) ListConfiguredUsers(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id := range r.configs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *memRepo) ListActiveWatchlist(ctx context.Context, userID string) ([]domain.WatchlistItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WatchlistItem
	for _, w := range r.watchlist {
		if w.UserID == userID && w.IsActive {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *memRepo) ListActiveSymbols(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, w := range r.watchlist {
		if w.IsActive && !seen[w.Symbol] {
			seen[w.Symbol] = true
			out = append(out, w.Symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memRepo) AddWatchlistItem(ctx context.Context, w *domain.WatchlistItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchlist = append(r.watchlist, *w)
	return nil
}

func (r *memRepo) SaveScoredArticles(ctx context.Context, symbol string, articles []domain.ScoredArticle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.articles[symbol] = append(r.articles[symbol], articles...)
	return nil
}

func containsStatus(list []domain.SignalStatus, s domain.SignalStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPositionStatus(list []domain.PositionStatus, s domain.PositionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// mockBroker answers GetOrder from a scripted sequence of statuses.
type mockBroker struct {
	mu              sync.Mutex
	clock           domain.Clock
	account         domain.Account
	accountErr      error
	submitErr       error
	statuses        []domain.OrderStatus
	fillPrice       float64
	fillAt          time.Time
	submitted       []domain.OrderRequest
	cancelled       []string
	orderPolls      int
	brokerPositions []domain.BrokerPosition
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		clock:     domain.Clock{IsOpen: true},
		account:   domain.Account{BuyingPower: 50000, Equity: 100000},
		statuses:  []domain.OrderStatus{domain.OrderFilled},
		fillPrice: 2.5,
	}
}

func (b *mockBroker) GetAccount(ctx context.Context) (*domain.Account, error) {
	if b.accountErr != nil {
		return nil, b.accountErr
	}
	a := b.account
	return &a, nil
}

func (b *mockBroker) GetAllPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	return b.brokerPositions, nil
}

func (b *mockBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	b.submitted = append(b.submitted, req)
	b.orderPolls = 0
	return &domain.BrokerOrder{ID: "order-" + req.Symbol, Symbol: req.Symbol, Status: domain.OrderNew}, nil
}

func (b *mockBroker) GetOrder(ctx context.Context, orderID string) (*domain.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.orderPolls
	if idx >= len(b.statuses) {
		idx = len(b.statuses) - 1
	}
	b.orderPolls++
	status := b.statuses[idx]
	o := &domain.BrokerOrder{ID: orderID, Status: status, SubmittedAt: b.fillAt}
	if status == domain.OrderFilled {
		o.FilledQty = b.submitted[len(b.submitted)-1].Qty
		o.FilledAvgPrice = b.fillPrice
		if !b.fillAt.IsZero() {
			at := b.fillAt
			o.FilledAt = &at
		}
	}
	return o, nil
}

func (b *mockBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, orderID)
	return nil
}

func (b *mockBroker) GetClock(ctx context.Context) (*domain.Clock, error) {
	c := b.clock
	return &c, nil
}

// recordingPublisher captures every published channel and payload.
type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	messages []any
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) count(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.channels {
		if c == channel {
			n++
		}
	}
	return n
}

// mockMarketProvider serves canned quotes, bars and contracts.
type mockMarketProvider struct {
	mu           sync.Mutex
	quotes       map[string]domain.StockQuote
	bars         []domain.Bar
	contracts    map[string][]domain.OptionContract
	optionQuotes map[string]*domain.OptionQuote
	quoteErr     error
	quoteCalls   int
	chainCalls   int
}

func newMockMarketProvider() *mockMarketProvider {
	return &mockMarketProvider{
		quotes:       make(map[string]domain.StockQuote),
		contracts:    make(map[string][]domain.OptionContract),
		optionQuotes: make(map[string]*domain.OptionQuote),
	}
}

func (m *mockMarketProvider) GetLatestQuote(ctx context.Context, symbol string) (*domain.StockQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteCalls++
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &q, nil
}

func (m *mockMarketProvider) GetBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Bar, error) {
	return m.bars, nil
}

func (m *mockMarketProvider) ListOptionContracts(ctx context.Context, underlying string) ([]domain.OptionContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainCalls++
	return m.contracts[underlying], nil
}

func (m *mockMarketProvider) GetLastOptionQuote(ctx context.Context, optionSymbol string) (*domain.OptionQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.optionQuotes[optionSymbol]
	if !ok {
		return nil, errors.New("no option quote")
	}
	c := *q
	return &c, nil
}

// mapCache is a CacheStore without expiry, enough for usecase tests.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) Ping(ctx context.Context) error { return c.err }

func newTestCache(store *mapCache) *MarketDataCache {
	return NewMarketDataCache(store, nil, zap.NewNop())
}

func noLimits() *RateLimiter {
	return NewRateLimiter(nil)
}
