// Package position implements the Position and Margin Manager:
// per-(user, symbol) net positions with weighted-average entry, realized
// and unrealized P&L, margin accounting, and liquidation triggering. All
// arithmetic is integer fixed-point — no floats in the core.
package position

import (
	"sync"

	"exchange-core/internal/catalog"
	"exchange-core/internal/errs"
)

// Position is per (user, symbol). Convention: long size > 0, short size < 0.
// Invariant: size == 0 implies Entry == 0 and MarginReserved == 0.
type Position struct {
	UserID         string
	Symbol         string
	Size           int64
	Entry          int64
	RealizedPnL    int64
	MarginReserved int64
	LiquidationPx  int64
}

// FillResult is the outcome of applying one fill to a position.
type FillResult struct {
	Position      Position
	RealizedDelta int64
}

// Account is per-user: the quote-currency balance. The sum of margins
// reserved across positions and Equity = Balance + ΣunrealizedPnL are not
// stored here; they are computed on demand from the caller's current mark
// prices (AvailableMargin, MarkToMarket).
type Account struct {
	UserID  string
	Balance int64
}

// Manager owns all accounts' positions. All reads and writes to a given
// account's positions are serialized; Manager achieves this with one
// mutex per account rather than a single global lock, so unrelated
// accounts never contend.
type Manager struct {
	catalog *catalog.Catalog
	buffer  int64 // liquidation buffer, bps, added on top of maintenance margin

	mu          sync.RWMutex
	accounts    map[string]*accountState
	symbolUsers map[string]map[string]struct{} // symbol -> set of userIDs with a live position
}

type accountState struct {
	mu        sync.Mutex
	account   Account
	positions map[string]*Position
}

// New creates a Position Manager bound to a product catalog.
func New(cat *catalog.Catalog, liquidationBufferBps int64) *Manager {
	return &Manager{
		catalog:     cat,
		buffer:      liquidationBufferBps,
		accounts:    make(map[string]*accountState),
		symbolUsers: make(map[string]map[string]struct{}),
	}
}

// trackSymbolUser adds or removes userID from the symbol's live-position
// index as its position opens or fully closes.
func (m *Manager) trackSymbolUser(userID, symbol string, hasPosition bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users, ok := m.symbolUsers[symbol]
	if !ok {
		if !hasPosition {
			return
		}
		users = make(map[string]struct{})
		m.symbolUsers[symbol] = users
	}
	if hasPosition {
		users[userID] = struct{}{}
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(m.symbolUsers, symbol)
	}
}

// UsersForSymbol returns every userID currently holding a nonzero position
// in symbol, for the oracle's mark-update fan-out.
func (m *Manager) UsersForSymbol(symbol string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := m.symbolUsers[symbol]
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	return out
}

// PositionsOf returns a snapshot of every nonzero position userID holds,
// across all symbols.
func (m *Manager) PositionsOf(userID string) []Position {
	st := m.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Position, 0, len(st.positions))
	for _, p := range st.positions {
		if p.Size != 0 {
			out = append(out, *p)
		}
	}
	return out
}

func (m *Manager) stateFor(userID string) *accountState {
	m.mu.RLock()
	st, ok := m.accounts[userID]
	m.mu.RUnlock()
	if ok {
		return st
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.accounts[userID]; ok {
		return st
	}
	st = &accountState{
		account:   Account{UserID: userID},
		positions: make(map[string]*Position),
	}
	m.accounts[userID] = st
	return st
}

// Deposit credits an account's quote-currency balance (lazily creates the
// account). Used by tests and by the external funding/payment adapter.
func (m *Manager) Deposit(userID string, amount int64) {
	st := m.stateFor(userID)
	st.mu.Lock()
	st.account.Balance += amount
	st.mu.Unlock()
}

// GetAccount returns a snapshot of the account.
func (m *Manager) GetAccount(userID string) (Account, error) {
	m.mu.RLock()
	st, ok := m.accounts[userID]
	m.mu.RUnlock()
	if !ok {
		return Account{}, errs.ErrUnknownAccount
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.account, nil
}

// GetPosition returns a snapshot of a (user, symbol) position. Absent
// positions report a zeroed Position, not an error.
func (m *Manager) GetPosition(userID, symbol string) Position {
	st := m.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if p, ok := st.positions[symbol]; ok {
		return *p
	}
	return Position{UserID: userID, Symbol: symbol}
}

// AvailableMargin returns equity minus the sum of reserved margins across
// all of a user's positions, using the supplied mark-price lookup for
// unrealized P&L. Must stay >= 0 after any accepted order.
func (m *Manager) AvailableMargin(userID string, marks map[string]int64) int64 {
	st := m.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	equity := st.account.Balance
	var reserved int64
	for symbol, p := range st.positions {
		equity += unrealizedPnL(*p, marks[symbol])
		reserved += p.MarginReserved
	}
	return equity - reserved
}

// CheckMarginForOrder returns ErrMarginInsufficient unless the account's
// available margin covers additionalMargin, the initial margin the caller
// (Matching Engine) computed for the new order before calling add() on the
// book. It only compares: nothing is reserved and the account is not held
// between this check and the fill, so margin is reserved only when
// ApplyFill records a fill.
func (m *Manager) CheckMarginForOrder(userID string, marks map[string]int64, additionalMargin int64) error {
	available := m.AvailableMargin(userID, marks)
	if available < additionalMargin {
		return errs.ErrMarginInsufficient
	}
	return nil
}

// ApplyFill accumulates when the fill opens or adds to the position (same
// direction, or from flat), otherwise realizes P&L on the closing portion
// and (if the fill overshoots) opens new exposure at the fill price.
//
// signedDelta is positive for a buy fill, negative for a sell fill.
func (m *Manager) ApplyFill(userID, symbol string, signedDelta, fillPrice, markPrice int64) (FillResult, error) {
	prod, err := m.catalog.Get(symbol)
	if err != nil {
		return FillResult{}, err
	}

	st := m.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	p, ok := st.positions[symbol]
	if !ok {
		p = &Position{UserID: userID, Symbol: symbol}
		st.positions[symbol] = p
	}

	oldSize, oldEntry := p.Size, p.Entry
	newSize := oldSize + signedDelta
	var realizedDelta int64

	switch {
	case oldSize == 0 || sameSign(oldSize, signedDelta):
		// accumulate: weighted-average entry.
		if newSize != 0 {
			p.Entry = weightedAvg(oldSize, oldEntry, signedDelta, fillPrice, newSize)
		} else {
			p.Entry = 0
		}
	default:
		// reduction or reversal.
		closingQty := minAbs(oldSize, signedDelta)
		sign := signOf(oldSize)
		realizedDelta = closingQty * (fillPrice - oldEntry) * sign
		p.RealizedPnL += realizedDelta

		remaining := signedDelta - (-sign)*closingQty
		if remaining != 0 {
			// overshoot: flips the position, opening new exposure at the
			// fill price.
			p.Entry = fillPrice
		} else if newSize == 0 {
			p.Entry = 0
		}
	}

	p.Size = newSize
	if p.Size == 0 {
		p.Entry = 0
		p.MarginReserved = 0
		p.LiquidationPx = 0
	} else {
		p.MarginReserved = prod.RequiredInitialMargin(markPriceOrEntry(markPrice, p.Entry), absInt64(p.Size))
		p.LiquidationPx = liquidationPrice(p.Entry, prod.LeverageCap, prod.MaintenanceMarginBps, p.Size)
	}

	if (oldSize == 0) != (newSize == 0) {
		m.trackSymbolUser(userID, symbol, newSize != 0)
	}

	return FillResult{Position: *p, RealizedDelta: realizedDelta}, nil
}

func markPriceOrEntry(mark, entry int64) int64 {
	if mark == 0 {
		return entry
	}
	return mark
}

// liquidationPrice computes: long P_liq = E*(1 - 1/L + m),
// short P_liq = E*(1 + 1/L - m), with m expressed as maintenanceBps/10000
// and L as the product's leverage cap. Scaled to avoid float division:
// P_liq = E * (10000*L - 10000 + m*L) / (10000*L) for long, and the mirror
// for short.
func liquidationPrice(entry, leverage, maintenanceBps int64, size int64) int64 {
	if size == 0 || leverage == 0 {
		return 0
	}
	const scale = 10000
	if size > 0 {
		numerator := entry * (scale*leverage - scale + maintenanceBps*leverage)
		return numerator / (scale * leverage)
	}
	numerator := entry * (scale*leverage + scale - maintenanceBps*leverage)
	return numerator / (scale * leverage)
}

// unrealizedPnL computes (mark-entry)*size for long, (entry-mark)*|size|
// for short — both reduce to (mark-entry)*size since size is already
// signed.
func unrealizedPnL(p Position, mark int64) int64 {
	if p.Size == 0 || mark == 0 {
		return 0
	}
	return (mark - p.Entry) * p.Size
}

// MarkToMarket computes unrealized P&L for all of a user's positions
// against fresh mark prices (stored positions, including LiquidationPx,
// are left unchanged), and reports whether any
// position is now at or below maintenance margin (equity <= Σ maintenance
// margin), in which case the caller must liquidate the most-at-risk
// position (largest unrealized loss).
func (m *Manager) MarkToMarket(userID string, marks map[string]int64) (atRisk *Position, ok bool) {
	st := m.stateFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	equity := st.account.Balance
	var maintenance int64
	var worst *Position
	var worstUPL int64

	for symbol, p := range st.positions {
		if p.Size == 0 {
			continue
		}
		mark, have := marks[symbol]
		if !have {
			mark = p.Entry
		}
		upl := unrealizedPnL(*p, mark)
		equity += upl

		prod, err := m.catalog.Get(symbol)
		if err != nil {
			continue
		}
		maintenance += prod.RequiredMaintenanceMargin(mark, absInt64(p.Size), m.buffer)

		if worst == nil || upl < worstUPL {
			worst = p
			worstUPL = upl
		}
	}

	if equity <= maintenance && worst != nil {
		cp := *worst
		return &cp, true
	}
	return nil, false
}

func sameSign(a, b int64) bool {
	if a == 0 || b == 0 {
		return true
	}
	return (a > 0) == (b > 0)
}

func signOf(v int64) int64 {
	if v >= 0 {
		return 1
	}
	return -1
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minAbs(size, delta int64) int64 {
	as := absInt64(size)
	ad := absInt64(delta)
	if as < ad {
		return as
	}
	return ad
}

func weightedAvg(oldSize, oldEntry, delta, fillPrice, newSize int64) int64 {
	num := absInt64(oldSize)*oldEntry + absInt64(delta)*fillPrice
	return num / absInt64(newSize)
}
