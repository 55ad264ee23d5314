package usecase

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
)

// exitPlan is the counter-order owed for a filled entry.
type exitPlan struct {
	Side   domain.Side
	Target decimal.Decimal
	Entry  decimal.Decimal
	Qty    decimal.Decimal
}

// Ledger tracks the open orders of one strategy instance, keyed by level index.
// It is owned by the instance's loop goroutine and is not safe for concurrent use.
type Ledger struct {
	buys    map[int]*domain.OpenOrder
	sells   map[int]*domain.OpenOrder
	exits   map[int]*exitPlan
	skipped map[int]struct{}
	stopped map[int]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		buys:    make(map[int]*domain.OpenOrder),
		sells:   make(map[int]*domain.OpenOrder),
		exits:   make(map[int]*exitPlan),
		skipped: make(map[int]struct{}),
		stopped: make(map[int]struct{}),
	}
}

func (l *Ledger) book(side domain.Side) map[int]*domain.OpenOrder {
	if side == domain.SideBuy {
		return l.buys
	}
	return l.sells
}

// Put records an open order. It reports false, leaving the ledger unchanged,
// when the level already holds an order on that side.
func (l *Ledger) Put(level int, o *domain.OpenOrder) bool {
	b := l.book(o.Side)
	if _, exists := b[level]; exists {
		return false
	}
	b[level] = o
	return true
}

func (l *Ledger) Get(level int, side domain.Side) (*domain.OpenOrder, bool) {
	o, ok := l.book(side)[level]
	return o, ok
}

func (l *Ledger) Has(level int, side domain.Side) bool {
	_, ok := l.book(side)[level]
	return ok
}

// HasAny reports whether the level has any resting order or unplaced exit.
func (l *Ledger) HasAny(level int) bool {
	_, b := l.buys[level]
	_, s := l.sells[level]
	_, e := l.exits[level]
	return b || s || e
}

func (l *Ledger) Delete(level int, side domain.Side) {
	delete(l.book(side), level)
}

// Orders returns the levels holding an order on side, in ascending order.
func (l *Ledger) Orders(side domain.Side) []int {
	return sortedKeys(l.book(side))
}

func (l *Ledger) SetPendingExit(level int, exit *exitPlan) {
	l.exits[level] = exit
}

func (l *Ledger) PendingExit(level int) (*exitPlan, bool) {
	e, ok := l.exits[level]
	return e, ok
}

func (l *Ledger) ClearPendingExit(level int) {
	delete(l.exits, level)
}

func (l *Ledger) PendingExits() []int {
	return sortedKeys(l.exits)
}

func (l *Ledger) Skip(level int) {
	l.skipped[level] = struct{}{}
}

func (l *Ledger) Unskip(level int) {
	delete(l.skipped, level)
}

func (l *Ledger) IsSkipped(level int) bool {
	_, ok := l.skipped[level]
	return ok
}

func (l *Ledger) Skipped() []int {
	return sortedKeys(l.skipped)
}

func (l *Ledger) Stop(level int) {
	l.stopped[level] = struct{}{}
	delete(l.skipped, level)
}

// Reactivate clears a stopped level and reports whether it was stopped.
func (l *Ledger) Reactivate(level int) bool {
	if _, ok := l.stopped[level]; !ok {
		return false
	}
	delete(l.stopped, level)
	return true
}

func (l *Ledger) IsStopped(level int) bool {
	_, ok := l.stopped[level]
	return ok
}

func (l *Ledger) Stopped() []int {
	return sortedKeys(l.stopped)
}

// Forget drops every trace of a level.
func (l *Ledger) Forget(level int) {
	delete(l.buys, level)
	delete(l.sells, level)
	delete(l.exits, level)
	delete(l.skipped, level)
	delete(l.stopped, level)
}

// State derives the level's state from the ledger contents.
func (l *Ledger) State(level int) domain.LevelState {
	switch {
	case l.IsStopped(level):
		return domain.LevelStopped
	case l.Has(level, domain.SideSell):
		return domain.LevelSellPending
	case l.Has(level, domain.SideBuy):
		return domain.LevelBuyPending
	case l.IsSkipped(level):
		return domain.LevelSkipped
	}
	return domain.LevelEmpty
}

// Status builds the snapshot row for a level.
func (l *Ledger) Status(level domain.OrderLevel) domain.LevelStatus {
	return domain.LevelStatus{
		Index:            level.Index,
		Price:            level.Price,
		Quantity:         level.Quantity,
		HasOpenBuyOrder:  l.Has(level.Index, domain.SideBuy),
		HasOpenSellOrder: l.Has(level.Index, domain.SideSell),
		IsSkipped:        l.IsSkipped(level.Index),
		IsStopped:        l.IsStopped(level.Index),
		State:            l.State(level.Index),
	}
}

// All returns every open order in the ledger, buys first.
func (l *Ledger) All() []*domain.OpenOrder {
	out := make([]*domain.OpenOrder, 0, len(l.buys)+len(l.sells))
	for _, i := range sortedKeys(l.buys) {
		out = append(out, l.buys[i])
	}
	for _, i := range sortedKeys(l.sells) {
		out = append(out, l.sells[i])
	}
	return out
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
