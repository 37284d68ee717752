package domain

import (
	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
)

// Account is a single brokerage account. Positions are non-hedging: one net
// position per symbol (spec §3 position-count invariant).
type Account struct {
	Brokerage      string
	ID             string
	Currency       string
	CashStart      ffdecimal.Price
	CashAvailable  ffdecimal.Price
	CommissionPaid ffdecimal.Price

	// SynchronizeAccounts: when true, the ledger accepts the brokerage's
	// authoritative position state (external changes are observed); when
	// false, the engine simulates its own positions even in live mode.
	SynchronizeAccounts bool

	PositionsBySymbol map[string]*Position // keyed by Symbol.Key()
}

// NewAccount creates an Account with an empty position map and cash seeded
// from cashStart.
func NewAccount(brokerage, id, currency string, cashStart ffdecimal.Price, synchronize bool) *Account {
	return &Account{
		Brokerage:           brokerage,
		ID:                  id,
		Currency:            currency,
		CashStart:           cashStart,
		CashAvailable:       cashStart,
		CommissionPaid:      ffdecimal.Zero,
		SynchronizeAccounts: synchronize,
		PositionsBySymbol:   make(map[string]*Position),
	}
}

// Position returns the current position for symbol, or a flat zero-value
// position if none exists yet.
func (a *Account) Position(sym Symbol) Position {
	if p, ok := a.PositionsBySymbol[sym.Key()]; ok {
		return *p
	}
	return Position{Account: a.ID, Symbol: sym, Side: PositionFlat, OpenQty: ffdecimal.Zero}
}

// IsLong reports whether the account holds a long position in sym.
func (a *Account) IsLong(sym Symbol) bool {
	p := a.Position(sym)
	return p.Side == PositionLong && !p.OpenQty.IsZero()
}

// IsShort reports whether the account holds a short position in sym.
func (a *Account) IsShort(sym Symbol) bool {
	p := a.Position(sym)
	return p.Side == PositionShort && !p.OpenQty.IsZero()
}

// IsFlat reports whether the account has no open position in sym.
func (a *Account) IsFlat(sym Symbol) bool {
	return a.Position(sym).IsFlat()
}

// TotalOpenPnL sums OpenPnL across all tracked positions.
func (a *Account) TotalOpenPnL() ffdecimal.Price {
	total := ffdecimal.Zero
	for _, p := range a.PositionsBySymbol {
		total = total.Add(p.OpenPnL)
	}
	return total
}

// Equity returns cash available plus total open PnL.
func (a *Account) Equity() ffdecimal.Price {
	return a.CashAvailable.Add(a.TotalOpenPnL())
}

// AccountStatistics are derived deterministically from the closed-trade log
// (spec §4.8/§8). Approximate is set when SynchronizeAccounts is true, since
// closing orders may arrive after positions close in that mode (spec §9 open
// question (d)).
type AccountStatistics struct {
	TotalTrades   int
	Wins          int
	Losses        int
	WinRate       ffdecimal.Price
	ProfitFactor  ffdecimal.Price
	AvgWin        ffdecimal.Price
	AvgLoss       ffdecimal.Price
	AvgRR         ffdecimal.Price
	MaxDrawdown   ffdecimal.Price
	Approximate   bool
}
