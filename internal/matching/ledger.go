package matching

import (
	"context"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/vendor"
)

// executeFillLocked records a fill of qty@px against ro.order, updating the
// order, the account's cumulative position, cash, and (when the fill
// reduces, closes, or flips the position) the closed-trade log. Callers hold
// e.mu.
func (e *Engine) executeFillLocked(ro *restingOrder, px ffdecimal.Price, qty ffdecimal.Volume, now time.Time) []eventbus.Event {
	info := e.infos[ro.order.Symbol.Key()]
	if !info.PriceIncrement.IsZero() {
		px = ffdecimal.RoundToIncrement(px, info.PriceIncrement)
	}

	prevFilled := ro.order.FilledQty
	totalNotional := ro.order.AvgFillPx.Mul(prevFilled).Add(px.Mul(qty))
	ro.order.FilledQty = prevFilled.Add(qty)
	if !ro.order.FilledQty.IsZero() {
		ro.order.AvgFillPx = totalNotional.Div(ro.order.FilledQty)
	}
	ro.order.UpdatedAt = now
	if ro.order.FilledQty.GreaterThanOrEqual(ro.order.Quantity) {
		ro.order.Status = domain.StatusFilled
	} else {
		ro.order.Status = domain.StatusPartiallyFilled
	}

	events := []eventbus.Event{eventbus.OrderEvent(domain.OrderEvent{
		Order: ro.order, FillQty: qty, FillPx: px, Time: now,
	})}

	acc, ok := e.accounts[ro.order.Account]
	if !ok {
		return events
	}
	posEvent, fxErr := e.applyFillToPositionLocked(acc, ro.order, px, qty, now)
	events = append(events, eventbus.PositionEvent(posEvent))
	if fxErr != nil {
		events = append(events, eventbus.EngineErrorEvent(fxErr, now))
	}

	if ro.order.Status == domain.StatusFilled && ro.order.Brackets != nil {
		events = append(events, e.installBracketsLocked(ro.order, now)...)
	}
	return events
}

// applyFillToPositionLocked implements the cumulative position model of spec
// §3: a same-direction fill grows the weighted-average entry; an opposite
// fill reduces OpenQty and books PnL; a fill larger than the open quantity
// flips the side, booking PnL on the portion that closed the old position
// and opening a new one at px for the remainder, tagged with the order's tag.
func (e *Engine) applyFillToPositionLocked(acc *domain.Account, order domain.Order, px ffdecimal.Price, qty ffdecimal.Volume, now time.Time) (domain.PositionEvent, error) {
	sym := order.Symbol
	pos := acc.Position(sym)
	symInfo := e.infos[sym.Key()]

	sameDirection := pos.IsFlat() ||
		(pos.Side == domain.PositionLong && order.Side == domain.Buy) ||
		(pos.Side == domain.PositionShort && order.Side == domain.Sell)

	var closed *domain.ClosedTrade
	var fxErr error

	if sameDirection {
		newQty := pos.OpenQty.Add(qty)
		notional := pos.AvgOpenPrice.Mul(pos.OpenQty).Add(px.Mul(qty))
		if pos.IsFlat() {
			pos.Side = sideFromOrder(order.Side)
			pos.OpenedAt = now
			pos.Tag = order.Tag
		}
		pos.OpenQty = newQty
		if !newQty.IsZero() {
			pos.AvgOpenPrice = notional.Div(newQty)
		}
	} else {
		closingQty := ffdecimal.Min(pos.OpenQty, qty)
		var realized ffdecimal.Price
		realized, fxErr = e.realizedPnL(pos, symInfo, px, closingQty, acc.Currency, now)
		commission := symInfo.CommissionPerUnit.Mul(closingQty)

		pos.BookedPnL = pos.BookedPnL.Add(realized)
		pos.OpenQty = pos.OpenQty.Sub(closingQty)
		if pos.OpenQty.Sign() < 0 {
			// closingQty is clamped to min(pos.OpenQty, qty) above, so this can
			// only fire on a corrupted position — a matching-engine invariant
			// violation, not a recoverable data condition (spec §7).
			panic(domain.NewError(domain.KindInternal, "ledger: open_qty went negative closing "+sym.Key()))
		}
		acc.CashAvailable = acc.CashAvailable.Add(realized).Sub(commission)
		acc.CommissionPaid = acc.CommissionPaid.Add(commission)

		ct := domain.ClosedTrade{
			Account: acc.ID, Symbol: sym, Side: pos.Side, Quantity: closingQty,
			EntryPrice: pos.AvgOpenPrice, ExitPrice: px, BookedPnL: realized,
			Commission: commission, Tag: pos.Tag, OpenedAt: pos.OpenedAt, ClosedAt: now,
		}
		e.closed[acc.ID] = append(e.closed[acc.ID], ct)
		closed = &ct

		remainder := qty.Sub(closingQty)
		if pos.OpenQty.IsZero() {
			pos.Side = domain.PositionFlat
			pos.AvgOpenPrice = ffdecimal.Zero
		}
		if remainder.Sign() > 0 {
			// Overflow fill: flip side, open a new position sized at the
			// remainder (spec §3 "overflow fill flips side").
			pos.Side = sideFromOrder(order.Side)
			pos.OpenQty = remainder
			pos.AvgOpenPrice = px
			pos.OpenedAt = now
			pos.Tag = order.Tag
		}
	}
	pos.UpdatedAt = now
	acc.PositionsBySymbol[sym.Key()] = &pos

	return domain.PositionEvent{Position: pos, Closed: closed, Time: now}, fxErr
}

func sideFromOrder(side domain.OrderSide) domain.PositionSide {
	if side == domain.Buy {
		return domain.PositionLong
	}
	return domain.PositionShort
}

// realizedPnL computes the PnL of closing qty of pos at exitPx, denominated
// in the symbol's PnL currency via tick value, then converts to the
// account's currency using the most recent rate at or before now (spec
// §4.8). A missing FX observation does not abort the fill — the position and
// cash ledger must still advance — but the un-converted PnL is returned
// alongside the error so the caller can surface the degrade instead of
// silently booking it as if the rate were 1:1.
func (e *Engine) realizedPnL(pos domain.Position, info vendor.SymbolInfo, exitPx ffdecimal.Price, qty ffdecimal.Volume, accountCurrency string, now time.Time) (ffdecimal.Price, error) {
	sign := ffdecimal.NewFromFloat(1)
	if pos.Side == domain.PositionShort {
		sign = ffdecimal.NewFromFloat(-1)
	}
	delta := exitPx.Sub(pos.AvgOpenPrice)

	var pnl ffdecimal.Price
	if !info.PriceIncrement.IsZero() && !info.ValuePerTick.IsZero() {
		ticks := delta.Div(info.PriceIncrement)
		pnl = ticks.Mul(info.ValuePerTick).Mul(qty).Mul(sign)
	} else {
		pnl = delta.Mul(qty).Mul(sign)
	}

	pnlCurrency := info.PnLCurrency
	if pnlCurrency == "" {
		pnlCurrency = accountCurrency
	}
	if pnlCurrency == accountCurrency || e.fx == nil {
		return pnl, nil
	}
	rate, err := e.fx.Rate(context.Background(), pnlCurrency, accountCurrency, now)
	if err != nil {
		return pnl, domain.NewError(domain.KindVendorError, "realizedPnL: fx rate "+pnlCurrency+"->"+accountCurrency+" unavailable: "+err.Error())
	}
	return pnl.Mul(rate), nil
}

// installBracketsLocked inserts take-profit/stop-loss resting orders for a
// newly opened/increased position, replacing any prior bracket set for the
// same account/symbol (spec §4.8 "replacing brackets on an addition order
// replaces the prior set").
func (e *Engine) installBracketsLocked(order domain.Order, now time.Time) []eventbus.Event {
	key := order.Account + "|" + order.Symbol.Key()
	for _, id := range e.brackets[key] {
		for symKey, list := range e.resting {
			for i, ro := range list {
				if ro.order.ID == id {
					e.resting[symKey] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
	}
	e.brackets[key] = nil

	exitSide := order.Side.Opposite()
	var ids []string
	var events []eventbus.Event

	install := func(kind domain.OrderKind, trigger *ffdecimal.Price) {
		id := order.ID + "-" + string(kind)
		ro := &restingOrder{isBracket: true, brokenFrom: order.ID, order: domain.Order{
			ID: id, Account: order.Account, Symbol: order.Symbol, Side: exitSide,
			Kind: kind, Quantity: order.FilledQty, Trigger: trigger, Tag: order.Tag,
			Status: domain.StatusAccepted, CreatedAt: now, UpdatedAt: now,
		}}
		if kind == domain.KindLimit {
			ro.order.Limit = trigger
		}
		e.resting[bookKey(order.Symbol)] = append(e.resting[bookKey(order.Symbol)], ro)
		ids = append(ids, id)
		events = append(events, eventbus.OrderEvent(domain.OrderEvent{Order: ro.order, Time: now, Reason: "bracket installed"}))
	}

	if order.Brackets.TakeProfit != nil {
		install(domain.KindLimit, order.Brackets.TakeProfit)
	}
	if order.Brackets.StopLoss != nil {
		install(domain.KindStopMarket, order.Brackets.StopLoss)
	}
	e.brackets[key] = ids
	return events
}

// recomputeOpenPnLLocked marks every position whose symbol was touched this
// slice against the current book (last trade or mid), per spec §4.8
// "recompute open PnL for all symbols each slice against current marks".
func (e *Engine) recomputeOpenPnLLocked(touched map[string]time.Time) []eventbus.Event {
	var events []eventbus.Event
	for symKey := range touched {
		b, ok := e.books[symKey]
		if !ok {
			continue
		}
		mark, ok := b.mid()
		if !ok {
			continue
		}
		for _, acc := range e.accounts {
			pos, ok := acc.PositionsBySymbol[symKey]
			if !ok || pos.IsFlat() {
				continue
			}
			info := e.infos[symKey]
			sign := ffdecimal.NewFromFloat(1)
			if pos.Side == domain.PositionShort {
				sign = ffdecimal.NewFromFloat(-1)
			}
			delta := mark.Sub(pos.AvgOpenPrice)
			if !info.PriceIncrement.IsZero() && !info.ValuePerTick.IsZero() {
				pos.OpenPnL = delta.Div(info.PriceIncrement).Mul(info.ValuePerTick).Mul(pos.OpenQty).Mul(sign)
			} else {
				pos.OpenPnL = delta.Mul(pos.OpenQty).Mul(sign)
			}
		}
	}
	return events
}

// Statistics computes deterministic account statistics from the closed-trade
// log (spec §4.8/§8).
func (e *Engine) Statistics(account string) domain.AccountStatistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	trades := e.closed[account]
	acc := e.accounts[account]
	stats := domain.AccountStatistics{TotalTrades: len(trades)}
	if acc != nil {
		stats.Approximate = acc.SynchronizeAccounts
	}
	if len(trades) == 0 {
		return stats
	}

	sumWin, sumLoss := ffdecimal.Zero, ffdecimal.Zero
	for _, t := range trades {
		if t.BookedPnL.Sign() > 0 {
			stats.Wins++
			sumWin = sumWin.Add(t.BookedPnL)
		} else if t.BookedPnL.Sign() < 0 {
			stats.Losses++
			sumLoss = sumLoss.Add(t.BookedPnL)
		}
	}
	stats.WinRate = ffdecimal.NewFromFloat(float64(stats.Wins)).Div(ffdecimal.NewFromFloat(float64(stats.TotalTrades)))
	if !sumLoss.IsZero() {
		stats.ProfitFactor = sumWin.Div(sumLoss.Abs())
	}
	if stats.Wins > 0 {
		stats.AvgWin = sumWin.Div(ffdecimal.NewFromFloat(float64(stats.Wins)))
	}
	if stats.Losses > 0 {
		stats.AvgLoss = sumLoss.Abs().Div(ffdecimal.NewFromFloat(float64(stats.Losses)))
	}
	if !stats.AvgLoss.IsZero() {
		stats.AvgRR = stats.AvgWin.Div(stats.AvgLoss)
	}
	stats.MaxDrawdown = maxDrawdown(trades)
	return stats
}

// maxDrawdown computes the largest peak-to-trough decline of the cumulative
// booked-PnL equity curve implied by trades, in closing order.
func maxDrawdown(trades []domain.ClosedTrade) ffdecimal.Price {
	equity, peak, maxDD := ffdecimal.Zero, ffdecimal.Zero, ffdecimal.Zero
	for _, t := range trades {
		equity = equity.Add(t.BookedPnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd := peak.Sub(equity)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}
