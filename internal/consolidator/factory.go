package consolidator

import "github.com/fundforge/ffcore/internal/domain"

// New builds the Consolidator appropriate for sub's BaseType/Style (spec
// §4.4). Tick/Quote/Instant resolutions pass records through unconsolidated
// and have no consolidator of their own; callers should only invoke New for
// derived (time-based or Renko) subscriptions.
func New(sub domain.Subscription) (Consolidator, error) {
	if sub.Resolution.Unit == domain.UnitTick && sub.Style == domain.StyleRenko {
		return NewRenkoBar(sub), nil
	}
	switch sub.BaseType {
	case domain.BaseCandle:
		switch sub.Style {
		case domain.StyleHeikinAshi:
			return NewHeikinAshiBar(sub), nil
		case domain.StyleRenko:
			return NewRenkoBar(sub), nil
		default:
			return NewCandleBar(sub), nil
		}
	case domain.BaseQuoteBar:
		return NewQuoteBar(sub), nil
	default:
		return nil, domain.NewError(domain.KindUnsupported, "consolidator: unsupported base type for "+sub.String())
	}
}
