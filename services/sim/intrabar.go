package sim

import (
	"github.com/shopspring/decimal"

	"backtest-engine/services/marketdata"
)

// Touch indicates which protective level a bar's range reached first.
type Touch int

const (
	TouchNone Touch = iota
	TouchStop
	TouchTake
)

// resolveTouchLong checks a long position's stop and take against the bar's
// High/Low range. A bar carries no intrabar ordering, so when both levels
// fall inside the range the configured priority decides.
func resolveTouchLong(bar marketdata.Bar, stop, take decimal.Decimal, hasTake bool, priority SameBarPriority) Touch {
	hitStop := bar.Low.LessThanOrEqual(stop)
	hitTake := hasTake && bar.High.GreaterThanOrEqual(take)
	return pick(hitStop, hitTake, priority)
}

// resolveTouchShort mirrors the long logic: the stop sits above entry, the
// take below.
func resolveTouchShort(bar marketdata.Bar, stop, take decimal.Decimal, hasTake bool, priority SameBarPriority) Touch {
	hitStop := bar.High.GreaterThanOrEqual(stop)
	hitTake := hasTake && bar.Low.LessThanOrEqual(take)
	return pick(hitStop, hitTake, priority)
}

func pick(hitStop, hitTake bool, priority SameBarPriority) Touch {
	switch {
	case hitStop && hitTake:
		if priority == TakeProfitFirst {
			return TouchTake
		}
		return TouchStop
	case hitStop:
		return TouchStop
	case hitTake:
		return TouchTake
	default:
		return TouchNone
	}
}
