// Package odds prices a binary pari-mutuel market from its position set and
// computes settlement credits when the market resolves.
package odds

import (
	"math"

	"pinchmarket/internal/model"
)

// Totals sums the staked amounts per side.
func Totals(positions []model.Position) (yes, no int64) {
	for _, p := range positions {
		switch p.Side {
		case model.SideYes:
			yes += p.Amount
		case model.SideNo:
			no += p.Amount
		}
	}
	return yes, no
}

// Compute derives display percentages from the position set. A side's price
// reflects the opposing stake share: each winning unit is paid from the
// losing pool, so the side with less money backing it is priced higher.
// With no stake at all the market sits at the 50/50 prior.
func Compute(positions []model.Position) model.Quote {
	yes, no := Totals(positions)
	total := yes + no
	if total == 0 {
		return model.Quote{Yes: 50, No: 50}
	}
	return model.Quote{
		Yes: pct(no, total),
		No:  pct(yes, total),
	}
}

func pct(part, total int64) int {
	return int(math.Round(float64(part) / float64(total) * 100))
}

// Entry is the percentage snapshot recorded on a new position: the quoted
// price of the side the agent is taking.
func Entry(q model.Quote, side model.Side) int {
	if side == model.SideYes {
		return q.Yes
	}
	return q.No
}

// Credit is a balance adjustment owed to one agent at settlement.
type Credit struct {
	AgentID string
	Amount  int64
}

// Settle computes the credits a resolution produces. For a yes/no outcome,
// each winning position receives its principal plus a proportional share of
// the losing pool (amount * losingTotal / winningTotal, floor division).
// Losing positions receive nothing: their stake was debited at entry.
// An invalid outcome refunds every principal regardless of side.
func Settle(positions []model.Position, outcome model.Resolution) []Credit {
	credits := []Credit{}

	if outcome == model.ResolveInvalid {
		for _, p := range positions {
			credits = append(credits, Credit{AgentID: p.AgentID, Amount: p.Amount})
		}
		return credits
	}

	winSide := model.Side(outcome)
	yes, no := Totals(positions)
	winTotal, loseTotal := yes, no
	if winSide == model.SideNo {
		winTotal, loseTotal = no, yes
	}
	if winTotal == 0 {
		return credits
	}

	for _, p := range positions {
		if p.Side != winSide {
			continue
		}
		share := p.Amount * loseTotal / winTotal
		credits = append(credits, Credit{AgentID: p.AgentID, Amount: p.Amount + share})
	}
	return credits
}
