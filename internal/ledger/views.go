package ledger

import (
	"context"
	"sort"

	"pinchmarket/internal/model"
	"pinchmarket/internal/odds"
)

// ── Portfolio ────────────────────────────────────────

// Portfolio returns the authenticated agent's positions joined with their
// markets plus win/loss stats over resolved markets.
func (s *Service) Portfolio(ctx context.Context, credential string) (*model.Portfolio, error) {
	agent, err := s.Resolve(ctx, credential)
	if err != nil {
		return nil, err
	}

	positions, err := s.store.GetPositionsForAgent(ctx, agent.ID)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "load positions", err)
	}

	out := make([]model.PortfolioPosition, 0, len(positions))
	var stats model.PortfolioStats
	for _, p := range positions {
		market, err := s.store.GetMarket(ctx, p.MarketID)
		if err != nil {
			return nil, model.Wrap(model.KindStoreFailure, "load market", err)
		}
		out = append(out, model.PortfolioPosition{Position: p, Market: market})

		stats.TotalInvested += p.Amount
		if market == nil || market.Resolution == nil {
			stats.ActiveBets++
			continue
		}
		stats.ResolvedBets++
		if model.Side(*market.Resolution) == p.Side {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}
	if stats.ResolvedBets > 0 {
		rate := roundPct(stats.Wins, stats.ResolvedBets)
		stats.WinRate = &rate
	}

	return &model.Portfolio{
		Agent:     model.AgentSummary{ID: agent.ID, Name: agent.Name, Balance: agent.Balance},
		Positions: out,
		Stats:     stats,
	}, nil
}

// ── Leaderboard ──────────────────────────────────────

// Leaderboard ranks agents by accuracy then realized profit over resolved
// markets. Derived entirely from the position and market tables; callers may
// cache it, this method always recomputes.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardRow, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "list agents", err)
	}

	markets := map[string]*model.Market{}
	pools := map[string][]model.Position{}
	rows := make([]model.LeaderboardRow, 0, len(agents))

	for _, a := range agents {
		positions, err := s.store.GetPositionsForAgent(ctx, a.ID)
		if err != nil {
			return nil, model.Wrap(model.KindStoreFailure, "load positions", err)
		}

		row := model.LeaderboardRow{AgentID: a.ID, Name: a.Name, Balance: a.Balance, TotalBets: len(positions)}
		resolved := 0
		for _, p := range positions {
			market, ok := markets[p.MarketID]
			if !ok {
				market, err = s.store.GetMarket(ctx, p.MarketID)
				if err != nil {
					return nil, model.Wrap(model.KindStoreFailure, "load market", err)
				}
				markets[p.MarketID] = market
			}
			if market == nil || market.Resolution == nil || *market.Resolution == model.ResolveInvalid {
				continue
			}
			resolved++
			if model.Side(*market.Resolution) != p.Side {
				row.ProfitLoss -= p.Amount
				continue
			}
			row.WinningBets++
			pool, ok := pools[p.MarketID]
			if !ok {
				pool, err = s.store.GetPositionsForMarket(ctx, p.MarketID)
				if err != nil {
					return nil, model.Wrap(model.KindStoreFailure, "load market positions", err)
				}
				pools[p.MarketID] = pool
			}
			for _, c := range odds.Settle(pool, *market.Resolution) {
				if c.AgentID == p.AgentID {
					row.ProfitLoss += c.Amount - p.Amount
				}
			}
		}
		if resolved > 0 {
			acc := roundPct(row.WinningBets, resolved)
			row.Accuracy = &acc
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ai, aj := -1, -1
		if rows[i].Accuracy != nil {
			ai = *rows[i].Accuracy
		}
		if rows[j].Accuracy != nil {
			aj = *rows[j].Accuracy
		}
		if ai != aj {
			return ai > aj
		}
		if rows[i].ProfitLoss != rows[j].ProfitLoss {
			return rows[i].ProfitLoss > rows[j].ProfitLoss
		}
		return rows[i].Name < rows[j].Name
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// ── Events / Metrics ─────────────────────────────────

func (s *Service) Events(ctx context.Context, limit int) ([]model.Event, error) {
	events, err := s.store.ListEvents(ctx, limit)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "list events", err)
	}
	return events, nil
}

// Metrics summarizes ledger state for the admin surface.
func (s *Service) Metrics(ctx context.Context) (map[string]any, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "list agents", err)
	}
	markets, err := s.store.ListMarkets(ctx, model.MarketFilter{})
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "list markets", err)
	}

	active, resolvedCount := 0, 0
	var volume int64
	bets := 0
	for _, m := range markets {
		if m.Resolution == nil {
			active++
		} else {
			resolvedCount++
		}
		positions, err := s.store.GetPositionsForMarket(ctx, m.ID)
		if err != nil {
			return nil, model.Wrap(model.KindStoreFailure, "load positions", err)
		}
		bets += len(positions)
		yes, no := odds.Totals(positions)
		volume += yes + no
	}

	return map[string]any{
		"total_agents":     len(agents),
		"total_markets":    len(markets),
		"active_markets":   active,
		"resolved_markets": resolvedCount,
		"total_bets":       bets,
		"total_volume":     volume,
	}, nil
}

func roundPct(part, total int) int {
	return int(float64(part)/float64(total)*100 + 0.5)
}
