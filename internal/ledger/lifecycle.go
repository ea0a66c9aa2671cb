package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pinchmarket/internal/model"
	"pinchmarket/internal/odds"
)

// ── Create ───────────────────────────────────────────

func (s *Service) CreateMarket(ctx context.Context, req model.CreateMarketReq) (*model.Market, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, model.E(model.KindValidation, "question required")
	}
	if !req.Category.Valid() {
		return nil, model.Ef(model.KindValidation, "invalid category %q", req.Category)
	}
	if !req.EndDate.After(s.now()) {
		return nil, model.E(model.KindValidation, "end date must be in the future")
	}

	m := &model.Market{
		ID:               s.newID(),
		Question:         question,
		Description:      strings.TrimSpace(req.Description),
		Category:         req.Category,
		EndDate:          req.EndDate,
		ResolutionSource: req.ResolutionSource,
		CreatedAt:        s.now(),
	}
	if err := s.store.InsertMarket(ctx, m); err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "insert market", err)
	}

	if err := s.store.AppendEvent(ctx, "market_created", nil, &m.ID, map[string]any{
		"question": m.Question, "category": m.Category,
	}); err != nil {
		log.Printf("[ledger] event append failed: %v", err)
	}

	log.Printf("[ledger] new market created: %s", m.Question)
	return m, nil
}

// ── Resolve & Settle ─────────────────────────────────

// ResolveMarket performs the terminal transition and pays out. The
// conditional resolution update admits exactly one winner among concurrent
// resolvers, which is also what makes settlement run exactly once. Credits
// are attempted for every winner even if some fail; any failure surfaces as
// a store failure so the shortfall is reconciled, not swallowed.
func (s *Service) ResolveMarket(ctx context.Context, marketID string, req model.ResolveMarketReq) (*model.Market, error) {
	if !req.Outcome.Valid() {
		return nil, model.E(model.KindValidation, "outcome must be yes, no, or invalid")
	}

	when := s.now()
	if err := s.store.MarkResolved(ctx, marketID, req.Outcome, req.ResolutionSource, when); err != nil {
		switch model.KindOf(err) {
		case model.KindNotFound, model.KindConflict:
			return nil, err
		}
		return nil, model.Wrap(model.KindStoreFailure, "resolve market", err)
	}

	positions, err := s.store.GetPositionsForMarket(ctx, marketID)
	if err != nil {
		// Resolved but unsettled: surface for reconciliation.
		return nil, model.Wrap(model.KindStoreFailure, "load positions for settlement", err)
	}

	credits := odds.Settle(positions, req.Outcome)
	var failed int
	for _, c := range credits {
		if err := s.store.CreditAgent(ctx, c.AgentID, c.Amount); err != nil {
			failed++
			log.Printf("[ledger] RECONCILE: settlement credit failed for agent %s (amount %d, market %s): %v",
				c.AgentID, c.Amount, marketID, err)
		}
	}

	if err := s.store.AppendEvent(ctx, "market_resolved", nil, &marketID, map[string]any{
		"resolution": req.Outcome, "settled_positions": len(credits),
	}); err != nil {
		log.Printf("[ledger] event append failed: %v", err)
	}

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil || market == nil {
		return nil, model.Wrap(model.KindStoreFailure, "reload market", err)
	}

	log.Printf("[ledger] market %s resolved %s: %d positions credited", marketID, req.Outcome, len(credits)-failed)
	if failed > 0 {
		return market, model.Wrap(model.KindStoreFailure,
			fmt.Sprintf("%d settlement credits failed", failed), nil)
	}
	return market, nil
}

// ── Listings ─────────────────────────────────────────

// ListMarkets returns markets matching the filter with their current quote
// and bet count attached.
func (s *Service) ListMarkets(ctx context.Context, f model.MarketFilter) ([]model.MarketView, error) {
	markets, err := s.store.ListMarkets(ctx, f)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "list markets", err)
	}
	views := make([]model.MarketView, 0, len(markets))
	for _, m := range markets {
		positions, err := s.store.GetPositionsForMarket(ctx, m.ID)
		if err != nil {
			return nil, model.Wrap(model.KindStoreFailure, "load positions", err)
		}
		views = append(views, model.MarketView{
			Market:   m,
			Quote:    odds.Compute(positions),
			BetCount: len(positions),
		})
	}
	return views, nil
}

func (s *Service) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "load market", err)
	}
	if m == nil {
		return nil, model.E(model.KindNotFound, "market not found")
	}
	return m, nil
}
