// Package ledger implements the betting core: stake validation and
// bookkeeping, market lifecycle and settlement, and credential-to-agent
// resolution. All money movement flows through here; HTTP and storage are
// collaborators behind narrow seams.
package ledger

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"pinchmarket/internal/model"
	"pinchmarket/internal/odds"
)

type Service struct {
	store Store
	pairs *pairLocks

	now   func() time.Time
	newID func() string
}

func New(store Store) *Service {
	return &Service{
		store: store,
		pairs: newPairLocks(),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// ── Place Bet ────────────────────────────────────────

// PlaceBet validates and records a stake. The position write and the balance
// debit must both land or neither: if the debit fails after the position
// write, the position write is rolled back with a compensating delete.
// Volume and event writes are advisory and never fail the bet.
func (s *Service) PlaceBet(ctx context.Context, credential string, req model.PlaceBetReq) (*model.PlaceBetResult, error) {
	agent, err := s.Resolve(ctx, credential)
	if err != nil {
		return nil, err
	}

	if req.Amount <= 0 {
		return nil, model.E(model.KindValidation, "amount must be positive")
	}
	if req.Amount > model.MaxBetAmount {
		return nil, model.Ef(model.KindValidation, "amount must not exceed %d", model.MaxBetAmount)
	}
	if !req.Side.Valid() {
		return nil, model.E(model.KindValidation, "side must be yes or no")
	}

	unlock := s.pairs.Acquire(agent.ID + "|" + req.MarketID)
	defer unlock()

	market, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "load market", err)
	}
	if market == nil {
		return nil, model.E(model.KindNotFound, "market not found")
	}
	if !market.OpenForBetting(s.now()) {
		return nil, model.E(model.KindMarketClosed, "market is closed to new positions")
	}

	if agent.Balance < req.Amount {
		return nil, model.Ef(model.KindInsufficientBalance,
			"balance %d is less than stake %d", agent.Balance, req.Amount)
	}

	existing, err := s.store.GetPosition(ctx, agent.ID, req.MarketID)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "load position", err)
	}
	if existing != nil && existing.Side != req.Side {
		return nil, model.Ef(model.KindConflict,
			"agent already holds a %q position on this market", existing.Side)
	}

	// Odds snapshot over the market's position set before this stake lands.
	snapshot, err := s.store.GetPositionsForMarket(ctx, req.MarketID)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "load market positions", err)
	}
	quote := odds.Compute(snapshot)

	positionID, totalAmount, err := s.writePosition(ctx, agent, market, existing, quote, req)
	if err != nil {
		return nil, err
	}

	newBalance, err := s.store.DebitAgent(ctx, agent.ID, req.Amount)
	if err != nil {
		s.rollbackPosition(ctx, existing, positionID, req.Amount)
		if model.IsKind(err, model.KindInsufficientBalance) {
			return nil, err
		}
		return nil, model.Wrap(model.KindStoreFailure, "debit balance", err)
	}

	// Advisory writes: recomputable from the position table, so failures
	// are logged and ignored.
	if err := s.store.AddMarketVolume(ctx, req.MarketID, req.Amount); err != nil {
		log.Printf("[ledger] volume update failed for market %s: %v", req.MarketID, err)
	}
	if err := s.store.AppendEvent(ctx, "bet_placed", &agent.ID, &req.MarketID, map[string]any{
		"side": req.Side, "amount": req.Amount,
	}); err != nil {
		log.Printf("[ledger] event append failed: %v", err)
	}

	after := append(snapshot, model.Position{Side: req.Side, Amount: req.Amount})
	return &model.PlaceBetResult{
		PositionID: positionID,
		Side:       req.Side,
		Amount:     totalAmount,
		NewBalance: newBalance,
		Odds:       odds.Compute(after),
	}, nil
}

func (s *Service) writePosition(ctx context.Context, agent *model.Agent, market *model.Market, existing *model.Position, quote model.Quote, req model.PlaceBetReq) (positionID string, totalAmount int64, err error) {
	if existing != nil {
		// Same-side top-up: entry odds stay at the original snapshot.
		if err := s.store.AddToPosition(ctx, existing.ID, req.Amount); err != nil {
			return "", 0, model.Wrap(model.KindStoreFailure, "increase position", err)
		}
		return existing.ID, existing.Amount + req.Amount, nil
	}
	p := &model.Position{
		ID:          s.newID(),
		AgentID:     agent.ID,
		MarketID:    market.ID,
		Side:        req.Side,
		Amount:      req.Amount,
		OddsAtEntry: odds.Entry(quote, req.Side),
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertPosition(ctx, p); err != nil {
		return "", 0, model.Wrap(model.KindStoreFailure, "insert position", err)
	}
	return p.ID, p.Amount, nil
}

// rollbackPosition undoes the position write after a failed debit. A stuck
// rollback is escalated loudly: a position without a matching debit needs
// manual reconciliation, never silence.
func (s *Service) rollbackPosition(ctx context.Context, existing *model.Position, positionID string, amount int64) {
	var err error
	if existing != nil {
		err = s.store.AddToPosition(ctx, positionID, -amount)
	} else {
		err = s.store.DeletePosition(ctx, positionID)
	}
	if err != nil {
		log.Printf("[ledger] RECONCILE: compensating rollback failed for position %s (amount %d): %v",
			positionID, amount, err)
	}
}

// ── Odds ─────────────────────────────────────────────

// MarketOdds reports odds, volume, and bet count from the position set. It
// answers for closed and resolved markets too: only new stakes are gated.
func (s *Service) MarketOdds(ctx context.Context, marketID string) (*model.MarketOdds, error) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "load market", err)
	}
	if market == nil {
		return nil, model.E(model.KindNotFound, "market not found")
	}
	positions, err := s.store.GetPositionsForMarket(ctx, marketID)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "load positions", err)
	}
	yes, no := odds.Totals(positions)
	return &model.MarketOdds{
		MarketID: marketID,
		Quote:    odds.Compute(positions),
		Volume:   yes + no,
		BetCount: len(positions),
	}, nil
}
