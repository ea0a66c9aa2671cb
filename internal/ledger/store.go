package ledger

import (
	"context"
	"time"

	"pinchmarket/internal/model"
)

// Store is the persistence surface the ledger core requires. Implementations
// guarantee row-level atomicity per call; the service never assumes a
// multi-row transaction exists (see DebitAgent and MarkResolved, which carry
// their own conditions). Lookups return (nil, nil) when the row is absent.
type Store interface {
	// Agents
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	GetAgentByCredentialHash(ctx context.Context, hash string) (*model.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*model.Agent, error)
	InsertAgent(ctx context.Context, name, credentialHash string, balance int64) (*model.Agent, error)
	// DebitAgent subtracts amount from the agent's balance in a single
	// conditional update that fails with KindInsufficientBalance rather
	// than ever committing a negative balance.
	DebitAgent(ctx context.Context, agentID string, amount int64) (newBalance int64, err error)
	CreditAgent(ctx context.Context, agentID string, amount int64) error
	ListAgents(ctx context.Context) ([]model.Agent, error)

	// Markets
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	InsertMarket(ctx context.Context, m *model.Market) error
	ListMarkets(ctx context.Context, f model.MarketFilter) ([]model.Market, error)
	// MarkResolved performs the terminal transition guarded by
	// `resolution IS NULL`: concurrent resolvers get at most one success,
	// the rest KindConflict.
	MarkResolved(ctx context.Context, marketID string, outcome model.Resolution, source string, when time.Time) error
	// AddMarketVolume bumps the advisory running total. Derived data: the
	// position set remains the source of truth.
	AddMarketVolume(ctx context.Context, marketID string, delta int64) error

	// Positions
	GetPosition(ctx context.Context, agentID, marketID string) (*model.Position, error)
	GetPositionsForMarket(ctx context.Context, marketID string) ([]model.Position, error)
	GetPositionsForAgent(ctx context.Context, agentID string) ([]model.Position, error)
	InsertPosition(ctx context.Context, p *model.Position) error
	AddToPosition(ctx context.Context, positionID string, delta int64) error
	// DeletePosition exists for the compensating rollback path only.
	DeletePosition(ctx context.Context, positionID string) error

	// Events (advisory)
	AppendEvent(ctx context.Context, evType string, agentID, marketID *string, metadata map[string]any) error
	ListEvents(ctx context.Context, limit int) ([]model.Event, error)
}
