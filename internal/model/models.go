package model

import "time"

// ── Enums ────────────────────────────────────────────

type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

func (s Side) Valid() bool { return s == SideYes || s == SideNo }

// Opposite returns the other side of a binary market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

type Resolution string

const (
	ResolveYes     Resolution = "yes"
	ResolveNo      Resolution = "no"
	ResolveInvalid Resolution = "invalid"
)

func (r Resolution) Valid() bool {
	return r == ResolveYes || r == ResolveNo || r == ResolveInvalid
}

type Category string

const (
	CategoryTech          Category = "Tech"
	CategoryHumanBehavior Category = "Human Behavior"
	CategoryAIvsHumans    Category = "AI vs Humans"
	CategoryWorldEvents   Category = "World Events"
	CategoryEntertainment Category = "Entertainment"
	CategorySports        Category = "Sports"
)

// Categories is the fixed set accepted by market creation.
var Categories = []Category{
	CategoryTech, CategoryHumanBehavior, CategoryAIvsHumans,
	CategoryWorldEvents, CategoryEntertainment, CategorySports,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ── Limits ───────────────────────────────────────────

const (
	StartingBalance int64 = 1000
	MaxBetAmount    int64 = 10000
	MinNameLen            = 2
	MaxNameLen            = 30
)

// ── Domain Objects ───────────────────────────────────

type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CredentialHash string    `json:"-"`
	Balance        int64     `json:"balance"`
	CreatedAt      time.Time `json:"created_at"`
}

type Market struct {
	ID               string      `json:"id"`
	Question         string      `json:"question"`
	Description      string      `json:"description,omitempty"`
	Category         Category    `json:"category"`
	EndDate          time.Time   `json:"end_date"`
	Resolution       *Resolution `json:"resolution"`
	ResolutionDate   *time.Time  `json:"resolution_date,omitempty"`
	ResolutionSource string      `json:"resolution_source,omitempty"`
	TotalVolume      int64       `json:"total_volume"`
	CreatedAt        time.Time   `json:"created_at"`
}

// OpenForBetting reports whether the market still accepts positions.
// A market past its end date rejects new bets even before resolution.
func (m *Market) OpenForBetting(now time.Time) bool {
	return m.Resolution == nil && now.Before(m.EndDate)
}

type Position struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	MarketID    string    `json:"market_id"`
	Side        Side      `json:"side"`
	Amount      int64     `json:"amount"`
	OddsAtEntry int       `json:"odds_at_entry"`
	CreatedAt   time.Time `json:"created_at"`
}

type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	AgentID   *string        `json:"agent_id,omitempty"`
	MarketID  *string        `json:"market_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ── API Types ────────────────────────────────────────

type RegisterReq struct {
	Name       string `json:"name"`
	Credential string `json:"credential"`
}

type RegisterResult struct {
	AgentID string `json:"agent_id"`
	Balance int64  `json:"balance"`
}

type PlaceBetReq struct {
	MarketID string `json:"market_id"`
	Side     Side   `json:"side"`
	Amount   int64  `json:"amount"`
}

type PlaceBetResult struct {
	PositionID string `json:"position_id"`
	Side       Side   `json:"side"`
	Amount     int64  `json:"amount"`
	NewBalance int64  `json:"new_balance"`
	Odds       Quote  `json:"odds"`
}

// Quote is a pair of display percentages. The two sides are rounded
// independently and may not sum to exactly 100.
type Quote struct {
	Yes int `json:"yes"`
	No  int `json:"no"`
}

// MarketFilter narrows market listings.
type MarketFilter struct {
	Category Category // zero value: all categories
	Status   string   // "active", "resolved", or "" for all
	Limit    int
}

// MarketView is a market decorated with its live quote for listings.
type MarketView struct {
	Market
	Quote
	BetCount int `json:"bet_count"`
}

type MarketOdds struct {
	MarketID string `json:"market_id"`
	Quote
	Volume   int64 `json:"volume"`
	BetCount int   `json:"bet_count"`
}

type CreateMarketReq struct {
	Question         string    `json:"question"`
	Description      string    `json:"description"`
	Category         Category  `json:"category"`
	EndDate          time.Time `json:"end_date"`
	ResolutionSource string    `json:"resolution_source"`
}

type ResolveMarketReq struct {
	Outcome          Resolution `json:"outcome"`
	ResolutionSource string     `json:"resolution_source"`
}

type PortfolioPosition struct {
	Position
	Market *Market `json:"market,omitempty"`
}

type Portfolio struct {
	Agent     AgentSummary        `json:"agent"`
	Positions []PortfolioPosition `json:"positions"`
	Stats     PortfolioStats      `json:"stats"`
}

type AgentSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
}

type PortfolioStats struct {
	TotalInvested int64 `json:"total_invested"`
	ActiveBets    int   `json:"active_bets"`
	ResolvedBets  int   `json:"resolved_bets"`
	Wins          int   `json:"wins"`
	Losses        int   `json:"losses"`
	WinRate       *int  `json:"win_rate"`
}

type LeaderboardRow struct {
	Rank        int    `json:"rank"`
	AgentID     string `json:"agent_id"`
	Name        string `json:"name"`
	Balance     int64  `json:"balance"`
	TotalBets   int    `json:"total_bets"`
	WinningBets int    `json:"winning_bets"`
	Accuracy    *int   `json:"accuracy"`
	ProfitLoss  int64  `json:"profit_loss"`
}
