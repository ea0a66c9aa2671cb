package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"

	"pinchmarket/internal/model"
)

// Store is the Postgres ledger store. Every method is a single-row atomic
// operation; the service layer composes them and carries the compensating
// rollback for the cross-row bet path.
type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// ── Agents ───────────────────────────────────────────

const agentCols = `id, name, credential_hash, balance, created_at`

func scanAgent(row *sql.Row) (*model.Agent, error) {
	a := &model.Agent{}
	err := row.Scan(&a.ID, &a.Name, &a.CredentialHash, &a.Balance, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return scanAgent(s.DB.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM agents WHERE id=$1`, id))
}

func (s *Store) GetAgentByCredentialHash(ctx context.Context, hash string) (*model.Agent, error) {
	return scanAgent(s.DB.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM agents WHERE credential_hash=$1`, hash))
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (*model.Agent, error) {
	return scanAgent(s.DB.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM agents WHERE lower(name)=lower($1)`, name))
}

func (s *Store) InsertAgent(ctx context.Context, name, credentialHash string, balance int64) (*model.Agent, error) {
	a := &model.Agent{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO agents (name, credential_hash, balance) VALUES ($1,$2,$3)
		 RETURNING `+agentCols, name, credentialHash, balance,
	).Scan(&a.ID, &a.Name, &a.CredentialHash, &a.Balance, &a.CreatedAt)
	if err != nil {
		return nil, mapUnique(err)
	}
	return a, nil
}

func (s *Store) DebitAgent(ctx context.Context, agentID string, amount int64) (int64, error) {
	var balance int64
	err := s.DB.QueryRowContext(ctx,
		`UPDATE agents SET balance = balance - $1 WHERE id=$2 AND balance >= $1
		 RETURNING balance`, amount, agentID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, model.E(model.KindInsufficientBalance, "balance too low for debit")
	}
	return balance, err
}

func (s *Store) CreditAgent(ctx context.Context, agentID string, amount int64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE agents SET balance = balance + $1 WHERE id=$2`, amount, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.E(model.KindNotFound, "agent not found")
	}
	return nil
}

func (s *Store) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+agentCols+` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Agent
	for rows.Next() {
		var a model.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.CredentialHash, &a.Balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ── Markets ──────────────────────────────────────────

const marketCols = `id, question, description, category, end_date, resolution,
	resolution_date, resolution_source, total_volume, created_at`

func scanMarketRow(scan func(...any) error) (*model.Market, error) {
	m := &model.Market{}
	var desc, source sql.NullString
	var res sql.NullString
	var resDate sql.NullTime
	err := scan(&m.ID, &m.Question, &desc, &m.Category, &m.EndDate,
		&res, &resDate, &source, &m.TotalVolume, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Description = desc.String
	m.ResolutionSource = source.String
	if res.Valid {
		r := model.Resolution(res.String)
		m.Resolution = &r
	}
	if resDate.Valid {
		m.ResolutionDate = &resDate.Time
	}
	return m, nil
}

func (s *Store) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+marketCols+` FROM markets WHERE id=$1`, id)
	m, err := scanMarketRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) InsertMarket(ctx context.Context, m *model.Market) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO markets (id, question, description, category, end_date, resolution_source)
		 VALUES ($1,$2,NULLIF($3,''),$4,$5,NULLIF($6,''))`,
		m.ID, m.Question, m.Description, m.Category, m.EndDate, m.ResolutionSource)
	return err
}

func (s *Store) ListMarkets(ctx context.Context, f model.MarketFilter) ([]model.Market, error) {
	q := `SELECT ` + marketCols + ` FROM markets`
	var conds []string
	var args []any
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category=$%d", len(args)))
	}
	switch f.Status {
	case "active":
		conds = append(conds, "resolution IS NULL")
	case "resolved":
		conds = append(conds, "resolution IS NOT NULL")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY end_date ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Market
	for rows.Next() {
		m, err := scanMarketRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) MarkResolved(ctx context.Context, marketID string, outcome model.Resolution, source string, when time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE markets SET resolution=$1, resolution_date=$2,
		   resolution_source=COALESCE(NULLIF($3,''), resolution_source)
		 WHERE id=$4 AND resolution IS NULL`,
		outcome, when, source, marketID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		m, err := s.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m == nil {
			return model.E(model.KindNotFound, "market not found")
		}
		return model.E(model.KindConflict, "market already resolved")
	}
	return nil
}

func (s *Store) AddMarketVolume(ctx context.Context, marketID string, delta int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE markets SET total_volume = total_volume + $1 WHERE id=$2`, delta, marketID)
	return err
}

// ── Positions ────────────────────────────────────────

const positionCols = `id, agent_id, market_id, side, amount, odds_at_entry, created_at`

func (s *Store) GetPosition(ctx context.Context, agentID, marketID string) (*model.Position, error) {
	p := &model.Position{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE agent_id=$1 AND market_id=$2`,
		agentID, marketID,
	).Scan(&p.ID, &p.AgentID, &p.MarketID, &p.Side, &p.Amount, &p.OddsAtEntry, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *Store) GetPositionsForMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id=$1 ORDER BY created_at`, marketID)
}

func (s *Store) GetPositionsForAgent(ctx context.Context, agentID string) ([]model.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionCols+` FROM positions WHERE agent_id=$1 ORDER BY created_at DESC`, agentID)
}

func (s *Store) queryPositions(ctx context.Context, q string, args ...any) ([]model.Position, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.ID, &p.AgentID, &p.MarketID, &p.Side, &p.Amount, &p.OddsAtEntry, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO positions (id, agent_id, market_id, side, amount, odds_at_entry, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.AgentID, p.MarketID, p.Side, p.Amount, p.OddsAtEntry, p.CreatedAt)
	return mapUnique(err)
}

func (s *Store) AddToPosition(ctx context.Context, positionID string, delta int64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE positions SET amount = amount + $1 WHERE id=$2`, delta, positionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.E(model.KindNotFound, "position not found")
	}
	return nil
}

func (s *Store) DeletePosition(ctx context.Context, positionID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM positions WHERE id=$1`, positionID)
	return err
}

// ── Events ───────────────────────────────────────────

func (s *Store) AppendEvent(ctx context.Context, evType string, agentID, marketID *string, metadata map[string]any) error {
	b, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO events (event_type, agent_id, market_id, metadata) VALUES ($1,$2,$3,$4)`,
		evType, agentID, marketID, b)
	return err
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, event_type, agent_id, market_id, metadata, created_at
		 FROM events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var e model.Event
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.AgentID, &e.MarketID, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(raw, &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── Helpers ──────────────────────────────────────────

// mapUnique converts Postgres unique violations into the conflict kind so
// the service's pre-check race window closes with the right taxonomy member.
func mapUnique(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch {
		case strings.Contains(pqErr.Constraint, "credential"):
			return model.Wrap(model.KindConflict, "agent already registered", err)
		case strings.Contains(pqErr.Constraint, "name"):
			return model.Wrap(model.KindConflict, "name taken", err)
		default:
			return model.Wrap(model.KindConflict, "duplicate row", err)
		}
	}
	return err
}
