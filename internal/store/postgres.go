package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"SynthPerp/internal/engine"
	"SynthPerp/internal/oracle"
)

// Postgres persists engine state in three tables: engine_meta (admin
// identity, single row), markets, and accounts with a positions row per
// instrument. Apply runs in a single transaction.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *Postgres) Initialize(ctx context.Context, admin uuid.UUID, markets []*engine.Market) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin initialize: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO engine_meta (singleton, admin) VALUES (TRUE, $1)`,
		admin,
	); err != nil {
		if isUniqueViolation(err) {
			return engine.ErrAlreadyInitialized
		}
		return fmt.Errorf("insert admin: %w", err)
	}

	for _, m := range markets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO markets
				(asset_id, oracle_feed, skew, total_long_size, total_short_size,
				 last_funding_time, global_funding_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.Asset, string(m.OracleFeed), m.Skew, m.TotalLongSize,
			m.TotalShortSize, m.LastFundingTime, m.GlobalFundingIndex,
		); err != nil {
			return fmt.Errorf("insert market %s: %w", m.Asset, err)
		}
	}

	return tx.Commit()
}

func (s *Postgres) Admin(ctx context.Context) (uuid.UUID, error) {
	var admin uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT admin FROM engine_meta WHERE singleton`,
	).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, engine.ErrNotInitialized
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("select admin: %w", err)
	}
	return admin, nil
}

func (s *Postgres) Market(ctx context.Context, asset engine.Asset) (*engine.Market, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset_id, oracle_feed, skew, total_long_size, total_short_size,
		       last_funding_time, global_funding_index
		FROM markets WHERE asset_id = $1`, asset)
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrMarketNotFound, asset)
	}
	if err != nil {
		return nil, fmt.Errorf("select market %s: %w", asset, err)
	}
	return m, nil
}

func (s *Postgres) Markets(ctx context.Context) ([]*engine.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, oracle_feed, skew, total_long_size, total_short_size,
		       last_funding_time, global_funding_index
		FROM markets ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("select markets: %w", err)
	}
	defer rows.Close()

	var markets []*engine.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *Postgres) CreateAccount(ctx context.Context, account *engine.UserAccount) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create account: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (owner, balance) VALUES ($1, $2)`,
		account.Owner, account.Balance,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", engine.ErrAccountExists, account.Owner)
		}
		return fmt.Errorf("insert account: %w", err)
	}

	for _, asset := range engine.Assets() {
		pos := account.Position(asset)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions
				(owner, asset_id, size, entry_price, leverage, last_funding_index)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			account.Owner, asset, pos.Size, pos.EntryPrice, pos.Leverage, pos.LastFundingIndex,
		); err != nil {
			return fmt.Errorf("insert position %s: %w", asset, err)
		}
	}

	return tx.Commit()
}

func (s *Postgres) Account(ctx context.Context, owner uuid.UUID) (*engine.UserAccount, error) {
	account := &engine.UserAccount{
		Owner:     owner,
		Positions: make(map[engine.Asset]*engine.Position, engine.AssetCount),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE owner = $1`, owner,
	).Scan(&account.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrAccountNotFound, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, size, entry_price, leverage, last_funding_index
		FROM positions WHERE owner = $1 ORDER BY asset_id`, owner)
	if err != nil {
		return nil, fmt.Errorf("select positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var asset engine.Asset
		pos := &engine.Position{}
		if err := rows.Scan(&asset, &pos.Size, &pos.EntryPrice, &pos.Leverage, &pos.LastFundingIndex); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		account.Positions[asset] = pos
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, asset := range engine.Assets() {
		if _, ok := account.Positions[asset]; !ok {
			account.Positions[asset] = &engine.Position{}
		}
	}
	return account, nil
}

func (s *Postgres) Apply(ctx context.Context, markets []*engine.Market, accounts []*engine.UserAccount) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	for _, m := range markets {
		res, err := tx.ExecContext(ctx, `
			UPDATE markets SET
				skew = $2, total_long_size = $3, total_short_size = $4,
				last_funding_time = $5, global_funding_index = $6
			WHERE asset_id = $1`,
			m.Asset, m.Skew, m.TotalLongSize, m.TotalShortSize,
			m.LastFundingTime, m.GlobalFundingIndex,
		)
		if err != nil {
			return fmt.Errorf("update market %s: %w", m.Asset, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", engine.ErrMarketNotFound, m.Asset)
		}
	}

	for _, a := range accounts {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = $2 WHERE owner = $1`,
			a.Owner, a.Balance,
		)
		if err != nil {
			return fmt.Errorf("update account %s: %w", a.Owner, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", engine.ErrAccountNotFound, a.Owner)
		}

		for _, asset := range engine.Assets() {
			pos := a.Position(asset)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO positions
					(owner, asset_id, size, entry_price, leverage, last_funding_index)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (owner, asset_id) DO UPDATE SET
					size = EXCLUDED.size,
					entry_price = EXCLUDED.entry_price,
					leverage = EXCLUDED.leverage,
					last_funding_index = EXCLUDED.last_funding_index`,
				a.Owner, asset, pos.Size, pos.EntryPrice, pos.Leverage, pos.LastFundingIndex,
			); err != nil {
				return fmt.Errorf("upsert position %s/%s: %w", a.Owner, asset, err)
			}
		}
	}

	return tx.Commit()
}

func scanMarket(row interface{ Scan(...interface{}) error }) (*engine.Market, error) {
	m := &engine.Market{}
	var feed string
	if err := row.Scan(&m.Asset, &feed, &m.Skew, &m.TotalLongSize,
		&m.TotalShortSize, &m.LastFundingTime, &m.GlobalFundingIndex); err != nil {
		return nil, err
	}
	m.OracleFeed = oracle.FeedID(feed)
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
