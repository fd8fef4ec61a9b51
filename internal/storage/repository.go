package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a keyed row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidTransition rejects a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("storage: invalid status transition")
)

// CatalystStore persists potential catalysts.
type CatalystStore interface {
	InsertCatalyst(ctx context.Context, c *PotentialCatalyst) error
	UpdateCatalyst(ctx context.Context, c PotentialCatalyst) error
	GetCatalyst(ctx context.Context, id string) (PotentialCatalyst, error)
	ListCatalysts(ctx context.Context, filter CatalystFilter) ([]PotentialCatalyst, error)
	DeleteCatalysts(ctx context.Context, ids []string) error
	ExpireCatalystsBefore(ctx context.Context, cutoff, now time.Time) (int64, error)
	TransitionCatalyst(ctx context.Context, id, to string, at time.Time) error
}

// SignalStore persists dispatched signals.
type SignalStore interface {
	InsertSignal(ctx context.Context, s *CatalystSignal) error
	GetSignal(ctx context.Context, id string) (CatalystSignal, error)
	ListSignals(ctx context.Context, filter SignalFilter) ([]CatalystSignal, error)
	TransitionSignal(ctx context.Context, id, to, notes string, at time.Time) error
}

// ArticleStore is the processed-article dedup ledger.
type ArticleStore interface {
	UpsertProcessedArticle(ctx context.Context, a ProcessedArticle) error
	GetProcessedArticle(ctx context.Context, link string) (ProcessedArticle, error)
	FilterProcessed(ctx context.Context, links []string) (map[string]bool, error)
}

// WatchlistStore persists watchlist assets.
type WatchlistStore interface {
	ListAssets(ctx context.Context, enabledOnly bool) ([]WatchlistAsset, error)
	UpsertAsset(ctx context.Context, a *WatchlistAsset) error
	FindAssetByTicker(ctx context.Context, ticker string) (WatchlistAsset, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository aggregates every store the pipeline needs.
type Repository interface {
	CatalystStore
	SignalStore
	ArticleStore
	WatchlistStore
	Close()
}

// NewID returns a fresh row identifier.
func NewID() string {
	return uuid.NewString()
}

// CheckCatalystTransition validates an external catalyst status change.
func CheckCatalystTransition(from, to string) error {
	if from != StatusMonitoring {
		return fmt.Errorf("%w: catalyst is %s", ErrInvalidTransition, from)
	}
	switch to {
	case StatusConfirmed, StatusInvalidated:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CheckSignalTransition validates an external signal status change.
func CheckSignalTransition(from, to string) error {
	if from != SignalActive {
		return fmt.Errorf("%w: signal is %s", ErrInvalidTransition, from)
	}
	switch to {
	case SignalPendingMarketOpen, SignalActed, SignalExpired, SignalDismissed:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

const (
	catalystColumns = `id, impact_text, affected_tickers, sources, citations,
        metric, direction, threshold_pct::text, timeout_hours,
        primary_ticker, thesis, sentiment, potential_score, confidence,
        base_price::text, base_ticker, base_recorded_at, base_price_state,
        status, validation_log, created_at, updated_at, expires_at`

	insertCatalystSQL = `INSERT INTO potential_catalysts (
        id, impact_text, affected_tickers, sources, citations,
        metric, direction, threshold_pct, timeout_hours,
        primary_ticker, thesis, sentiment, potential_score, confidence,
        base_price, base_ticker, base_recorded_at, base_price_state,
        status, validation_log, created_at, updated_at, expires_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
    );`

	updateCatalystSQL = `UPDATE potential_catalysts SET
        impact_text      = $2,
        affected_tickers = $3,
        sources          = $4,
        citations        = $5,
        metric           = $6,
        direction        = $7,
        threshold_pct    = $8,
        timeout_hours    = $9,
        primary_ticker   = $10,
        thesis           = $11,
        sentiment        = $12,
        potential_score  = $13,
        confidence       = $14,
        base_price       = $15,
        base_ticker      = $16,
        base_recorded_at = $17,
        base_price_state = $18,
        status           = $19,
        validation_log   = $20,
        created_at       = $21,
        updated_at       = $22,
        expires_at       = $23
    WHERE id = $1;`

	getCatalystSQL = `SELECT ` + catalystColumns + ` FROM potential_catalysts WHERE id = $1;`

	clearSignalCatalystRefSQL = `UPDATE catalyst_signals SET catalyst_id = NULL WHERE catalyst_id = ANY($1);`
	deleteCatalystsSQL        = `DELETE FROM potential_catalysts WHERE id = ANY($1);`

	expireCatalystsSQL = `UPDATE potential_catalysts
    SET status = 'expired', updated_at = $2
    WHERE status = 'monitoring' AND created_at < $1;`

	transitionCatalystSQL = `UPDATE potential_catalysts
    SET status = $2, updated_at = $3
    WHERE id = $1 AND status = 'monitoring';`

	signalColumns = `id, catalyst_id, keyword, ticker, action, direction,
        news, analysis, market, status, created_at, expires_at, acted_at, notes`

	insertSignalSQL = `INSERT INTO catalyst_signals (` + signalColumns + `)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14);`

	getSignalSQL = `SELECT ` + signalColumns + ` FROM catalyst_signals WHERE id = $1;`

	transitionSignalSQL = `UPDATE catalyst_signals
    SET status = $2,
        notes = CASE WHEN $3 = '' THEN notes ELSE $3 END,
        acted_at = CASE WHEN $2 = 'acted' THEN $4 ELSE acted_at END
    WHERE id = $1 AND status = 'active';`

	upsertProcessedArticleSQL = `INSERT INTO processed_articles (
        link, title, source, is_catalyst, analysis, processed_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (link) DO UPDATE
    SET title        = EXCLUDED.title,
        source       = EXCLUDED.source,
        is_catalyst  = processed_articles.is_catalyst OR EXCLUDED.is_catalyst,
        analysis     = EXCLUDED.analysis,
        processed_at = EXCLUDED.processed_at;`

	getProcessedArticleSQL = `SELECT link, title, source, is_catalyst, analysis, processed_at
    FROM processed_articles WHERE link = $1;`

	filterProcessedSQL = `SELECT link FROM processed_articles WHERE link = ANY($1);`

	assetColumns = `id, keyword, ticker, asset_type, related_tickers, validation_ticker, source_trust, enabled, created_at`

	upsertAssetSQL = `INSERT INTO watchlist_assets (` + assetColumns + `)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT (keyword, ticker) DO UPDATE
    SET asset_type        = EXCLUDED.asset_type,
        related_tickers   = EXCLUDED.related_tickers,
        validation_ticker = EXCLUDED.validation_ticker,
        source_trust      = EXCLUDED.source_trust,
        enabled           = EXCLUDED.enabled
    RETURNING id, created_at;`

	findAssetByTickerSQL = `SELECT ` + assetColumns + ` FROM watchlist_assets
    WHERE ticker = $1 OR $1 = ANY(related_tickers)
    ORDER BY (ticker = $1) DESC, enabled DESC, created_at
    LIMIT 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL-backed Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertCatalyst persists a new hypothesis, assigning an id when missing.
func (s *Store) InsertCatalyst(ctx context.Context, c *PotentialCatalyst) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = NewID()
	}
	args, err := catalystArgs(*c)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertCatalystSQL, args...); err != nil {
		return fmt.Errorf("insert catalyst: %w", err)
	}
	return nil
}

// UpdateCatalyst overwrites every mutable column of a hypothesis.
func (s *Store) UpdateCatalyst(ctx context.Context, c PotentialCatalyst) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	args, err := catalystArgs(c)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, updateCatalystSQL, args...)
	if err != nil {
		return fmt.Errorf("update catalyst: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCatalyst loads one hypothesis by id.
func (s *Store) GetCatalyst(ctx context.Context, id string) (PotentialCatalyst, error) {
	pool, err := s.getPool()
	if err != nil {
		return PotentialCatalyst{}, err
	}
	rows, err := pool.Query(ctx, getCatalystSQL, id)
	if err != nil {
		return PotentialCatalyst{}, fmt.Errorf("get catalyst: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if rows.Err() != nil {
			return PotentialCatalyst{}, rows.Err()
		}
		return PotentialCatalyst{}, ErrNotFound
	}
	return scanCatalyst(rows)
}

// ListCatalysts lists hypotheses newest first.
func (s *Store) ListCatalysts(ctx context.Context, filter CatalystFilter) ([]PotentialCatalyst, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Ticker != "" {
		args = append(args, filter.Ticker)
		where = append(where, fmt.Sprintf("$%d = ANY(affected_tickers)", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT ` + catalystColumns + ` FROM potential_catalysts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list catalysts: %w", err)
	}
	defer rows.Close()

	out := make([]PotentialCatalyst, 0)
	for rows.Next() {
		c, scanErr := scanCatalyst(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// DeleteCatalysts removes hypotheses after clearing signal references to them.
func (s *Store) DeleteCatalysts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete catalysts: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, clearSignalCatalystRefSQL, ids); err != nil {
		return fmt.Errorf("clear signal references: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteCatalystsSQL, ids); err != nil {
		return fmt.Errorf("delete catalysts: %w", err)
	}
	return tx.Commit(ctx)
}

// ExpireCatalystsBefore expires every monitoring hypothesis created before cutoff.
func (s *Store) ExpireCatalystsBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, expireCatalystsSQL, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("expire catalysts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TransitionCatalyst applies an external status change to a monitoring hypothesis.
func (s *Store) TransitionCatalyst(ctx context.Context, id, to string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	current, err := s.GetCatalyst(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckCatalystTransition(current.Status, to); err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, transitionCatalystSQL, id, to, at)
	if err != nil {
		return fmt.Errorf("transition catalyst: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: catalyst changed concurrently", ErrInvalidTransition)
	}
	return nil
}

// InsertSignal persists a new signal, assigning an id when missing.
func (s *Store) InsertSignal(ctx context.Context, sig *CatalystSignal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if sig.ID == "" {
		sig.ID = NewID()
	}
	news, err := json.Marshal(sig.News)
	if err != nil {
		return fmt.Errorf("marshal signal news: %w", err)
	}
	analysis, err := json.Marshal(sig.Analysis)
	if err != nil {
		return fmt.Errorf("marshal signal analysis: %w", err)
	}
	market, err := json.Marshal(sig.Market)
	if err != nil {
		return fmt.Errorf("marshal signal market: %w", err)
	}
	if _, err := pool.Exec(ctx, insertSignalSQL,
		sig.ID, sig.CatalystID, sig.Keyword, sig.Ticker, sig.Action, sig.Direction,
		news, analysis, market, sig.Status, sig.CreatedAt, sig.ExpiresAt, sig.ActedAt, sig.Notes,
	); err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// GetSignal loads one signal by id.
func (s *Store) GetSignal(ctx context.Context, id string) (CatalystSignal, error) {
	pool, err := s.getPool()
	if err != nil {
		return CatalystSignal{}, err
	}
	rows, err := pool.Query(ctx, getSignalSQL, id)
	if err != nil {
		return CatalystSignal{}, fmt.Errorf("get signal: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if rows.Err() != nil {
			return CatalystSignal{}, rows.Err()
		}
		return CatalystSignal{}, ErrNotFound
	}
	return scanSignal(rows)
}

// ListSignals lists signals newest first.
func (s *Store) ListSignals(ctx context.Context, filter SignalFilter) ([]CatalystSignal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + signalColumns + ` FROM catalyst_signals`
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += " WHERE status = $1"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	out := make([]CatalystSignal, 0)
	for rows.Next() {
		sig, scanErr := scanSignal(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, sig)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// TransitionSignal applies an external status change to an active signal.
func (s *Store) TransitionSignal(ctx context.Context, id, to, notes string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	current, err := s.GetSignal(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckSignalTransition(current.Status, to); err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, transitionSignalSQL, id, to, notes, at)
	if err != nil {
		return fmt.Errorf("transition signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: signal changed concurrently", ErrInvalidTransition)
	}
	return nil
}

// UpsertProcessedArticle records an article link, updating in place on conflict.
func (s *Store) UpsertProcessedArticle(ctx context.Context, a ProcessedArticle) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	analysis := []byte(a.Analysis)
	if len(analysis) == 0 {
		analysis = []byte("{}")
	}
	if _, err := pool.Exec(ctx, upsertProcessedArticleSQL,
		a.Link, a.Title, a.Source, a.IsCatalyst, analysis, a.ProcessedAt,
	); err != nil {
		return fmt.Errorf("upsert processed article: %w", err)
	}
	return nil
}

// GetProcessedArticle loads a ledger entry by link.
func (s *Store) GetProcessedArticle(ctx context.Context, link string) (ProcessedArticle, error) {
	pool, err := s.getPool()
	if err != nil {
		return ProcessedArticle{}, err
	}
	var a ProcessedArticle
	err = pool.QueryRow(ctx, getProcessedArticleSQL, link).Scan(
		&a.Link, &a.Title, &a.Source, &a.IsCatalyst, &a.Analysis, &a.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProcessedArticle{}, ErrNotFound
	}
	if err != nil {
		return ProcessedArticle{}, fmt.Errorf("get processed article: %w", err)
	}
	return a, nil
}

// FilterProcessed returns the subset of links already in the ledger.
func (s *Store) FilterProcessed(ctx context.Context, links []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(links) == 0 {
		return seen, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, filterProcessedSQL, links)
	if err != nil {
		return nil, fmt.Errorf("filter processed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, err
		}
		seen[link] = true
	}
	return seen, rows.Err()
}

// ListAssets lists watchlist assets.
func (s *Store) ListAssets(ctx context.Context, enabledOnly bool) ([]WatchlistAsset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + assetColumns + ` FROM watchlist_assets`
	if enabledOnly {
		query += " WHERE enabled"
	}
	query += " ORDER BY keyword, ticker"

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	out := make([]WatchlistAsset, 0)
	for rows.Next() {
		a, scanErr := scanAsset(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAsset inserts or updates an asset keyed by keyword and ticker.
func (s *Store) UpsertAsset(ctx context.Context, a *WatchlistAsset) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	related := a.RelatedTickers
	if related == nil {
		related = []string{}
	}
	err = pool.QueryRow(ctx, upsertAssetSQL,
		a.ID, a.Keyword, a.Ticker, a.AssetType, related, a.ValidationTicker, a.SourceTrust, a.Enabled, a.CreatedAt,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	return nil
}

// FindAssetByTicker finds the asset that owns ticker as primary or related symbol.
func (s *Store) FindAssetByTicker(ctx context.Context, ticker string) (WatchlistAsset, error) {
	pool, err := s.getPool()
	if err != nil {
		return WatchlistAsset{}, err
	}
	rows, err := pool.Query(ctx, findAssetByTickerSQL, ticker)
	if err != nil {
		return WatchlistAsset{}, fmt.Errorf("find asset: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if rows.Err() != nil {
			return WatchlistAsset{}, rows.Err()
		}
		return WatchlistAsset{}, ErrNotFound
	}
	return scanAsset(rows)
}

func catalystArgs(c PotentialCatalyst) ([]any, error) {
	sources, err := json.Marshal(nonNil(c.Sources))
	if err != nil {
		return nil, fmt.Errorf("marshal sources: %w", err)
	}
	citations, err := json.Marshal(nonNil(c.Citations))
	if err != nil {
		return nil, fmt.Errorf("marshal citations: %w", err)
	}
	validation, err := json.Marshal(nonNil(c.ValidationLog))
	if err != nil {
		return nil, fmt.Errorf("marshal validation log: %w", err)
	}

	var basePrice any
	if c.BasePrice != nil {
		basePrice = c.BasePrice.String()
	}
	tickers := c.AffectedTickers
	if tickers == nil {
		tickers = []string{}
	}

	return []any{
		c.ID,
		c.ImpactText,
		tickers,
		sources,
		citations,
		c.Criteria.Metric,
		c.Criteria.Direction,
		c.Criteria.ThresholdPct.String(),
		c.Criteria.TimeoutHours,
		c.PrimaryTicker,
		c.Thesis,
		c.Sentiment,
		c.PotentialScore,
		c.Confidence,
		basePrice,
		c.BaseTicker,
		c.BaseRecordedAt,
		c.BasePriceState,
		c.Status,
		validation,
		c.CreatedAt,
		c.UpdatedAt,
		c.ExpiresAt,
	}, nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func scanCatalyst(rows pgx.Rows) (PotentialCatalyst, error) {
	var (
		c            PotentialCatalyst
		sources      []byte
		citations    []byte
		validation   []byte
		thresholdStr string
		basePriceStr sql.NullString
	)
	if err := rows.Scan(
		&c.ID,
		&c.ImpactText,
		&c.AffectedTickers,
		&sources,
		&citations,
		&c.Criteria.Metric,
		&c.Criteria.Direction,
		&thresholdStr,
		&c.Criteria.TimeoutHours,
		&c.PrimaryTicker,
		&c.Thesis,
		&c.Sentiment,
		&c.PotentialScore,
		&c.Confidence,
		&basePriceStr,
		&c.BaseTicker,
		&c.BaseRecordedAt,
		&c.BasePriceState,
		&c.Status,
		&validation,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.ExpiresAt,
	); err != nil {
		return PotentialCatalyst{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return PotentialCatalyst{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	c.Criteria.ThresholdPct = threshold

	if basePriceStr.Valid {
		base, err := decimal.NewFromString(basePriceStr.String)
		if err != nil {
			return PotentialCatalyst{}, fmt.Errorf("parse base price: %w", err)
		}
		c.BasePrice = &base
	}
	if err := json.Unmarshal(sources, &c.Sources); err != nil {
		return PotentialCatalyst{}, fmt.Errorf("decode sources: %w", err)
	}
	if err := json.Unmarshal(citations, &c.Citations); err != nil {
		return PotentialCatalyst{}, fmt.Errorf("decode citations: %w", err)
	}
	if err := json.Unmarshal(validation, &c.ValidationLog); err != nil {
		return PotentialCatalyst{}, fmt.Errorf("decode validation log: %w", err)
	}
	return c, nil
}

func scanSignal(rows pgx.Rows) (CatalystSignal, error) {
	var (
		sig      CatalystSignal
		news     []byte
		analysis []byte
		market   []byte
	)
	if err := rows.Scan(
		&sig.ID,
		&sig.CatalystID,
		&sig.Keyword,
		&sig.Ticker,
		&sig.Action,
		&sig.Direction,
		&news,
		&analysis,
		&market,
		&sig.Status,
		&sig.CreatedAt,
		&sig.ExpiresAt,
		&sig.ActedAt,
		&sig.Notes,
	); err != nil {
		return CatalystSignal{}, err
	}
	if err := json.Unmarshal(news, &sig.News); err != nil {
		return CatalystSignal{}, fmt.Errorf("decode signal news: %w", err)
	}
	if err := json.Unmarshal(analysis, &sig.Analysis); err != nil {
		return CatalystSignal{}, fmt.Errorf("decode signal analysis: %w", err)
	}
	if err := json.Unmarshal(market, &sig.Market); err != nil {
		return CatalystSignal{}, fmt.Errorf("decode signal market: %w", err)
	}
	return sig, nil
}

func scanAsset(rows pgx.Rows) (WatchlistAsset, error) {
	var a WatchlistAsset
	if err := rows.Scan(
		&a.ID,
		&a.Keyword,
		&a.Ticker,
		&a.AssetType,
		&a.RelatedTickers,
		&a.ValidationTicker,
		&a.SourceTrust,
		&a.Enabled,
		&a.CreatedAt,
	); err != nil {
		return WatchlistAsset{}, err
	}
	return a, nil
}

var _ Repository = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
