package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type catalystRow struct {
	ID              string `gorm:"primaryKey"`
	ImpactText      string
	AffectedTickers string
	Sources         string
	Citations       string
	Metric          string
	Direction       string
	ThresholdPct    string
	TimeoutHours    int
	PrimaryTicker   string
	Thesis          string
	Sentiment       string
	PotentialScore  *int
	Confidence      int
	BasePrice       *string
	BaseTicker      string
	BaseRecordedAt  *time.Time
	BasePriceState  string
	Status          string `gorm:"index"`
	ValidationLog   string
	CreatedAt       time.Time `gorm:"index;autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
	ExpiresAt       *time.Time
}

func (catalystRow) TableName() string { return "potential_catalysts" }

type signalRow struct {
	ID         string  `gorm:"primaryKey"`
	CatalystID *string `gorm:"index"`
	Keyword    string
	Ticker     string
	Action     string
	Direction  string
	News       string
	Analysis   string
	Market     string
	Status     string    `gorm:"index"`
	CreatedAt  time.Time `gorm:"autoCreateTime:false"`
	ExpiresAt  time.Time
	ActedAt    *time.Time
	Notes      string
}

func (signalRow) TableName() string { return "catalyst_signals" }

type articleRow struct {
	Link        string `gorm:"primaryKey"`
	Title       string
	Source      string
	IsCatalyst  bool
	Analysis    string
	ProcessedAt time.Time
}

func (articleRow) TableName() string { return "processed_articles" }

type assetRow struct {
	ID               string `gorm:"primaryKey"`
	Keyword          string `gorm:"uniqueIndex:idx_asset_keyword_ticker"`
	Ticker           string `gorm:"uniqueIndex:idx_asset_keyword_ticker"`
	AssetType        string
	RelatedTickers   string
	ValidationTicker string
	SourceTrust      string
	Enabled          bool
	CreatedAt        time.Time `gorm:"autoCreateTime:false"`
}

func (assetRow) TableName() string { return "watchlist_assets" }

// SQLite is the gorm-backed single-file Repository.
type SQLite struct {
	db *gorm.DB
	localLocks
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

// Migrate creates or updates the tables.
func (s *SQLite) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&assetRow{}, &catalystRow{}, &signalRow{}, &articleRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *SQLite) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *SQLite) InsertCatalyst(ctx context.Context, c *PotentialCatalyst) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	row, err := toCatalystRow(*c)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert catalyst: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateCatalyst(ctx context.Context, c PotentialCatalyst) error {
	row, err := toCatalystRow(c)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&catalystRow{}).Where("id = ?", c.ID).Select("*").Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("update catalyst: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) GetCatalyst(ctx context.Context, id string) (PotentialCatalyst, error) {
	var row catalystRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PotentialCatalyst{}, ErrNotFound
	}
	if err != nil {
		return PotentialCatalyst{}, fmt.Errorf("get catalyst: %w", err)
	}
	return row.toModel()
}

func (s *SQLite) ListCatalysts(ctx context.Context, filter CatalystFilter) ([]PotentialCatalyst, error) {
	q := s.db.WithContext(ctx).Model(&catalystRow{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	var rows []catalystRow
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list catalysts: %w", err)
	}

	out := make([]PotentialCatalyst, 0, len(rows))
	for _, row := range rows {
		c, err := row.toModel()
		if err != nil {
			return nil, err
		}
		// tickers live in a JSON column, so the membership test happens here
		if filter.Ticker != "" && !c.HasTicker(filter.Ticker) {
			continue
		}
		out = append(out, c)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *SQLite) DeleteCatalysts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&signalRow{}).Where("catalyst_id IN ?", ids).Update("catalyst_id", nil).Error; err != nil {
			return fmt.Errorf("clear signal references: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&catalystRow{}).Error; err != nil {
			return fmt.Errorf("delete catalysts: %w", err)
		}
		return nil
	})
}

func (s *SQLite) ExpireCatalystsBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&catalystRow{}).
		Where("status = ? AND created_at < ?", StatusMonitoring, cutoff).
		Updates(map[string]any{"status": StatusExpired, "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("expire catalysts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SQLite) TransitionCatalyst(ctx context.Context, id, to string, at time.Time) error {
	current, err := s.GetCatalyst(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckCatalystTransition(current.Status, to); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&catalystRow{}).
		Where("id = ? AND status = ?", id, StatusMonitoring).
		Updates(map[string]any{"status": to, "updated_at": at})
	if res.Error != nil {
		return fmt.Errorf("transition catalyst: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: catalyst changed concurrently", ErrInvalidTransition)
	}
	return nil
}

func (s *SQLite) InsertSignal(ctx context.Context, sig *CatalystSignal) error {
	if sig.ID == "" {
		sig.ID = NewID()
	}
	row, err := toSignalRow(*sig)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (s *SQLite) GetSignal(ctx context.Context, id string) (CatalystSignal, error) {
	var row signalRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CatalystSignal{}, ErrNotFound
	}
	if err != nil {
		return CatalystSignal{}, fmt.Errorf("get signal: %w", err)
	}
	return row.toModel()
}

func (s *SQLite) ListSignals(ctx context.Context, filter SignalFilter) ([]CatalystSignal, error) {
	q := s.db.WithContext(ctx).Model(&signalRow{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []signalRow
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	out := make([]CatalystSignal, 0, len(rows))
	for _, row := range rows {
		sig, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func (s *SQLite) TransitionSignal(ctx context.Context, id, to, notes string, at time.Time) error {
	current, err := s.GetSignal(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckSignalTransition(current.Status, to); err != nil {
		return err
	}
	updates := map[string]any{"status": to}
	if notes != "" {
		updates["notes"] = notes
	}
	if to == SignalActed {
		updates["acted_at"] = at
	}
	res := s.db.WithContext(ctx).Model(&signalRow{}).
		Where("id = ? AND status = ?", id, SignalActive).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("transition signal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: signal changed concurrently", ErrInvalidTransition)
	}
	return nil
}

func (s *SQLite) UpsertProcessedArticle(ctx context.Context, a ProcessedArticle) error {
	analysis := string(a.Analysis)
	if analysis == "" {
		analysis = "{}"
	}
	row := articleRow{
		Link:        a.Link,
		Title:       a.Title,
		Source:      a.Source,
		IsCatalyst:  a.IsCatalyst,
		Analysis:    analysis,
		ProcessedAt: a.ProcessedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "link"}},
		DoUpdates: clause.Assignments(map[string]any{
			"title":        gorm.Expr("excluded.title"),
			"source":       gorm.Expr("excluded.source"),
			"is_catalyst":  gorm.Expr("processed_articles.is_catalyst OR excluded.is_catalyst"),
			"analysis":     gorm.Expr("excluded.analysis"),
			"processed_at": gorm.Expr("excluded.processed_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert processed article: %w", err)
	}
	return nil
}

func (s *SQLite) GetProcessedArticle(ctx context.Context, link string) (ProcessedArticle, error) {
	var row articleRow
	err := s.db.WithContext(ctx).First(&row, "link = ?", link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProcessedArticle{}, ErrNotFound
	}
	if err != nil {
		return ProcessedArticle{}, fmt.Errorf("get processed article: %w", err)
	}
	return ProcessedArticle{
		Link:        row.Link,
		Title:       row.Title,
		Source:      row.Source,
		IsCatalyst:  row.IsCatalyst,
		Analysis:    json.RawMessage(row.Analysis),
		ProcessedAt: row.ProcessedAt,
	}, nil
}

func (s *SQLite) FilterProcessed(ctx context.Context, links []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(links) == 0 {
		return seen, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&articleRow{}).Where("link IN ?", links).Pluck("link", &found).Error; err != nil {
		return nil, fmt.Errorf("filter processed: %w", err)
	}
	for _, l := range found {
		seen[l] = true
	}
	return seen, nil
}

func (s *SQLite) ListAssets(ctx context.Context, enabledOnly bool) ([]WatchlistAsset, error) {
	q := s.db.WithContext(ctx).Model(&assetRow{})
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var rows []assetRow
	if err := q.Order("keyword, ticker").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	out := make([]WatchlistAsset, 0, len(rows))
	for _, row := range rows {
		a, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLite) UpsertAsset(ctx context.Context, a *WatchlistAsset) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	related, err := json.Marshal(nonNil(a.RelatedTickers))
	if err != nil {
		return fmt.Errorf("marshal related tickers: %w", err)
	}
	row := assetRow{
		ID:               a.ID,
		Keyword:          a.Keyword,
		Ticker:           a.Ticker,
		AssetType:        a.AssetType,
		RelatedTickers:   string(related),
		ValidationTicker: a.ValidationTicker,
		SourceTrust:      a.SourceTrust,
		Enabled:          a.Enabled,
		CreatedAt:        a.CreatedAt,
	}
	db := s.db.WithContext(ctx)
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "keyword"}, {Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"asset_type", "related_tickers", "validation_ticker", "source_trust", "enabled"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}

	var stored assetRow
	if err := db.First(&stored, "keyword = ? AND ticker = ?", a.Keyword, a.Ticker).Error; err != nil {
		return fmt.Errorf("reload asset: %w", err)
	}
	a.ID = stored.ID
	a.CreatedAt = stored.CreatedAt
	return nil
}

func (s *SQLite) FindAssetByTicker(ctx context.Context, ticker string) (WatchlistAsset, error) {
	assets, err := s.ListAssets(ctx, false)
	if err != nil {
		return WatchlistAsset{}, err
	}
	var best *WatchlistAsset
	for i := range assets {
		a := &assets[i]
		if a.Ticker == ticker {
			return *a, nil
		}
		for _, r := range a.RelatedTickers {
			if r != ticker {
				continue
			}
			if best == nil || (a.Enabled && !best.Enabled) || (a.Enabled == best.Enabled && a.CreatedAt.Before(best.CreatedAt)) {
				best = a
			}
		}
	}
	if best == nil {
		return WatchlistAsset{}, ErrNotFound
	}
	return *best, nil
}

func toCatalystRow(c PotentialCatalyst) (catalystRow, error) {
	tickers, err := json.Marshal(nonNil(c.AffectedTickers))
	if err != nil {
		return catalystRow{}, fmt.Errorf("marshal tickers: %w", err)
	}
	sources, err := json.Marshal(nonNil(c.Sources))
	if err != nil {
		return catalystRow{}, fmt.Errorf("marshal sources: %w", err)
	}
	citations, err := json.Marshal(nonNil(c.Citations))
	if err != nil {
		return catalystRow{}, fmt.Errorf("marshal citations: %w", err)
	}
	validation, err := json.Marshal(nonNil(c.ValidationLog))
	if err != nil {
		return catalystRow{}, fmt.Errorf("marshal validation log: %w", err)
	}
	var base *string
	if c.BasePrice != nil {
		v := c.BasePrice.String()
		base = &v
	}
	return catalystRow{
		ID:              c.ID,
		ImpactText:      c.ImpactText,
		AffectedTickers: string(tickers),
		Sources:         string(sources),
		Citations:       string(citations),
		Metric:          c.Criteria.Metric,
		Direction:       c.Criteria.Direction,
		ThresholdPct:    c.Criteria.ThresholdPct.String(),
		TimeoutHours:    c.Criteria.TimeoutHours,
		PrimaryTicker:   c.PrimaryTicker,
		Thesis:          c.Thesis,
		Sentiment:       c.Sentiment,
		PotentialScore:  c.PotentialScore,
		Confidence:      c.Confidence,
		BasePrice:       base,
		BaseTicker:      c.BaseTicker,
		BaseRecordedAt:  c.BaseRecordedAt,
		BasePriceState:  c.BasePriceState,
		Status:          c.Status,
		ValidationLog:   string(validation),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		ExpiresAt:       c.ExpiresAt,
	}, nil
}

func (r catalystRow) toModel() (PotentialCatalyst, error) {
	c := PotentialCatalyst{
		ID:             r.ID,
		ImpactText:     r.ImpactText,
		PrimaryTicker:  r.PrimaryTicker,
		Thesis:         r.Thesis,
		Sentiment:      r.Sentiment,
		PotentialScore: r.PotentialScore,
		Confidence:     r.Confidence,
		BaseTicker:     r.BaseTicker,
		BaseRecordedAt: r.BaseRecordedAt,
		BasePriceState: r.BasePriceState,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
	c.Criteria.Metric = r.Metric
	c.Criteria.Direction = r.Direction
	c.Criteria.TimeoutHours = r.TimeoutHours

	threshold, err := decimal.NewFromString(r.ThresholdPct)
	if err != nil {
		return PotentialCatalyst{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	c.Criteria.ThresholdPct = threshold
	if r.BasePrice != nil {
		base, err := decimal.NewFromString(*r.BasePrice)
		if err != nil {
			return PotentialCatalyst{}, fmt.Errorf("parse base price: %w", err)
		}
		c.BasePrice = &base
	}

	for _, f := range []struct {
		raw  string
		dest any
	}{
		{r.AffectedTickers, &c.AffectedTickers},
		{r.Sources, &c.Sources},
		{r.Citations, &c.Citations},
		{r.ValidationLog, &c.ValidationLog},
	} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return PotentialCatalyst{}, fmt.Errorf("decode catalyst %s: %w", r.ID, err)
		}
	}
	return c, nil
}

func toSignalRow(s CatalystSignal) (signalRow, error) {
	news, err := json.Marshal(s.News)
	if err != nil {
		return signalRow{}, fmt.Errorf("marshal signal news: %w", err)
	}
	analysis, err := json.Marshal(s.Analysis)
	if err != nil {
		return signalRow{}, fmt.Errorf("marshal signal analysis: %w", err)
	}
	market, err := json.Marshal(s.Market)
	if err != nil {
		return signalRow{}, fmt.Errorf("marshal signal market: %w", err)
	}
	return signalRow{
		ID:         s.ID,
		CatalystID: s.CatalystID,
		Keyword:    s.Keyword,
		Ticker:     s.Ticker,
		Action:     s.Action,
		Direction:  s.Direction,
		News:       string(news),
		Analysis:   string(analysis),
		Market:     string(market),
		Status:     s.Status,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		ActedAt:    s.ActedAt,
		Notes:      s.Notes,
	}, nil
}

func (r signalRow) toModel() (CatalystSignal, error) {
	s := CatalystSignal{
		ID:         r.ID,
		CatalystID: r.CatalystID,
		Keyword:    r.Keyword,
		Ticker:     r.Ticker,
		Action:     r.Action,
		Direction:  r.Direction,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		ActedAt:    r.ActedAt,
		Notes:      r.Notes,
	}
	if err := json.Unmarshal([]byte(r.News), &s.News); err != nil {
		return CatalystSignal{}, fmt.Errorf("decode signal news: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Analysis), &s.Analysis); err != nil {
		return CatalystSignal{}, fmt.Errorf("decode signal analysis: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Market), &s.Market); err != nil {
		return CatalystSignal{}, fmt.Errorf("decode signal market: %w", err)
	}
	return s, nil
}

func (r assetRow) toModel() (WatchlistAsset, error) {
	a := WatchlistAsset{
		ID:               r.ID,
		Keyword:          r.Keyword,
		Ticker:           r.Ticker,
		AssetType:        r.AssetType,
		ValidationTicker: r.ValidationTicker,
		SourceTrust:      r.SourceTrust,
		Enabled:          r.Enabled,
		CreatedAt:        r.CreatedAt,
	}
	if r.RelatedTickers != "" {
		if err := json.Unmarshal([]byte(r.RelatedTickers), &a.RelatedTickers); err != nil {
			return WatchlistAsset{}, fmt.Errorf("decode related tickers: %w", err)
		}
	}
	return a, nil
}

var _ Repository = (*SQLite)(nil)
var _ AdvisoryLocker = (*SQLite)(nil)
