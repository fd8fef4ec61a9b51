package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Repository used by tests, dry runs and the memory driver.
type Memory struct {
	mu        sync.Mutex
	catalysts map[string]PotentialCatalyst
	signals   map[string]CatalystSignal
	articles  map[string]ProcessedArticle
	assets    map[string]WatchlistAsset
	localLocks
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		catalysts: make(map[string]PotentialCatalyst),
		signals:   make(map[string]CatalystSignal),
		articles:  make(map[string]ProcessedArticle),
		assets:    make(map[string]WatchlistAsset),
	}
}

// Close is a no-op.
func (m *Memory) Close() {}

func (m *Memory) InsertCatalyst(_ context.Context, c *PotentialCatalyst) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = NewID()
	}
	m.catalysts[c.ID] = cloneCatalyst(*c)
	return nil
}

func (m *Memory) UpdateCatalyst(_ context.Context, c PotentialCatalyst) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.catalysts[c.ID]; !ok {
		return ErrNotFound
	}
	m.catalysts[c.ID] = cloneCatalyst(c)
	return nil
}

func (m *Memory) GetCatalyst(_ context.Context, id string) (PotentialCatalyst, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.catalysts[id]
	if !ok {
		return PotentialCatalyst{}, ErrNotFound
	}
	return cloneCatalyst(c), nil
}

func (m *Memory) ListCatalysts(_ context.Context, filter CatalystFilter) ([]PotentialCatalyst, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PotentialCatalyst, 0, len(m.catalysts))
	for _, c := range m.catalysts {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Ticker != "" && !c.HasTicker(filter.Ticker) {
			continue
		}
		if !filter.Since.IsZero() && c.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, cloneCatalyst(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) DeleteCatalysts(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	for id, sig := range m.signals {
		if sig.CatalystID != nil && doomed[*sig.CatalystID] {
			sig.CatalystID = nil
			m.signals[id] = sig
		}
	}
	for id := range doomed {
		delete(m.catalysts, id)
	}
	return nil
}

func (m *Memory) ExpireCatalystsBefore(_ context.Context, cutoff, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.catalysts {
		if c.Status == StatusMonitoring && c.CreatedAt.Before(cutoff) {
			c.Status = StatusExpired
			c.UpdatedAt = now
			m.catalysts[id] = c
			n++
		}
	}
	return n, nil
}

func (m *Memory) TransitionCatalyst(_ context.Context, id, to string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.catalysts[id]
	if !ok {
		return ErrNotFound
	}
	if err := CheckCatalystTransition(c.Status, to); err != nil {
		return err
	}
	c.Status = to
	c.UpdatedAt = at
	m.catalysts[id] = c
	return nil
}

func (m *Memory) InsertSignal(_ context.Context, s *CatalystSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = NewID()
	}
	m.signals[s.ID] = cloneSignal(*s)
	return nil
}

func (m *Memory) GetSignal(_ context.Context, id string) (CatalystSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[id]
	if !ok {
		return CatalystSignal{}, ErrNotFound
	}
	return cloneSignal(s), nil
}

func (m *Memory) ListSignals(_ context.Context, filter SignalFilter) ([]CatalystSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CatalystSignal, 0, len(m.signals))
	for _, s := range m.signals {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, cloneSignal(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) TransitionSignal(_ context.Context, id, to, notes string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[id]
	if !ok {
		return ErrNotFound
	}
	if err := CheckSignalTransition(s.Status, to); err != nil {
		return err
	}
	s.Status = to
	if notes != "" {
		s.Notes = notes
	}
	if to == SignalActed {
		acted := at
		s.ActedAt = &acted
	}
	m.signals[id] = s
	return nil
}

func (m *Memory) UpsertProcessedArticle(_ context.Context, a ProcessedArticle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.articles[a.Link]; ok && prev.IsCatalyst {
		a.IsCatalyst = true
	}
	a.Analysis = append(json.RawMessage(nil), a.Analysis...)
	m.articles[a.Link] = a
	return nil
}

func (m *Memory) GetProcessedArticle(_ context.Context, link string) (ProcessedArticle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[link]
	if !ok {
		return ProcessedArticle{}, ErrNotFound
	}
	a.Analysis = append(json.RawMessage(nil), a.Analysis...)
	return a, nil
}

func (m *Memory) FilterProcessed(_ context.Context, links []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, l := range links {
		if _, ok := m.articles[l]; ok {
			seen[l] = true
		}
	}
	return seen, nil
}

// ArticleCount reports how many ledger rows exist.
func (m *Memory) ArticleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.articles)
}

func (m *Memory) ListAssets(_ context.Context, enabledOnly bool) ([]WatchlistAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WatchlistAsset, 0, len(m.assets))
	for _, a := range m.assets {
		if enabledOnly && !a.Enabled {
			continue
		}
		out = append(out, cloneAsset(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Keyword == out[j].Keyword {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out, nil
}

func (m *Memory) UpsertAsset(_ context.Context, a *WatchlistAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := a.Keyword + "\x00" + a.Ticker
	if prev, ok := m.assets[key]; ok {
		a.ID = prev.ID
		a.CreatedAt = prev.CreatedAt
	}
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.assets[key] = cloneAsset(*a)
	return nil
}

func (m *Memory) FindAssetByTicker(_ context.Context, ticker string) (WatchlistAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var related []WatchlistAsset
	for _, a := range m.assets {
		if a.Ticker == ticker {
			return cloneAsset(a), nil
		}
		for _, r := range a.RelatedTickers {
			if r == ticker {
				related = append(related, a)
			}
		}
	}
	if len(related) == 0 {
		return WatchlistAsset{}, ErrNotFound
	}
	sort.Slice(related, func(i, j int) bool {
		if related[i].Enabled != related[j].Enabled {
			return related[i].Enabled
		}
		return related[i].CreatedAt.Before(related[j].CreatedAt)
	})
	return cloneAsset(related[0]), nil
}

func cloneCatalyst(c PotentialCatalyst) PotentialCatalyst {
	c.AffectedTickers = append([]string(nil), c.AffectedTickers...)
	c.Sources = append([]ArticleRef(nil), c.Sources...)
	c.Citations = append([]Citation(nil), c.Citations...)
	c.ValidationLog = append([]ValidationEntry(nil), c.ValidationLog...)
	if c.PotentialScore != nil {
		v := *c.PotentialScore
		c.PotentialScore = &v
	}
	if c.BasePrice != nil {
		v := *c.BasePrice
		c.BasePrice = &v
	}
	if c.BaseRecordedAt != nil {
		v := *c.BaseRecordedAt
		c.BaseRecordedAt = &v
	}
	if c.ExpiresAt != nil {
		v := *c.ExpiresAt
		c.ExpiresAt = &v
	}
	return c
}

func cloneSignal(s CatalystSignal) CatalystSignal {
	if s.CatalystID != nil {
		v := *s.CatalystID
		s.CatalystID = &v
	}
	if s.ActedAt != nil {
		v := *s.ActedAt
		s.ActedAt = &v
	}
	return s
}

func cloneAsset(a WatchlistAsset) WatchlistAsset {
	a.RelatedTickers = append([]string(nil), a.RelatedTickers...)
	return a
}

var _ Repository = (*Memory)(nil)
var _ AdvisoryLocker = (*Memory)(nil)
