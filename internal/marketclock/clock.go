// Package marketclock answers "is the market open" as a pure function of time and a holiday calendar.
package marketclock

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"catalyst-catcher/internal/config"
)

// Posture frames what the market is doing at a given instant.
type Posture string

const (
	PostureOpen       Posture = "open"
	PosturePreOpen    Posture = "pre_open"
	PostureAfterHours Posture = "after_hours"
	PostureClosed     Posture = "closed"
)

// Market is one exchange's regular trading session.
type Market struct {
	Name        string
	Location    *time.Location
	Open        int // minutes after local midnight
	Close       int
	Suffixes    []string
	WorkingDays []time.Weekday
	holidays    map[string]struct{}
}

// DefaultWorkingDays is Monday through Friday.
func DefaultWorkingDays() []time.Weekday {
	return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
}

// NewMarket builds a market; holidays are local dates formatted 2006-01-02.
func NewMarket(name string, loc *time.Location, open, close int, suffixes []string, holidays []string) (Market, error) {
	if loc == nil {
		return Market{}, fmt.Errorf("market %s: location required", name)
	}
	if close <= open {
		return Market{}, fmt.Errorf("market %s: close must be after open", name)
	}
	m := Market{
		Name:        name,
		Location:    loc,
		Open:        open,
		Close:       close,
		Suffixes:    suffixes,
		WorkingDays: DefaultWorkingDays(),
		holidays:    make(map[string]struct{}, len(holidays)),
	}
	for _, h := range holidays {
		d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(h), loc)
		if err != nil {
			return Market{}, fmt.Errorf("market %s: invalid holiday %q", name, h)
		}
		m.holidays[d.Format("2006-01-02")] = struct{}{}
	}
	return m, nil
}

// IsTradingDay reports whether the local calendar date of t is a session day.
func (m Market) IsTradingDay(t time.Time) bool {
	local := t.In(m.Location)
	working := false
	for _, wd := range m.WorkingDays {
		if wd == local.Weekday() {
			working = true
			break
		}
	}
	if !working {
		return false
	}
	_, holiday := m.holidays[local.Format("2006-01-02")]
	return !holiday
}

// Posture classifies now into one of the four market postures.
func (m Market) Posture(now time.Time) Posture {
	if !m.IsTradingDay(now) {
		return PostureClosed
	}
	local := now.In(m.Location)
	minute := local.Hour()*60 + local.Minute()
	switch {
	case minute < m.Open:
		return PosturePreOpen
	case minute < m.Close:
		return PostureOpen
	default:
		return PostureAfterHours
	}
}

// IsOpen reports whether the regular session is running at now.
func (m Market) IsOpen(now time.Time) bool {
	return m.Posture(now) == PostureOpen
}

// NextOpen returns the first session open strictly after the given instant.
func (m Market) NextOpen(after time.Time) time.Time {
	local := after.In(m.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.Location)
	// Long holiday stretches never exceed a couple of weeks.
	for i := 0; i < 21; i++ {
		candidate := day.AddDate(0, 0, i).Add(time.Duration(m.Open) * time.Minute)
		if candidate.After(after) && m.IsTradingDay(candidate) {
			return candidate
		}
	}
	return day.AddDate(0, 0, 1).Add(time.Duration(m.Open) * time.Minute)
}

// Clock resolves tickers to markets.
type Clock struct {
	markets map[string]Market
	def     Market
	bySfx   []suffixMarket
}

type suffixMarket struct {
	suffix string
	market Market
}

// New builds a clock from a set of markets and the default market name.
func New(markets []Market, defaultName string) (*Clock, error) {
	c := &Clock{markets: make(map[string]Market, len(markets))}
	for _, m := range markets {
		c.markets[m.Name] = m
		for _, sfx := range m.Suffixes {
			c.bySfx = append(c.bySfx, suffixMarket{suffix: strings.ToUpper(sfx), market: m})
		}
	}
	def, ok := c.markets[defaultName]
	if !ok {
		return nil, fmt.Errorf("default market %q not configured", defaultName)
	}
	c.def = def
	// longest suffix first so ".NSE" would win over ".NS"
	sort.SliceStable(c.bySfx, func(i, j int) bool { return len(c.bySfx[i].suffix) > len(c.bySfx[j].suffix) })
	return c, nil
}

// FromConfig builds a clock from the market section of the configuration.
func FromConfig(cfg config.MarketConfig) (*Clock, error) {
	markets := make([]Market, 0, len(cfg.Markets))
	for _, s := range cfg.Markets {
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", s.Name, err)
		}
		open, err := config.ParseClock(s.Open)
		if err != nil {
			return nil, err
		}
		closeAt, err := config.ParseClock(s.Close)
		if err != nil {
			return nil, err
		}
		m, err := NewMarket(s.Name, loc, open, closeAt, s.Suffixes, s.Holidays)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return New(markets, cfg.Default)
}

// Default returns the market that gates tracker runs.
func (c *Clock) Default() Market {
	return c.def
}

// Market returns the named market.
func (c *Clock) Market(name string) (Market, bool) {
	m, ok := c.markets[name]
	return m, ok
}

// MarketFor picks the market by exchange suffix, falling back to the default.
func (c *Clock) MarketFor(ticker string) Market {
	upper := strings.ToUpper(ticker)
	for _, sm := range c.bySfx {
		if strings.HasSuffix(upper, sm.suffix) {
			return sm.market
		}
	}
	return c.def
}
