// Package calibration stores paper-mode opportunities as an append-only JSON lines file.
package calibration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Checkpoint names.
const (
	After1Hr    = "after1hr"
	NextSession = "nextSession"
	After24Hr   = "after24hr"
)

// CheckpointNames lists every checkpoint in firing order.
var CheckpointNames = []string{After1Hr, NextSession, After24Hr}

// Grades and verdicts.
const (
	GoodCall = "GOOD_CALL"
	BadCall  = "BAD_CALL"
	Neutral  = "NEUTRAL"
	Pending  = "PENDING"
)

// Prediction is the frozen analysis behind an opportunity.
type Prediction struct {
	ImpactType string `json:"impactType"`
	Sentiment  string `json:"sentiment"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// MarketState is the frozen market confirmation at dispatch time.
type MarketState struct {
	Price       decimal.Decimal `json:"price"`
	ChangePct   decimal.Decimal `json:"changePct"`
	VolumeRatio decimal.Decimal `json:"volumeRatio"`
	VolumeSpike bool            `json:"volumeSpike"`
	Posture     string          `json:"posture,omitempty"`
}

// Checkpoint is one graded later look at the ticker.
type Checkpoint struct {
	CheckedAt time.Time       `json:"checkedAt"`
	Price     decimal.Decimal `json:"price"`
	ChangePct decimal.Decimal `json:"changePct"`
	Grade     string          `json:"grade"`
}

// Entry is one paper-mode opportunity. Everything but Checkpoints, FinalVerdict and
// Abandoned is fixed at creation.
type Entry struct {
	ID           string                `json:"id"`
	CreatedAt    time.Time             `json:"createdAt"`
	CatalystID   string                `json:"catalystId,omitempty"`
	Keyword      string                `json:"keyword"`
	Ticker       string                `json:"ticker"`
	Action       string                `json:"action"`
	Direction    string                `json:"direction"`
	Headline     string                `json:"headline"`
	Link         string                `json:"link,omitempty"`
	Source       string                `json:"source,omitempty"`
	Prediction   Prediction            `json:"prediction"`
	Market       MarketState           `json:"market"`
	Checkpoints  map[string]Checkpoint `json:"checkpoints"`
	FinalVerdict string                `json:"finalVerdict"`
	Abandoned    bool                  `json:"abandoned,omitempty"`
}

// Complete reports whether every checkpoint has fired.
func (e Entry) Complete() bool {
	for _, name := range CheckpointNames {
		if _, ok := e.Checkpoints[name]; !ok {
			return false
		}
	}
	return true
}

// Log is the calibration file. Appends and rewrites are serialised within the process.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog points at a JSON lines file; it is created on first append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the file location.
func (l *Log) Path() string {
	return l.path
}

// Append writes one entry as a single line.
func (l *Log) Append(e Entry) error {
	if e.Checkpoints == nil {
		e.Checkpoints = map[string]Checkpoint{}
	}
	if e.FinalVerdict == "" {
		e.FinalVerdict = Pending
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal calibration entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open calibration log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append calibration entry: %w", err)
	}
	return nil
}

// ReadAll loads every entry. A missing file is an empty log.
func (l *Log) ReadAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAll()
}

func (l *Log) readAll() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calibration log: %w", err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("calibration log line %d: %w", lineNo, err)
		}
		if e.Checkpoints == nil {
			e.Checkpoints = map[string]Checkpoint{}
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan calibration log: %w", err)
	}
	return entries, nil
}

// Update reads the whole file, lets fn mutate the entries and rewrites it in one go.
// Returning false from fn skips the rewrite.
func (l *Log) Update(fn func(entries []Entry) (bool, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.readAll()
	if err != nil {
		return err
	}
	changed, err := fn(entries)
	if err != nil || !changed {
		return err
	}
	return l.rewrite(entries)
}

// Rewrite replaces the log contents with entries.
func (l *Log) Rewrite(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rewrite(entries)
}

func (l *Log) rewrite(entries []Entry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal calibration entry %s: %w", e.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".calibration-*")
	if err != nil {
		return fmt.Errorf("create temp calibration file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp calibration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp calibration file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace calibration log: %w", err)
	}
	return nil
}
