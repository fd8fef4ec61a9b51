package calibration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReadRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calibration.jsonl")
	log := NewLog(path)

	entries, err := log.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, entries)

	created := time.Date(2025, 1, 6, 5, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(Entry{ID: "1-a", CreatedAt: created, Ticker: "X.NS", Market: MarketState{Price: decimal.NewFromInt(100)}}))
	require.NoError(t, log.Append(Entry{ID: "2-b", CreatedAt: created, Ticker: "Y.NS"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "\n"))
	assert.Contains(t, string(raw), `"finalVerdict":"PENDING"`)

	entries, err = log.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Market.Price.Equal(decimal.NewFromInt(100)))
	assert.NotNil(t, entries[1].Checkpoints)

	err = log.Update(func(es []Entry) (bool, error) {
		es[0].Checkpoints[After1Hr] = Checkpoint{Grade: GoodCall}
		es[0].FinalVerdict = GoodCall
		return true, nil
	})
	require.NoError(t, err)

	entries, err = log.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, GoodCall, entries[0].FinalVerdict)
	assert.Equal(t, GoodCall, entries[0].Checkpoints[After1Hr].Grade)
	assert.Equal(t, "2-b", entries[1].ID)
}

func TestReadAllRejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"ok\"}\nnot json\n"), 0o644))

	_, err := NewLog(path).ReadAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestEntryComplete(t *testing.T) {
	e := Entry{Checkpoints: map[string]Checkpoint{After1Hr: {}, NextSession: {}}}
	assert.False(t, e.Complete())
	e.Checkpoints[After24Hr] = Checkpoint{}
	assert.True(t, e.Complete())
}
