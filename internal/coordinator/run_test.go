package coordinator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LJTian/MarketPulse/internal/processor"
)

func TestCollectionRunTransitions(t *testing.T) {
	run := newRun("r1", time.Date(2026, 10, 17, 12, 0, 0, 500, time.UTC))
	require.Equal(t, StatePending, run.State)
	require.Equal(t, 0, run.StartedAt.Nanosecond())

	require.Error(t, run.append([]processor.Record{{ID: "x"}}))
	require.Error(t, run.transition(StateFinalized))

	require.NoError(t, run.transition(StateCollecting))
	require.NoError(t, run.append([]processor.Record{{ID: "a"}, {ID: "b"}}))
	require.NoError(t, run.transition(StateFinalized))

	// FINALIZED 之后只读，且不可回退
	require.Error(t, run.append([]processor.Record{{ID: "c"}}))
	require.Error(t, run.transition(StateCollecting))
	require.Error(t, run.transition(StateFailed))

	records := run.Records()
	records[0].ID = "mutated"
	require.Equal(t, "a", run.Records()[0].ID)
}

func TestSummaryTable(t *testing.T) {
	s := newSummary()
	s.addSuccess(SourceResult{Source: "reddit:比特币", Kind: "discussion", Stats: processor.Stats{Fetched: 3, Kept: 2, Excluded: 1}},
		[]processor.Record{{Category: processor.CategoryCrypto}, {Category: processor.CategoryCrypto}})
	s.addFailure("coingecko:BTC", "price", errTest("timeout"))

	require.Equal(t, 1, s.Failures())
	table := s.Table()
	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "source"))
	require.Contains(t, lines[2], "failed: timeout")
	require.Equal(t, "sources: 1/2 succeeded, records: 2, categories: CRYPTO=2", lines[3])

	// 中文按显示宽度对齐：kind 列起始位置一致
	require.Equal(t, displayIndex(lines[1], "discussion"), displayIndex(lines[2], "price"))
}

type errTest string

func (e errTest) Error() string { return string(e) }

func displayIndex(line, sub string) int {
	idx := strings.Index(line, sub)
	prefix := line[:idx]
	w := 0
	for _, r := range prefix {
		if r > 0x2E80 {
			w += 2
		} else {
			w++
		}
	}
	return w
}
