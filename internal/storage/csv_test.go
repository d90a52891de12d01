package storage

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/MarketPulse/internal/config"
	"github.com/LJTian/MarketPulse/internal/processor"
)

func TestEncodeCSV(t *testing.T) {
	title := `say "hi", world`
	score := int64(7)
	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	records := []processor.Record{
		{
			ID: "t3_a", Category: processor.CategoryCrypto, Kind: config.KindDiscussion,
			Title: &title, Score: &score, CollectedAt: at,
		},
		{
			ID: "p1", Category: processor.CategoryCrypto, Kind: config.KindPrice,
			CountMetric: decimal.NewNullDecimal(decimal.RequireFromString("67000.5")), CollectedAt: at,
		},
	}

	out, err := EncodeCSV(records)
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, processor.Columns, rows[0])

	// 每一行列数一致，空值为空字符串
	for _, row := range rows {
		require.Len(t, row, len(processor.Columns))
	}
	require.Equal(t, title, rows[1][3])
	require.Equal(t, "7", rows[1][6])
	require.Equal(t, "", rows[2][3])
	require.Equal(t, "67000.5", rows[2][8])
	require.Equal(t, "2026-10-17T12:00:00Z", rows[2][11])
}

func TestEncodeCSVHeaderOnly(t *testing.T) {
	out, err := EncodeCSV(nil)
	require.NoError(t, err)
	require.Equal(t, "id,source_category,source_kind,title,content,url,score,ratio,count_metric,event_timestamp,author,collection_timestamp\n", string(out))
}
