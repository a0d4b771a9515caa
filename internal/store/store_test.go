package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/xprofile/internal/store"
	"github.com/mickamy/xprofile/test"
)

func TestBuildRecord(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")

	rec, err := store.BuildRecord(analysis)
	require.NoError(t, err)

	_, err = uuid.Parse(rec.ID)
	require.NoError(t, err)
	require.Equal(t, "8a1f3c2d9e4b4c11-a0b1c2d3e4f50617", rec.QueryID)
	require.Equal(t, 45, rec.Score)
	require.Equal(t, "poor", rec.Category)
	require.Equal(t, 15, rec.NodeCount)
	require.InDelta(t, 6512.0, rec.TotalTimeMs, 1e-9)

	require.Len(t, rec.Hotspots, 4)
	require.Equal(t, 1, rec.Hotspots[0].Rank)
	require.Equal(t, "Fragment 1-Pipeline 2-id2", rec.Hotspots[0].NodeID)
	require.Equal(t, "critical", rec.Hotspots[0].Severity)
	require.Equal(t, 4, rec.Hotspots[3].Rank)

	var doc map[string]any
	require.NoError(t, jsoniter.Unmarshal(rec.Summary, &doc))
	require.Equal(t, analysis.Conclusion, doc["conclusion"])
	summary, ok := doc["summary"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, rec.QueryID, summary["query_id"])

	again, err := store.BuildRecord(analysis)
	require.NoError(t, err)
	require.NotEqual(t, rec.ID, again.ID)
}

func TestBuildRecordEmpty(t *testing.T) {
	_, err := store.BuildRecord(nil)
	require.Error(t, err)
}

func TestSaveRejectsEmptyDSN(t *testing.T) {
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")
	_, err := store.Save(context.Background(), " ", analysis, store.Options{})
	require.Error(t, err)
}

func TestSaveIntegration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	analysis := test.LoadSampleAnalysis(t, "tpch_join.profile.txt")
	ctx := context.Background()

	id, err := store.Save(ctx, dsn, analysis, store.Options{Timeout: 10 * time.Second})
	require.NoError(t, err)

	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "DELETE FROM profile_analyses WHERE id = $1", id)
	})

	var score int
	require.NoError(t, conn.QueryRow(ctx, "SELECT score FROM profile_analyses WHERE id = $1", id).Scan(&score))
	require.Equal(t, 45, score)

	var hotspots int
	require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM profile_hotspots WHERE analysis_id = $1", id).Scan(&hotspots))
	require.Equal(t, 4, hotspots)
}
