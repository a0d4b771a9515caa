package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/mickamy/xprofile/internal/analyzer"
	"github.com/mickamy/xprofile/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options customises how an analysis is archived.
type Options struct {
	Timeout time.Duration
}

// Record is the row set written for one analysis.
type Record struct {
	ID             string
	QueryID        string
	State          string
	TotalTimeMs    float64
	OperatorTimeMs float64
	NodeCount      int
	Score          int
	Category       string
	Summary        []byte
	Hotspots       []HotspotRecord
}

// HotspotRecord is one row of profile_hotspots.
type HotspotRecord struct {
	Rank           int
	NodeID         string
	OperatorName   string
	Severity       string
	TimePercentage float64
	SelfMs         float64
}

type summaryDocument struct {
	Summary    model.ProfileSummary `json:"summary"`
	Conclusion string               `json:"conclusion"`
	Anomalies  []model.Anomaly      `json:"anomalies,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS profile_analyses (
	id               UUID PRIMARY KEY,
	query_id         TEXT NOT NULL,
	state            TEXT NOT NULL,
	total_time_ms    DOUBLE PRECISION NOT NULL,
	operator_time_ms DOUBLE PRECISION NOT NULL,
	node_count       INTEGER NOT NULL,
	score            INTEGER NOT NULL,
	category         TEXT NOT NULL,
	summary          JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS profile_hotspots (
	analysis_id     UUID NOT NULL REFERENCES profile_analyses (id) ON DELETE CASCADE,
	rank            INTEGER NOT NULL,
	node_id         TEXT NOT NULL,
	operator_name   TEXT NOT NULL,
	severity        TEXT NOT NULL,
	time_percentage DOUBLE PRECISION NOT NULL,
	self_ms         DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (analysis_id, rank)
);`

const (
	insertAnalysis = `INSERT INTO profile_analyses
	(id, query_id, state, total_time_ms, operator_time_ms, node_count, score, category, summary)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)`
	insertHotspot = `INSERT INTO profile_hotspots
	(analysis_id, rank, node_id, operator_name, severity, time_percentage, self_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

// BuildRecord converts an analysis into the rows Save writes. A fresh id is
// assigned on every call.
func BuildRecord(analysis *analyzer.ProfileAnalysis) (Record, error) {
	if analysis == nil {
		return Record{}, errors.New("store: empty analysis")
	}
	summary, err := json.Marshal(summaryDocument{
		Summary:    analysis.Summary,
		Conclusion: analysis.Conclusion,
		Anomalies:  analysis.Anomalies,
	})
	if err != nil {
		return Record{}, errors.Wrap(err, "store: encode summary")
	}

	rec := Record{
		ID:             uuid.NewString(),
		QueryID:        analysis.Summary.QueryID,
		State:          analysis.Summary.State,
		TotalTimeMs:    analysis.TotalTimeMs,
		OperatorTimeMs: analysis.OperatorTimeMs,
		NodeCount:      analysis.NodeCount,
		Score:          analysis.Score,
		Category:       analysis.ScoreCategory,
		Summary:        summary,
	}
	for i, hot := range analysis.Hotspots {
		rec.Hotspots = append(rec.Hotspots, HotspotRecord{
			Rank:           i + 1,
			NodeID:         hot.NodeID,
			OperatorName:   hot.OperatorName,
			Severity:       string(hot.Severity),
			TimePercentage: hot.TimePercentage,
			SelfMs:         analyzer.ExecTimeMs(hot.Node),
		})
	}
	return rec, nil
}

// Save archives the analysis into PostgreSQL and returns the new analysis id.
func Save(ctx context.Context, dsn string, analysis *analyzer.ProfileAnalysis, opts Options) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", errors.New("store: empty DSN")
	}
	rec, err := BuildRecord(analysis)
	if err != nil {
		return "", err
	}

	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return "", errors.Wrap(err, "store: connect")
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schema); err != nil {
		return "", errors.Wrap(err, "store: ensure schema")
	}

	err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		return writeRecord(ctx, tx, rec)
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func writeRecord(ctx context.Context, tx pgx.Tx, rec Record) error {
	batch := &pgx.Batch{}
	batch.Queue(insertAnalysis,
		rec.ID, rec.QueryID, rec.State, rec.TotalTimeMs, rec.OperatorTimeMs,
		rec.NodeCount, rec.Score, rec.Category, string(rec.Summary))
	for _, hot := range rec.Hotspots {
		batch.Queue(insertHotspot,
			rec.ID, hot.Rank, hot.NodeID, hot.OperatorName, hot.Severity, hot.TimePercentage, hot.SelfMs)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return errors.Wrapf(err, "store: batch statement %d", i)
		}
	}
	return errors.Wrap(results.Close(), "store: close batch")
}
