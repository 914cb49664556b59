package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

const createEvents = `
CREATE TABLE IF NOT EXISTS usage_events (
	tenant_id VARCHAR NOT NULL,
	world_id  VARCHAR NOT NULL,
	kind      VARCHAR NOT NULL,
	units     BIGINT NOT NULL,
	at        TIMESTAMP NOT NULL
)`

// DuckDBMeter appends every event to a DuckDB ledger and aggregates it with SQL
type DuckDBMeter struct {
	db *sql.DB
}

// NewDuckDBMeter opens the ledger at path; an empty path keeps it in memory
func NewDuckDBMeter(path string) (*DuckDBMeter, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}
	if _, err := db.Exec(createEvents); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}
	return &DuckDBMeter{db: db}, nil
}

// Close closes the ledger
func (m *DuckDBMeter) Close() error {
	return m.db.Close()
}

func (m *DuckDBMeter) Record(ctx context.Context, e Event) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO usage_events (tenant_id, world_id, kind, units, at) VALUES (?, ?, ?, ?, ?)`,
		e.TenantID, e.WorldID, string(e.Kind), e.Units, e.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (m *DuckDBMeter) Summarize(ctx context.Context, tenantID string, since time.Time) ([]Summary, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT world_id, kind, COUNT(*), CAST(SUM(units) AS BIGINT)
		FROM usage_events
		WHERE tenant_id = ? AND at >= ?
		GROUP BY world_id, kind
		ORDER BY world_id, kind`, tenantID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []Summary
	for rows.Next() {
		s := Summary{TenantID: tenantID}
		var kind string
		if err := rows.Scan(&s.WorldID, &kind, &s.Count, &s.Units); err != nil {
			return nil, err
		}
		s.Kind = Kind(kind)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
