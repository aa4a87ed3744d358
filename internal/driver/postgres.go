package driver

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/errdefs"
	"github.com/queryportal/queryportal/internal/pool"
)

var postgresDangerous = []dangerPattern{
	{regexp.MustCompile(`(?i)\bDROP\s+(DATABASE|SCHEMA|TABLE)\b`), "statement drops a database object"},
	{regexp.MustCompile(`(?i)\bTRUNCATE\b`), "statement truncates a table"},
	{regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`), "statement deletes rows"},
	{regexp.MustCompile(`(?i)\bALTER\b`), "statement alters a schema object"},
	{regexp.MustCompile(`(?i)\b(GRANT|REVOKE)\b`), "statement changes privileges"},
}

// PostgresDriver executes SQL against relational instances. Statements pass
// through essentially verbatim after validation; the backend is the
// authority on syntax.
type PostgresDriver struct {
	pool *pool.Manager
}

// NewPostgresDriver creates a postgres driver backed by the shared pool.
func NewPostgresDriver(p *pool.Manager) *PostgresDriver {
	return &PostgresDriver{pool: p}
}

// Backend returns the engine this driver serves.
func (d *PostgresDriver) Backend() config.Backend {
	return config.BackendPostgres
}

// Validate checks content before any side effect.
func (d *PostgresDriver) Validate(content string) (*ValidationResult, error) {
	return validateContent(content, postgresDangerous)
}

// Execute runs the statement and collects up to MaxResultRows rows.
func (d *PostgresDriver) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := checkTarget(req, config.BackendPostgres); err != nil {
		return nil, err
	}

	pgPool, err := d.pool.AcquirePostgres(ctx, req.Instance, req.Database)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := pgPool.Query(ctx, req.Content)
	if err != nil {
		return nil, errdefs.QueryExecution(err, "query failed on %s/%s", req.Instance.ID, req.Database)
	}
	// Close returns the connection to the pool on every path.
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		if len(result.Rows) >= MaxResultRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, errdefs.QueryExecution(err, "failed to read row")
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if !result.Truncated {
		if err := rows.Err(); err != nil {
			return nil, errdefs.QueryExecution(err, "query failed on %s/%s", req.Instance.ID, req.Database)
		}
		tag := rows.CommandTag()
		result.RowsAffected = tag.RowsAffected()
		result.Message = tag.String()
	} else {
		result.RowsAffected = int64(len(result.Rows))
	}
	result.Duration = time.Since(start)

	log.Debug().
		Str("instance", req.Instance.ID).
		Str("database", req.Database).
		Int("rows", len(result.Rows)).
		Bool("truncated", result.Truncated).
		Dur("duration", result.Duration).
		Msg("Executed postgres query")

	return result, nil
}

// TestConnection opens a throwaway connection and runs SELECT 1.
func (d *PostgresDriver) TestConnection(ctx context.Context, inst *config.Instance, database string) (*PingResult, error) {
	conn, err := pgx.Connect(ctx, pool.PostgresDSN(inst, database))
	if err != nil {
		return &PingResult{Success: false, Message: fmt.Sprintf("connection failed: %v", err)}, nil
	}
	defer conn.Close(context.Background())

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return &PingResult{Success: false, Message: fmt.Sprintf("round trip failed: %v", err)}, nil
	}
	return &PingResult{Success: true, Message: fmt.Sprintf("connected to %s/%s", inst.ID, database)}, nil
}
