// SPDX-License-Identifier: Apache-2.0

// Package store owns the record-store session and the change query for one
// report cycle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/telekom/change-report/pkg/change"
	"github.com/telekom/change-report/pkg/config"
	"github.com/telekom/change-report/pkg/outcome"
)

// statementTimeout bounds the connectivity check and the change query so a
// hung store cannot stall the run past its five-minute design target.
const statementTimeout = 30 * time.Second

// changeQuery is the single parameterized statement the report runs. The
// report date is always bound, never interpolated. The ORDER BY is a contract
// with the renderer: Critical before High, then start date ascending.
const changeQuery = `
SELECT change_id, priority, change_type, configuration_item, short_description,
       assignment_group, assigned_to, actual_start_date, actual_end_date
FROM change_requests
WHERE priority IN ('Critical', 'High')
  AND actual_start_date::date = $1::date
ORDER BY CASE priority WHEN 'Critical' THEN 1 WHEN 'High' THEN 2 ELSE 3 END,
         actual_start_date ASC`

// Store is a report data source backed by the change-management database.
// It is owned by a single run and never shared.
type Store struct {
	cfg      config.DatabaseConfig
	resolver secretResolver
	log      *zap.SugaredLogger
	db       *sql.DB
}

type secretResolver interface {
	Reveal(handle string) (string, error)
}

// New builds an unopened store. The credential handle stays opaque until
// Open resolves it for DSN construction.
func New(cfg config.DatabaseConfig, resolver secretResolver, log *zap.SugaredLogger) *Store {
	return &Store{cfg: cfg, resolver: resolver, log: log.Named("store")}
}

// Open establishes and verifies a database session.
func (s *Store) Open(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	dsn, err := s.dsn()
	if err != nil {
		return err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return outcome.Wrap(outcome.Database, fmt.Errorf("opening database session: %w", err))
	}
	// One synchronous consumer; a pool would only hide connection errors.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, statementTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return classify(fmt.Errorf("verifying database session: %w", err))
	}
	s.log.Debugw("Database session established", "server", s.cfg.Server, "database", s.cfg.Database)
	s.db = db
	return nil
}

// CheckConnectivity opens and immediately closes a session. The orchestrator
// runs this before the full sequence to fail fast on an unreachable store.
func (s *Store) CheckConnectivity(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	return s.Close()
}

// FetchChanges executes the change query for the report date and returns the
// mapped result set in contract order.
func (s *Store) FetchChanges(ctx context.Context, day time.Time) ([]change.Record, error) {
	if s.db == nil {
		return nil, outcome.Errorf(outcome.Database, "fetch on closed store")
	}
	queryCtx, cancel := context.WithTimeout(ctx, statementTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, changeQuery, day.Format("2006-01-02"))
	if err != nil {
		return nil, classify(fmt.Errorf("executing change query: %w", err))
	}
	defer rows.Close()

	var records []change.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, outcome.Wrap(outcome.Database, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("reading change query results: %w", err))
	}
	s.log.Infow("Change query executed", "reportDate", day.Format("2006-01-02"), "records", len(records))
	return records, nil
}

// Close releases the session. Safe to call repeatedly and on a never-opened
// store, so the orchestrator can defer it unconditionally.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return outcome.Wrap(outcome.Database, fmt.Errorf("closing database session: %w", err))
	}
	return nil
}

func scanRecord(rows *sql.Rows) (change.Record, error) {
	var (
		rec                                   change.Record
		priority                              string
		changeType, ci, desc, group, assignee sql.NullString
		start, end                            sql.NullTime
	)
	if err := rows.Scan(&rec.ID, &priority, &changeType, &ci, &desc, &group, &assignee, &start, &end); err != nil {
		return change.Record{}, fmt.Errorf("scanning change row: %w", err)
	}
	p, err := change.ParsePriority(priority)
	if err != nil {
		return change.Record{}, err
	}
	rec.Priority = p
	rec.Type = changeType.String
	rec.ConfigurationItem = ci.String
	rec.ShortDescription = desc.String
	rec.AssignmentGroup = group.String
	rec.AssignedTo = assignee.String
	// Null timestamps map to the zero-time sentinel, never to a value the
	// renderer has to special-case beyond that.
	if start.Valid {
		rec.ActualStart = start.Time
	}
	if end.Valid {
		rec.ActualEnd = end.Time
	}
	return rec, nil
}

// dsn builds the key/value connection string. The credential is resolved
// here and nowhere else; integrated auth omits user and password entirely and
// lets the driver fall back to the executing identity.
func (s *Store) dsn() (string, error) {
	host, port := splitServer(s.cfg.Server)
	parts := []string{
		"host=" + quoteValue(host),
		"dbname=" + quoteValue(s.cfg.Database),
		"connect_timeout=30",
	}
	if port != "" {
		parts = append(parts, "port="+port)
	}
	if s.cfg.Credentialed() {
		password, err := s.resolver.Reveal(s.cfg.EncryptedPassword)
		if err != nil {
			return "", outcome.Wrap(outcome.Authentication, err)
		}
		parts = append(parts, "user="+quoteValue(s.cfg.Username), "password="+quoteValue(password))
	}
	return strings.Join(parts, " "), nil
}

// quoteValue renders one connection-string value per the libpq keyword/value
// rules: values containing spaces, quotes or backslashes (and empty values)
// are single-quoted, with quotes and backslashes backslash-escaped. Stored
// passwords routinely contain such characters.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
	return "'" + escaped + "'"
}

// splitServer separates an optional ":port" suffix from the server field. An
// IPv6 literal contains colons of its own, so a suffix only counts as a port
// when it is all digits and the remainder holds no further colon; bracketed
// literals split like net.SplitHostPort.
func splitServer(server string) (host, port string) {
	if strings.HasPrefix(server, "[") {
		if h, p, err := net.SplitHostPort(server); err == nil {
			return h, p
		}
		return strings.Trim(server, "[]"), ""
	}
	i := strings.LastIndex(server, ":")
	if i <= 0 || i == len(server)-1 {
		return server, ""
	}
	for _, r := range server[i+1:] {
		if r < '0' || r > '9' {
			return server, ""
		}
	}
	if strings.Contains(server[:i], ":") {
		return server, ""
	}
	return server[:i], server[i+1:]
}

// classify maps a database error onto the run taxonomy. Authentication is
// recognized from the SQLSTATE class (28xxx), not from message text.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "28") {
		return outcome.Wrap(outcome.Authentication, err)
	}
	return outcome.Wrap(outcome.Database, err)
}
