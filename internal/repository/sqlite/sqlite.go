// Package sqlite implements repository.Store on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"camscout/internal/domain"
	"camscout/internal/repository"

	_ "modernc.org/sqlite"
)

// Store implements repository.Store using SQLite
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the cache database
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS probe_results (
		ip TEXT PRIMARY KEY,
		protocol TEXT NOT NULL,
		port INTEGER NOT NULL,
		verified INTEGER NOT NULL DEFAULT 0,
		negotiated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS candidates (
		ip TEXT PRIMARY KEY,
		port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		source TEXT NOT NULL,
		seen_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_candidates_seen ON candidates(seen_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveProbeResult upserts the negotiation outcome for one IP
func (s *Store) SaveProbeResult(ctx context.Context, result domain.ProtocolProbeResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO probe_results (ip, protocol, port, verified, negotiated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET
			protocol = excluded.protocol,
			port = excluded.port,
			verified = excluded.verified,
			negotiated_at = excluded.negotiated_at
	`, result.IP, string(result.Protocol), result.Port, boolToInt(result.Verified), result.NegotiatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save probe result for %s: %w", result.IP, err)
	}
	return nil
}

// GetProbeResult returns the cached negotiation for an IP, or nil
func (s *Store) GetProbeResult(ctx context.Context, ip string) (*domain.ProtocolProbeResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ip, protocol, port, verified, negotiated_at
		FROM probe_results WHERE ip = ?
	`, ip)

	var result domain.ProtocolProbeResult
	var protocol string
	var verified int
	var negotiatedAt time.Time
	err := row.Scan(&result.IP, &protocol, &result.Port, &verified, &negotiatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get probe result for %s: %w", ip, err)
	}

	result.Protocol = domain.Protocol(protocol)
	result.Verified = verified != 0
	result.NegotiatedAt = negotiatedAt
	return &result, nil
}

// DeleteProbeResult invalidates one IP's negotiation
func (s *Store) DeleteProbeResult(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM probe_results WHERE ip = ?`, ip)
	if err != nil {
		return fmt.Errorf("delete probe result for %s: %w", ip, err)
	}
	return nil
}

// SaveCandidate upserts an unclassified address
func (s *Store) SaveCandidate(ctx context.Context, c repository.Candidate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (ip, port, protocol, source, seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET
			port = excluded.port,
			protocol = excluded.protocol,
			source = excluded.source,
			seen_at = excluded.seen_at
	`, c.IP, c.Port, string(c.Protocol), string(c.Source), c.SeenAt.UTC())
	if err != nil {
		return fmt.Errorf("save candidate %s: %w", c.IP, err)
	}
	return nil
}

// ListCandidates returns all unclassified addresses, oldest first
func (s *Store) ListCandidates(ctx context.Context) ([]repository.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ip, port, protocol, source, seen_at
		FROM candidates ORDER BY seen_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []repository.Candidate
	for rows.Next() {
		var c repository.Candidate
		var protocol, source string
		var seenAt time.Time
		if err := rows.Scan(&c.IP, &c.Port, &protocol, &source, &seenAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Protocol = domain.Protocol(protocol)
		c.Source = domain.DiscoveryMethod(source)
		c.SeenAt = seenAt
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCandidate removes an address from the candidate list
func (s *Store) DeleteCandidate(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM candidates WHERE ip = ?`, ip)
	if err != nil {
		return fmt.Errorf("delete candidate %s: %w", ip, err)
	}
	return nil
}

// Clear wipes both tables
func (s *Store) Clear(ctx context.Context) error {
	for _, table := range []string{"probe_results", "candidates"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
