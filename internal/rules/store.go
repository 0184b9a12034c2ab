package rules

import (
	"context"
	"database/sql"
	"fmt"
)

// StatsStore supplies the per-user counts the eligibility chain needs. The
// relay only reads; the platform backend owns the writes.
type StatsStore interface {
	ReviewCount(ctx context.Context, userID int64) (int, error)
	ClientReservationCount(ctx context.Context, userID int64) (int, error)
	ClientTourCount(ctx context.Context, userID int64) (int, error)
	GuideReservationCount(ctx context.Context, userID int64) (int, error)
	GuideTourCount(ctx context.Context, userID int64) (int, error)
	AdminCount(ctx context.Context) (int, error)
}

// PostgresStats reads eligibility counts from the platform's PostgreSQL
// database.
type PostgresStats struct {
	db *sql.DB
}

// NewPostgresStats creates a stats store backed by the given database handle.
func NewPostgresStats(db *sql.DB) *PostgresStats {
	return &PostgresStats{db: db}
}

func (s *PostgresStats) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("rules: count query: %w", err)
	}
	return n, nil
}

// ReviewCount returns the number of reviews authored by the user.
func (s *PostgresStats) ReviewCount(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM reviews WHERE user_id = $1`
	return s.count(ctx, query, userID)
}

// ClientReservationCount returns the number of reservations held by the user
// acting as a client.
func (s *PostgresStats) ClientReservationCount(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM reservations WHERE client_id = $1`
	return s.count(ctx, query, userID)
}

// ClientTourCount returns the number of personalized tours requested by the
// user acting as a client.
func (s *PostgresStats) ClientTourCount(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM personalized_tours WHERE client_id = $1`
	return s.count(ctx, query, userID)
}

// GuideReservationCount returns the number of reservations assigned to the
// user acting as a guide.
func (s *PostgresStats) GuideReservationCount(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM reservations WHERE guide_id = $1`
	return s.count(ctx, query, userID)
}

// GuideTourCount returns the number of personalized tours led by the user
// acting as a guide.
func (s *PostgresStats) GuideTourCount(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM personalized_tours WHERE guide_id = $1`
	return s.count(ctx, query, userID)
}

// AdminCount returns the total number of admin accounts.
func (s *PostgresStats) AdminCount(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM users WHERE role = 'admin'`
	return s.count(ctx, query)
}
