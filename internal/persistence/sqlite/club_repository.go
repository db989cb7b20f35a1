package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/club-scheduler/internal/persistence"
)

type clubRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Public    bool   `db:"is_public"`
	CreatedAt string `db:"created_at"`
}

type memberRow struct {
	ClubID   string `db:"club_id"`
	UserID   string `db:"user_id"`
	JoinedAt string `db:"joined_at"`
}

// CreateClub inserts a club.
func (s *Store) CreateClub(ctx context.Context, club persistence.Club) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO clubs (id, name, is_public, created_at) VALUES (?, ?, ?, ?)`,
			club.ID, club.Name, club.Public, formatTime(club.CreatedAt),
		)
		return err
	})
}

// GetClub loads a club by ID.
func (s *Store) GetClub(ctx context.Context, id string) (persistence.Club, error) {
	var row clubRow
	if err := s.db.GetContext(ctx, &row, `SELECT id, name, is_public, created_at FROM clubs WHERE id = ?`, id); err != nil {
		return persistence.Club{}, mapError(err)
	}
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return persistence.Club{}, err
	}
	return persistence.Club{ID: row.ID, Name: row.Name, Public: row.Public, CreatedAt: createdAt}, nil
}

// AddMember enrols a user in a club.
func (s *Store) AddMember(ctx context.Context, member persistence.Member) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO club_members (club_id, user_id, joined_at) VALUES (?, ?, ?)`,
			member.ClubID, member.UserID, formatTime(member.JoinedAt),
		)
		return err
	})
}

// ListMembers returns the members of a club ordered by join time.
func (s *Store) ListMembers(ctx context.Context, clubID string) ([]persistence.Member, error) {
	var rows []memberRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT club_id, user_id, joined_at FROM club_members WHERE club_id = ? ORDER BY joined_at, user_id`,
		clubID,
	)
	if err != nil {
		return nil, mapError(err)
	}

	members := make([]persistence.Member, 0, len(rows))
	for _, row := range rows {
		joinedAt, err := parseTime(row.JoinedAt)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", row.UserID, err)
		}
		members = append(members, persistence.Member{ClubID: row.ClubID, UserID: row.UserID, JoinedAt: joinedAt})
	}
	return members, nil
}
