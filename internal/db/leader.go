package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrStageConflict means the room was no longer electing a leader, usually
// because another commit already advanced it.
var ErrStageConflict = errors.New("room is not electing a leader")

// PromoteLeader makes userID the room's only leader, advances the room to
// scheduling and creates its schedule row. All of it commits or none of it
// does. It returns the new schedule id.
func (d *DB) PromoteLeader(ctx context.Context, roomID, userID string) (string, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE rooms SET stage = $3, updated_at = now()
		WHERE id = $1 AND stage = $2
	`, roomID, StageElectingLeader, StageScheduling)
	if err != nil {
		return "", fmt.Errorf("advancing room stage: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", fmt.Errorf("advancing room stage: %w", err)
	} else if n == 0 {
		return "", ErrStageConflict
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE room_members SET role = $2
		WHERE room_id = $1 AND role IN ($3, $4)
	`, roomID, RoleMember, RoleLeader, RoleHost); err != nil {
		return "", fmt.Errorf("demoting previous leader: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE room_members SET role = $3
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID, RoleLeader)
	if err != nil {
		return "", fmt.Errorf("promoting leader: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", fmt.Errorf("promoting leader: %w", err)
	} else if n == 0 {
		return "", ErrMemberNotFound
	}

	scheduleID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schedules (id, room_id) VALUES ($1, $2)
	`, scheduleID, roomID); err != nil {
		return "", fmt.Errorf("creating schedule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing leader: %w", err)
	}
	return scheduleID, nil
}
