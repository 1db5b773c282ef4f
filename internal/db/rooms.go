package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	StageElectingLeader = "ELECTING_LEADER"
	StageScheduling     = "SCHEDULING"
)

const (
	RoleHost   = "HOST"
	RoleLeader = "LEADER"
	RoleMember = "MEMBER"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrMemberNotFound = errors.New("member not found")
)

type RoomRecord struct {
	ID        string
	Name      string
	Stage     string
	CreatedAt time.Time
}

type MemberRecord struct {
	RoomID      string
	UserID      string
	DisplayName string
	AvatarRef   string
	Role        string
	JoinedAt    time.Time
}

func (d *DB) CreateRoom(ctx context.Context, id, name string) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO rooms (id, name) VALUES ($1, $2)
	`, id, name)
	if err != nil {
		return fmt.Errorf("creating room: %w", err)
	}
	return nil
}

func (d *DB) GetRoom(ctx context.Context, id string) (*RoomRecord, error) {
	var r RoomRecord
	err := d.conn.QueryRowContext(ctx, `
		SELECT id, name, stage, created_at FROM rooms WHERE id = $1
	`, id).Scan(&r.ID, &r.Name, &r.Stage, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting room: %w", err)
	}
	return &r, nil
}

// UpsertMember adds a member or refreshes their profile and role.
func (d *DB) UpsertMember(ctx context.Context, m MemberRecord) error {
	role := m.Role
	if role == "" {
		role = RoleMember
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id, display_name, avatar_ref, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id, user_id) DO UPDATE
		SET display_name = $3, avatar_ref = $4, role = $5
	`, m.RoomID, m.UserID, m.DisplayName, m.AvatarRef, role)
	if err != nil {
		return fmt.Errorf("upserting member: %w", err)
	}
	return nil
}

// ListMembers returns the room's members in join order.
func (d *DB) ListMembers(ctx context.Context, roomID string) ([]MemberRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT room_id, user_id, display_name, avatar_ref, role, joined_at
		FROM room_members
		WHERE room_id = $1
		ORDER BY joined_at, user_id
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var members []MemberRecord
	for rows.Next() {
		var m MemberRecord
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.DisplayName, &m.AvatarRef, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (d *DB) GetMember(ctx context.Context, roomID, userID string) (*MemberRecord, error) {
	var m MemberRecord
	err := d.conn.QueryRowContext(ctx, `
		SELECT room_id, user_id, display_name, avatar_ref, role, joined_at
		FROM room_members
		WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&m.RoomID, &m.UserID, &m.DisplayName, &m.AvatarRef, &m.Role, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting member: %w", err)
	}
	return &m, nil
}
