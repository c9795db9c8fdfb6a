package store

import (
	"context"
	gosql "database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/avshare/termrelay/internal/db"
)

// Postgres is a pgx-backed Store, grounded on the same CRUD-over-*sql.DB
// shape as the terminal tab store: plain SQL, no ORM.
type Postgres struct {
	db *db.DB
}

func NewPostgres(d *db.DB) *Postgres {
	return &Postgres{db: d}
}

func (p *Postgres) GetRoom(ctx context.Context, id string) (*Room, error) {
	var r Room
	err := p.db.QueryRowContext(ctx, `
		SELECT id, owner_subject, owner_login, shared_left_session, shared_left_terminal,
		       shared_right_session, shared_right_terminal, created_at, archived_at
		FROM rooms WHERE id = $1
	`, id).Scan(&r.ID, &r.OwnerSubject, &r.OwnerLogin, &r.SharedLeftSession, &r.SharedLeftTerminal,
		&r.SharedRightSession, &r.SharedRightTerminal, &r.CreatedAt, &r.ArchivedAt)
	if err == gosql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get room: %w", err)
	}
	return &r, nil
}

func (p *Postgres) CreateRoom(ctx context.Context, id, ownerSubject, ownerLogin string) (*Room, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rooms (id, owner_subject, owner_login) VALUES ($1, $2, $3)
	`, id, ownerSubject, ownerLogin)
	if err != nil {
		return nil, fmt.Errorf("store: create room: %w", err)
	}
	if err := p.AddParticipant(ctx, id, ownerSubject, ownerLogin); err != nil {
		return nil, err
	}
	return p.GetRoom(ctx, id)
}

func (p *Postgres) ArchiveRoom(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE rooms SET archived_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: archive room: %w", err)
	}
	return nil
}

func (p *Postgres) IsRoomMember(ctx context.Context, roomID, subject string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id = $1 AND subject = $2)
	`, roomID, subject).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: is room member: %w", err)
	}
	return exists, nil
}

func (p *Postgres) ListParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT subject, login, added_at FROM room_participants WHERE room_id = $1 ORDER BY added_at ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("store: list participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var pt Participant
		if err := rows.Scan(&pt.Subject, &pt.Login, &pt.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (p *Postgres) AddParticipant(ctx context.Context, roomID, subject, login string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, subject, login) VALUES ($1, $2, $3)
		ON CONFLICT (room_id, subject) DO NOTHING
	`, roomID, subject, login)
	if err != nil {
		return fmt.Errorf("store: add participant: %w", err)
	}
	return nil
}

func (p *Postgres) GetPool(ctx context.Context, roomID string) ([]PoolEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT session_id, adder_subject, hostname, working_dir, added_at
		FROM room_pool WHERE room_id = $1 ORDER BY added_at ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("store: get pool: %w", err)
	}
	defer rows.Close()

	var out []PoolEntry
	for rows.Next() {
		var e PoolEntry
		if err := rows.Scan(&e.SessionID, &e.AdderSubject, &e.Hostname, &e.WorkingDir, &e.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) AddToPool(ctx context.Context, roomID, sessionID, adderSubject, hostname, workingDir string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO room_pool (room_id, session_id, adder_subject, hostname, working_dir)
		VALUES ($1, $2, $3, $4, $5)
	`, roomID, sessionID, adderSubject, hostname, workingDir)
	if err != nil {
		return fmt.Errorf("store: add to pool: %w", err)
	}
	return nil
}

func (p *Postgres) RemoveFromPool(ctx context.Context, roomID, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM room_pool WHERE room_id = $1 AND session_id = $2`, roomID, sessionID)
	if err != nil {
		return fmt.Errorf("store: remove from pool: %w", err)
	}
	return nil
}

func (p *Postgres) MarkPoolSessionClosed(ctx context.Context, roomID, sessionID string, graceful bool) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE room_pool SET closed_at = now(), closed_graceful = $3
		WHERE room_id = $1 AND session_id = $2
	`, roomID, sessionID, graceful)
	if err != nil {
		return fmt.Errorf("store: mark pool session closed: %w", err)
	}
	return nil
}

func (p *Postgres) MarkPoolSessionOnline(ctx context.Context, roomID, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE room_pool SET closed_at = NULL WHERE room_id = $1 AND session_id = $2
	`, roomID, sessionID)
	if err != nil {
		return fmt.Errorf("store: mark pool session online: %w", err)
	}
	return nil
}

func (p *Postgres) GetSharedPanelState(ctx context.Context, roomID string) (left, right *PanelState, err error) {
	r, err := p.GetRoom(ctx, roomID)
	if err != nil || r == nil {
		return nil, nil, err
	}
	if r.SharedLeftSession != "" {
		left = &PanelState{SessionID: r.SharedLeftSession, TerminalName: r.SharedLeftTerminal}
	}
	if r.SharedRightSession != "" {
		right = &PanelState{SessionID: r.SharedRightSession, TerminalName: r.SharedRightTerminal}
	}
	return left, right, nil
}

func (p *Postgres) SetSharedPanelState(ctx context.Context, roomID string, panel Panel, sessionID, terminalName string) error {
	var col, termCol string
	switch panel {
	case PanelLeft:
		col, termCol = "shared_left_session", "shared_left_terminal"
	case PanelRight:
		col, termCol = "shared_right_session", "shared_right_terminal"
	default:
		return fmt.Errorf("store: unknown panel %q", panel)
	}
	query := fmt.Sprintf(`UPDATE rooms SET %s = $2, %s = $3 WHERE id = $1`, col, termCol)
	_, err := p.db.ExecContext(ctx, query, roomID, sessionID, terminalName)
	if err != nil {
		return fmt.Errorf("store: set shared panel state: %w", err)
	}
	return nil
}

func (p *Postgres) ListPendingInvitations(ctx context.Context, roomID string) ([]Invitation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, room_id, inviter_subject, invitee_subject, status, created_at, resolved_at
		FROM room_invitations WHERE room_id = $1 AND status = $2 ORDER BY created_at ASC
	`, roomID, InvitationPending)
	if err != nil {
		return nil, fmt.Errorf("store: list pending invitations: %w", err)
	}
	defer rows.Close()

	var out []Invitation
	for rows.Next() {
		var inv Invitation
		if err := rows.Scan(&inv.ID, &inv.RoomID, &inv.InviterSubject, &inv.InviteeSubject, &inv.Status, &inv.CreatedAt, &inv.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateInvitation(ctx context.Context, roomID, inviterSubject, inviteeSubject string) (*Invitation, error) {
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO room_invitations (id, room_id, inviter_subject, invitee_subject, status)
		VALUES ($1, $2, $3, $4, $5)
	`, id, roomID, inviterSubject, inviteeSubject, InvitationPending)
	if err != nil {
		return nil, fmt.Errorf("store: create invitation: %w", err)
	}
	return &Invitation{ID: id, RoomID: roomID, InviterSubject: inviterSubject, InviteeSubject: inviteeSubject, Status: InvitationPending}, nil
}

func (p *Postgres) ResolveInvitation(ctx context.Context, invitationID, status string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE room_invitations SET status = $2, resolved_at = now() WHERE id = $1
	`, invitationID, status)
	if err != nil {
		return fmt.Errorf("store: resolve invitation: %w", err)
	}
	return nil
}
