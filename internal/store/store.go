// Package store defines the external persistent-store contract the room
// broker uses for durable room/participant/pool/invitation state. The
// session/terminal core never imports this package.
package store

import (
	"context"
	"time"
)

type Room struct {
	ID                 string
	OwnerSubject        string
	OwnerLogin           string
	SharedLeftSession    string
	SharedLeftTerminal   string
	SharedRightSession   string
	SharedRightTerminal  string
	CreatedAt            time.Time
	ArchivedAt           *time.Time
}

type Participant struct {
	Subject string
	Login   string
	AddedAt time.Time
}

type PoolEntry struct {
	SessionID     string
	AdderSubject  string
	Hostname      string
	WorkingDir    string
	AddedAt       time.Time
	ClosedAt      *time.Time
	ClosedGraceful bool
}

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
)

type Invitation struct {
	ID             string
	RoomID         string
	InviterSubject string
	InviteeSubject string
	Status         string
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// Panel identifies one of the room's two shared viewing slots.
type Panel string

const (
	PanelLeft  Panel = "left"
	PanelRight Panel = "right"
)

// Store is the persistence contract the room broker depends on. The
// Postgres-backed implementation lives in postgres.go; tests may supply any
// other implementation.
type Store interface {
	GetRoom(ctx context.Context, id string) (*Room, error)
	CreateRoom(ctx context.Context, id, ownerSubject, ownerLogin string) (*Room, error)
	ArchiveRoom(ctx context.Context, id string) error

	IsRoomMember(ctx context.Context, roomID, subject string) (bool, error)
	ListParticipants(ctx context.Context, roomID string) ([]Participant, error)
	AddParticipant(ctx context.Context, roomID, subject, login string) error

	GetPool(ctx context.Context, roomID string) ([]PoolEntry, error)
	AddToPool(ctx context.Context, roomID, sessionID, adderSubject, hostname, workingDir string) error
	RemoveFromPool(ctx context.Context, roomID, sessionID string) error
	MarkPoolSessionClosed(ctx context.Context, roomID, sessionID string, graceful bool) error
	MarkPoolSessionOnline(ctx context.Context, roomID, sessionID string) error

	GetSharedPanelState(ctx context.Context, roomID string) (left, right *PanelState, err error)
	SetSharedPanelState(ctx context.Context, roomID string, panel Panel, sessionID, terminalName string) error

	ListPendingInvitations(ctx context.Context, roomID string) ([]Invitation, error)
	CreateInvitation(ctx context.Context, roomID, inviterSubject, inviteeSubject string) (*Invitation, error)
	ResolveInvitation(ctx context.Context, invitationID, status string) error
}

// PanelState is the session+terminal currently selected for one panel.
type PanelState struct {
	SessionID    string
	TerminalName string
}
