package room

import "github.com/avshare/termrelay/internal/store"

// CanSetPanel applies the room's panel_select access control: with a single
// connected participant either panel is writable by anyone; once a second
// participant joins, only the room owner may set left and only non-owners
// may set right.
func CanSetPanel(panel store.Panel, connectedCount int, requesterIsOwner bool) bool {
	if connectedCount < 2 {
		return true
	}
	if panel == store.PanelLeft {
		return requesterIsOwner
	}
	return !requesterIsOwner
}

// CanRemoveSession allows the participant that added a pool session, or the
// room owner, to remove it.
func CanRemoveSession(adderSubject, requesterSubject, ownerSubject string) bool {
	return requesterSubject == adderSubject || requesterSubject == ownerSubject
}

// CanCloseTerminal allows only the owning session's authenticated subject to
// request a terminal close via the room.
func CanCloseTerminal(sessionOwnerSubject, requesterSubject string) bool {
	return sessionOwnerSubject != "" && sessionOwnerSubject == requesterSubject
}
