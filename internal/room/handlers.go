package room

import (
	"context"
	"encoding/json"
	"fmt"
)

func (b *Broker) connectedCount(r *roomState) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (b *Broker) handlePanelSelect(ctx context.Context, r *roomState, subject string, raw []byte) error {
	var req PanelSelectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("room: decode panel_select: %w", err)
	}

	isOwner := subject == r.owner
	if !CanSetPanel(req.Panel, b.connectedCount(r), isOwner) {
		return fmt.Errorf("room: %q may not set panel %q", subject, req.Panel)
	}

	if err := b.store.SetSharedPanelState(ctx, r.id, req.Panel, req.SessionID, req.TerminalName); err != nil {
		return err
	}

	r.broadcast(PanelStateUpdate{
		Type: TypePanelStateUpdate, Panel: req.Panel,
		State: &PanelSnapshot{SessionID: req.SessionID, TerminalName: req.TerminalName},
	})
	return nil
}

func (b *Broker) handleAddSession(ctx context.Context, r *roomState, subject string, raw []byte) error {
	var req AddSessionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("room: decode add_session: %w", err)
	}

	s, ok := b.reg.Get(req.SessionID)
	if !ok || s.Owner() == nil || s.Owner().Subject != subject {
		return fmt.Errorf("room: %q does not own session %q", subject, req.SessionID)
	}

	r.mu.Lock()
	_, dup := r.pool[req.SessionID]
	if !dup {
		r.pool[req.SessionID] = struct{}{}
	}
	r.mu.Unlock()
	if dup {
		return fmt.Errorf("room: session %q already in pool", req.SessionID)
	}

	if err := b.store.AddToPool(ctx, r.id, req.SessionID, subject, req.Hostname, req.WorkingDir); err != nil {
		return err
	}

	r.broadcast(SessionPoolUpdate{
		Type: TypeSessionPoolUpdate, Action: "added",
		Session: SessionInfo{SessionID: req.SessionID, Hostname: req.Hostname, WorkingDir: req.WorkingDir, Status: b.liveStatus(req.SessionID)},
	})
	return nil
}

func (b *Broker) handleRemoveSession(ctx context.Context, r *roomState, subject string, raw []byte) error {
	var req RemoveSessionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("room: decode remove_session: %w", err)
	}

	pool, err := b.store.GetPool(ctx, r.id)
	if err != nil {
		return err
	}
	var adder string
	found := false
	for _, e := range pool {
		if e.SessionID == req.SessionID {
			adder = e.AdderSubject
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("room: session %q not in pool", req.SessionID)
	}
	if !CanRemoveSession(adder, subject, r.owner) {
		return fmt.Errorf("room: %q may not remove session %q", subject, req.SessionID)
	}

	if err := b.store.RemoveFromPool(ctx, r.id, req.SessionID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.pool, req.SessionID)
	r.mu.Unlock()

	r.broadcast(SessionPoolUpdate{
		Type: TypeSessionPoolUpdate, Action: "removed",
		Session: SessionInfo{SessionID: req.SessionID},
	})
	return nil
}

func (b *Broker) handleCloseTerminal(_ context.Context, r *roomState, subject string, raw []byte) error {
	var req CloseTerminalRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("room: decode close_terminal: %w", err)
	}

	s, ok := b.reg.Get(req.SessionID)
	if !ok || s.Owner() == nil || !CanCloseTerminal(s.Owner().Subject, subject) {
		return fmt.Errorf("room: %q may not close a terminal on session %q", subject, req.SessionID)
	}
	return s.CloseTerminal(req.TerminalName, "")
}
