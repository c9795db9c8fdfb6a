package events

import "testing"

func TestSubjectFor(t *testing.T) {
	b := &Bus{active: true}

	tests := []struct {
		event Event
		want  string
	}{
		{Event{Type: EventSessionOnline, SessionID: "sess-1"}, "termrelay.session.sess-1.session.online"},
		{Event{Type: EventSessionOffline, SessionID: "sess-1"}, "termrelay.session.sess-1.session.offline"},
		{Event{Type: EventSessionClosed, SessionID: "sess-2"}, "termrelay.session.sess-2.session.closed"},
		{Event{Type: EventTerminalClosed, SessionID: "sess-2", TerminalName: "7421"}, "termrelay.session.sess-2.session.terminal_closed"},
	}

	for _, tc := range tests {
		t.Run(string(tc.event.Type), func(t *testing.T) {
			got := b.subjectFor(tc.event)
			if got != tc.want {
				t.Errorf("subjectFor(%+v) = %q, want %q", tc.event, got, tc.want)
			}
		})
	}
}

func TestInactiveBusPublishIsNoop(t *testing.T) {
	b := &Bus{active: false}
	if err := b.Publish(Event{Type: EventSessionOnline, SessionID: "x"}); err != nil {
		t.Fatalf("inactive bus Publish returned error: %v", err)
	}
	unsub, err := b.Subscribe("termrelay.session.>", func(Event) {})
	if err != nil {
		t.Fatalf("inactive bus Subscribe returned error: %v", err)
	}
	unsub()
}
