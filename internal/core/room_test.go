package core

import "testing"

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Anxiety", "anxiety"},
		{"Student Life", "student-life"},
		{"Self-Improvement", "self-improvement"},
		{"  Café   Talk!! ", "cafe-talk"},
		{"student-life", "student-life"},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoomFromSlugDisplayName(t *testing.T) {
	room := RoomFromSlug("student-life")
	if room.ID != "student-life" || room.DisplayName != "Student Life" {
		t.Fatalf("unexpected room: %+v", room)
	}
}

func TestDefaultTopics(t *testing.T) {
	rooms := DefaultTopics()
	if len(rooms) != 6 {
		t.Fatalf("expected 6 topics, got %d", len(rooms))
	}
	if rooms[1].ID != "student-life" || rooms[1].DisplayName != "Student Life" {
		t.Fatalf("unexpected second topic: %+v", rooms[1])
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateReconnecting, false},
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnected, StateReconnecting, true},
		{StateReconnecting, StateConnected, true},
		{StateReconnecting, StateFailed, true},
		{StateFailed, StateReconnecting, false},
		{StateFailed, StateConnecting, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateFailed, true},
		{StateDisconnected, StateDisconnected, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDeliveryStateMonotonic(t *testing.T) {
	if !DeliveryPending.CanAdvanceTo(DeliverySent) {
		t.Fatalf("pending -> sent must be allowed")
	}
	if DeliverySent.CanAdvanceTo(DeliveryPending) {
		t.Fatalf("sent -> pending must be rejected")
	}
	if DeliveryFailed.CanAdvanceTo(DeliverySent) {
		t.Fatalf("failed is terminal")
	}
	if DeliveryAcknowledged.CanAdvanceTo(DeliveryFailed) {
		t.Fatalf("acknowledged is terminal")
	}
}
