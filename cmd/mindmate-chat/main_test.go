package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/mindmate-chat/internal/core"
)

func TestTopicsCommandListsCatalog(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"topics"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("topics: %v", err)
	}
	for _, want := range []string{"anxiety", "student-life", "Self-Improvement"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestPrintMessageMarksDeliveryState(t *testing.T) {
	tests := []struct {
		state core.DeliveryState
		want  string
	}{
		{core.DeliveryPending, "(sending)"},
		{core.DeliverySent, "(sent)"},
		{core.DeliveryFailed, "/retry"},
		{core.DeliveryAcknowledged, "sam: hi\n"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		printMessage(&out, core.Message{SenderNickname: "sam", Content: "hi", Timestamp: time.Now(), State: tt.state})
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("%v: expected %q in %q", tt.state, tt.want, out.String())
		}
	}
}

func TestReportRequiresFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"report", "--room", "anxiety"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected missing --user error")
	}
}
