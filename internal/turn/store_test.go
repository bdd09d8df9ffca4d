package turn

import (
	"errors"
	"testing"
	"time"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	saved := &Turn{
		ID:    "turn-1",
		Phase: PhaseAwaitingApproval,
		Transcript: []Message{
			{Role: "user", Content: "search for patient records", Timestamp: time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)},
		},
		PendingCalls: []ToolCall{{ID: "call_1", Name: "send_email", Args: "{}"}},
		Suspension: &Suspension{
			RequestIDs:  []string{"1"},
			SuspendedAt: time.Date(2026, 2, 3, 10, 0, 1, 0, time.UTC),
		},
		Iteration: 1,
	}
	saved.RecordExecuted("call_0", "[EMAIL REDACTED]")

	if err := store.Save(saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load("turn-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Phase != PhaseAwaitingApproval {
		t.Errorf("phase = %s, want %s", loaded.Phase, PhaseAwaitingApproval)
	}
	if len(loaded.PendingCalls) != 1 || loaded.PendingCalls[0].Name != "send_email" {
		t.Errorf("pending calls = %+v", loaded.PendingCalls)
	}
	if loaded.Suspension == nil || len(loaded.Suspension.RequestIDs) != 1 {
		t.Errorf("suspension = %+v", loaded.Suspension)
	}
	if result, ok := loaded.Executed("call_0"); !ok || result != "[EMAIL REDACTED]" {
		t.Errorf("executed call_0 = %q, %v", result, ok)
	}
}

func TestStoreLoadUnknownTurn(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Load("missing"); !errors.Is(err, ErrTurnNotFound) {
		t.Fatalf("error = %v, want ErrTurnNotFound", err)
	}
}

func TestStoreListSuspended(t *testing.T) {
	store := NewStore(t.TempDir())

	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	turns := []*Turn{
		{ID: "done", Phase: PhaseCompleted},
		{ID: "late", Phase: PhaseAwaitingApproval, Suspension: &Suspension{SuspendedAt: base.Add(time.Hour)}},
		{ID: "early", Phase: PhaseAwaitingApproval, Suspension: &Suspension{SuspendedAt: base}},
	}
	for _, tn := range turns {
		if err := store.Save(tn); err != nil {
			t.Fatalf("save %s: %v", tn.ID, err)
		}
	}

	suspended, err := store.ListSuspended()
	if err != nil {
		t.Fatalf("list suspended: %v", err)
	}
	if len(suspended) != 2 {
		t.Fatalf("got %d suspended turns, want 2", len(suspended))
	}
	if suspended[0].ID != "early" || suspended[1].ID != "late" {
		t.Errorf("order = %s, %s; want early, late", suspended[0].ID, suspended[1].ID)
	}
}
