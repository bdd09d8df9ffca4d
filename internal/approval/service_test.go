package approval

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestService_CreateAndApproveFlow(t *testing.T) {
	workspace := t.TempDir()
	svc := NewService(workspace, 0)
	fixedNow := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixedNow }

	created, err := svc.Create(CreateInput{
		TurnID:   "turn-1",
		CallID:   "call-1",
		ToolName: "send_email",
		ArgsJSON: `{"to":"jane@example.com"}`,
		Reason:   "sensitive tool requires approval",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected non-empty id")
	}
	if created.Status != StatusPending {
		t.Fatalf("expected status %q, got %q", StatusPending, created.Status)
	}
	if created.RequestedAt != fixedNow {
		t.Fatalf("unexpected requested_at: %s", created.RequestedAt)
	}
	if !created.ExpiresAt.IsZero() {
		t.Fatal("expected zero expires_at with no ttl configured")
	}

	svc.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	approved, err := svc.Approve(created.ID, DecisionInput{
		DecidedBy: "operator",
		Note:      "verified recipient",
	})
	if err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Fatalf("expected status %q, got %q", StatusApproved, approved.Status)
	}
	if approved.DecidedBy != "operator" {
		t.Fatalf("unexpected decided_by: %q", approved.DecidedBy)
	}
	if approved.TurnID != "turn-1" || approved.CallID != "call-1" {
		t.Fatalf("turn linkage lost: %+v", approved)
	}
}

func TestService_ResolveTwiceFails(t *testing.T) {
	svc := NewService(t.TempDir(), 0)

	created, err := svc.Create(CreateInput{
		TurnID: "turn-1", CallID: "call-1", ToolName: "delete_record",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, err := svc.Approve(created.ID, DecisionInput{DecidedBy: "op"}); err != nil {
		t.Fatalf("first Approve error: %v", err)
	}
	if _, err := svc.Reject(created.ID, DecisionInput{DecidedBy: "op"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second resolution, got %v", err)
	}
	if _, err := svc.Approve(created.ID, DecisionInput{DecidedBy: "op"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on repeated approve, got %v", err)
	}
}

func TestService_ResolveUnknownFails(t *testing.T) {
	svc := NewService(t.TempDir(), 0)

	if _, err := svc.Approve("999", DecisionInput{DecidedBy: "op"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_ConcurrentResolutionSingleWinner(t *testing.T) {
	svc := NewService(t.TempDir(), 0)

	created, err := svc.Create(CreateInput{
		TurnID: "turn-1", CallID: "call-1", ToolName: "send_email",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	const resolvers = 16
	var wg sync.WaitGroup
	errs := make([]error, resolvers)

	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = svc.Approve(created.ID, DecisionInput{DecidedBy: "racer"})
			} else {
				_, errs[i] = svc.Reject(created.ID, DecisionInput{DecidedBy: "racer"})
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("loser returned unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning resolution, got %d", winners)
	}
}

func TestService_DuplicatePendingPerCallRejected(t *testing.T) {
	svc := NewService(t.TempDir(), 0)

	input := CreateInput{TurnID: "turn-1", CallID: "call-1", ToolName: "send_email"}
	if _, err := svc.Create(input); err != nil {
		t.Fatalf("first Create error: %v", err)
	}
	if _, err := svc.Create(input); err == nil {
		t.Fatal("expected duplicate pending create to fail")
	}
}

func TestService_ExpirePending(t *testing.T) {
	svc := NewService(t.TempDir(), 15*time.Minute)
	fixedNow := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixedNow }

	created, err := svc.Create(CreateInput{
		TurnID: "turn-1", CallID: "call-1", ToolName: "send_email",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.ExpiresAt != fixedNow.Add(15*time.Minute) {
		t.Fatalf("unexpected expires_at: %s", created.ExpiresAt)
	}

	svc.now = func() time.Time { return fixedNow.Add(16 * time.Minute) }
	expired, err := svc.ExpirePending()
	if err != nil {
		t.Fatalf("ExpirePending error: %v", err)
	}
	if len(expired) != 1 || expired[0].Status != StatusExpired {
		t.Fatalf("unexpected expired set: %+v", expired)
	}

	if _, err := svc.Approve(created.ID, DecisionInput{DecidedBy: "op"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after expiry, got %v", err)
	}
}

func TestService_DecideAfterTTLExpiresRequest(t *testing.T) {
	svc := NewService(t.TempDir(), time.Minute)
	fixedNow := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixedNow }

	created, err := svc.Create(CreateInput{
		TurnID: "turn-1", CallID: "call-1", ToolName: "send_email",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// No sweep runs in between; the decision itself must notice the lapse.
	svc.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	if _, err := svc.Approve(created.ID, DecisionInput{DecidedBy: "op"}); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	got, err := svc.Get(created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if got.DecidedBy != "system" || got.DecisionNote != "expired by ttl" {
		t.Fatalf("unexpected decision metadata: %+v", got)
	}

	if _, err := svc.Reject(created.ID, DecisionInput{DecidedBy: "op"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after expiry transition, got %v", err)
	}
}

func TestService_MootVoidsPendingForTurn(t *testing.T) {
	svc := NewService(t.TempDir(), 0)

	first, err := svc.Create(CreateInput{TurnID: "turn-1", CallID: "call-1", ToolName: "send_email"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.Create(CreateInput{TurnID: "turn-2", CallID: "call-1", ToolName: "send_email"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	mooted, err := svc.Moot("turn-1")
	if err != nil {
		t.Fatalf("Moot error: %v", err)
	}
	if len(mooted) != 1 || mooted[0].ID != first.ID {
		t.Fatalf("unexpected mooted set: %+v", mooted)
	}

	if _, err := svc.Approve(first.ID, DecisionInput{DecidedBy: "op"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for mooted request, got %v", err)
	}

	pending, err := svc.List(Query{TurnID: "turn-2", Status: StatusPending})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("other turn's requests must be untouched, got %+v", pending)
	}
}

func TestService_PersistsAcrossRestart(t *testing.T) {
	workspace := t.TempDir()

	svc := NewService(workspace, 0)
	created, err := svc.Create(CreateInput{TurnID: "turn-1", CallID: "call-1", ToolName: "send_email"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	reopened := NewService(workspace, 0)
	got, err := reopened.Get(created.ID)
	if err != nil {
		t.Fatalf("Get after restart error: %v", err)
	}
	if got.Status != StatusPending || got.TurnID != "turn-1" {
		t.Fatalf("request not durable: %+v", got)
	}
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{"send_email", " Delete_Record "})

	if got := c.Classify("send_email"); got != Sensitive {
		t.Errorf("send_email: expected sensitive, got %s", got)
	}
	if got := c.Classify("DELETE_RECORD"); got != Sensitive {
		t.Errorf("delete_record: expected case-insensitive sensitive, got %s", got)
	}
	if got := c.Classify("search_patient"); got != Ordinary {
		t.Errorf("search_patient: expected ordinary, got %s", got)
	}
}
