package conversation

import (
	"context"
	"fmt"
	"testing"
)

func TestResolveCreatesIdleState(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	state, err := Resolve(ctx, repo, "user-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if state.Active() || state.Step != "" || len(state.Data) != 0 {
		t.Fatalf("expected idle state, got %+v", state)
	}

	again, err := Resolve(ctx, repo, "user-1")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again.ID != state.ID {
		t.Fatalf("expected one state per user")
	}
}

func TestBeginAndResetKeepInvariant(t *testing.T) {
	s := State{UserID: "u", Data: FlowData{}}
	s.Begin("BUY_AIRTIME")
	s.Step = "ENTER_AMOUNT"
	if err := s.Data.Put("amount", int64(500)); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.PendingAction = "CHECK_BALANCE"
	if err := s.Check(); err != nil {
		t.Fatalf("active state should be valid: %v", err)
	}

	s.Begin("BUY_DATA")
	if len(s.Data) != 0 || s.Step != "" {
		t.Fatalf("begin must clear step and data: %+v", s)
	}

	s.Step = "SELECT_BUNDLE"
	s.Reset()
	if err := s.Check(); err != nil {
		t.Fatalf("reset state invalid: %v", err)
	}
	if s.PendingAction != "" || s.AwaitingInput != "" {
		t.Fatalf("reset must clear pending action and awaiting input: %+v", s)
	}
}

func TestCheckDetectsOrphanStep(t *testing.T) {
	s := State{Step: "CONFIRM"}
	if err := s.Check(); err == nil {
		t.Fatalf("expected invariant violation")
	}
	s = State{Data: FlowData{"k": []byte(`1`)}}
	if err := s.Check(); err == nil {
		t.Fatalf("expected invariant violation for orphan data")
	}
}

func TestFlowDataRoundTrip(t *testing.T) {
	d := FlowData{}
	type bundle struct {
		Code  string
		Price int64
	}
	if err := d.Put("bundles", []bundle{{Code: "WB_1GB", Price: 4500}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = d.Put("phone", "264811234567")

	var got []bundle
	ok, err := d.Get("bundles", &got)
	if !ok || err != nil || len(got) != 1 || got[0].Code != "WB_1GB" {
		t.Fatalf("unexpected bundles: ok=%v err=%v got=%+v", ok, err, got)
	}
	if d.String("phone") != "264811234567" {
		t.Fatalf("unexpected phone %q", d.String("phone"))
	}
	if d.Int64("missing") != 0 {
		t.Fatalf("missing int should be zero")
	}
}

func TestMemoryRepositoryIsolatesCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	state, _ := Resolve(ctx, repo, "u")

	state.Begin("BUY_AIRTIME")
	_ = state.Data.Put("amount", 100)
	// not saved: the stored copy must not change
	stored, _ := repo.Get(ctx, "u")
	if stored.Active() || len(stored.Data) != 0 {
		t.Fatalf("unsaved mutation leaked into repository: %+v", stored)
	}

	if err := repo.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	stored, _ = repo.Get(ctx, "u")
	if stored.Flow != "BUY_AIRTIME" || stored.Data.Int64("amount") != 100 {
		t.Fatalf("save not applied: %+v", stored)
	}
}

func TestRememberKeepsRecentWindow(t *testing.T) {
	var s State
	for i := 0; i < recentMessageWindow+4; i++ {
		s.Remember(fmt.Sprintf("wamid-%d", i))
	}
	if len(s.RecentMessageIDs) != recentMessageWindow {
		t.Fatalf("window grew to %d", len(s.RecentMessageIDs))
	}
	if s.LastMessageID != fmt.Sprintf("wamid-%d", recentMessageWindow+3) {
		t.Fatalf("unexpected last id %q", s.LastMessageID)
	}
	if !s.Seen("wamid-5") || !s.Seen(s.LastMessageID) {
		t.Fatalf("recent ids forgotten")
	}
	if s.Seen("wamid-3") || s.Seen("") {
		t.Fatalf("evicted or empty id reported as seen")
	}

	c := s.Clone()
	c.Remember("wamid-new")
	if s.Seen("wamid-new") {
		t.Fatalf("clone shares its window")
	}
}
