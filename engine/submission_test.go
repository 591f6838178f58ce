package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/emberclan/points-engine/engine"
	"github.com/emberclan/points-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newSubmissionService() (*engine.SubmissionService, *store.Memory) {
	mem := store.NewMemory()
	return engine.NewSubmissionService(mem, engine.NewMaintainer(mem)), mem
}

func mustSubmit(t *testing.T, svc *engine.SubmissionService, quantity int64) engine.Submission {
	t.Helper()
	sub, err := svc.Submit(context.Background(), "red", 4, "zezima", "crystal shard", quantity, 10)
	if err != nil {
		t.Fatalf("failed to submit: %v", err)
	}
	return sub
}

func mustTransition(t *testing.T, svc *engine.SubmissionService, id engine.SubmissionID, to engine.SubmissionStatus) engine.Submission {
	t.Helper()
	sub, err := svc.Transition(context.Background(), id, to, "admin", "")
	if err != nil {
		t.Fatalf("failed to transition to %s: %v", to, err)
	}
	return sub
}

func tileCount(t *testing.T, svc *engine.SubmissionService) int64 {
	t.Helper()
	p, err := svc.Progress(context.Background(), "red", 4)
	if err != nil {
		t.Fatalf("failed to read progress: %v", err)
	}
	return p.CompletedCount
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_CreatesPendingWithoutProgress(t *testing.T) {
	// A pending submission contributes nothing to the tile.

	svc, mem := newSubmissionService()
	sub := mustSubmit(t, svc, 6)

	if sub.Status != engine.SubmissionPending {
		t.Errorf("expected pending, got %s", sub.Status)
	}
	if sub.ID == 0 {
		t.Error("expected a store-assigned id")
	}
	if got := tileCount(t, svc); got != 0 {
		t.Errorf("expected count 0, got %d", got)
	}

	// The submitter's account exists with the team affiliation.
	acct, err := mem.GetAccount(context.Background(), "zezima")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.Team != "red" {
		t.Errorf("expected team red, got %q", acct.Team)
	}
}

func TestSubmit_RejectsNonPositiveQuantity(t *testing.T) {
	svc, _ := newSubmissionService()
	if _, err := svc.Submit(context.Background(), "red", 4, "a", "shard", 0, 10); err == nil {
		t.Fatal("expected error for zero quantity")
	}
	if _, err := svc.Submit(context.Background(), "red", 4, "a", "shard", -2, 10); err == nil {
		t.Fatal("expected error for negative quantity")
	}
}

// =============================================================================
// APPROVAL FLOW
// =============================================================================

func TestTransition_ApproveAddsQuantityToTile(t *testing.T) {
	// GIVEN: A tile requiring 10 with two submissions of 6 and 4
	// WHEN: Both are approved
	// THEN: The tile completes exactly

	svc, _ := newSubmissionService()
	s1 := mustSubmit(t, svc, 6)
	s2 := mustSubmit(t, svc, 4)

	mustTransition(t, svc, s1.ID, engine.SubmissionApproved)
	if got := tileCount(t, svc); got != 6 {
		t.Errorf("expected count 6, got %d", got)
	}

	mustTransition(t, svc, s2.ID, engine.SubmissionApproved)
	p, _ := svc.Progress(context.Background(), "red", 4)
	if p.CompletedCount != 10 {
		t.Errorf("expected count 10, got %d", p.CompletedCount)
	}
	if !p.IsComplete() {
		t.Error("expected tile complete")
	}
}

func TestTransition_DenyPending_NoAggregateEffect(t *testing.T) {
	svc, _ := newSubmissionService()
	sub := mustSubmit(t, svc, 6)

	denied, err := svc.Transition(context.Background(), sub.ID, engine.SubmissionDenied, "admin", "blurry screenshot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denied.DenyReason != "blurry screenshot" || denied.DeniedBy != "admin" {
		t.Errorf("expected deny stamps, got %+v", denied)
	}
	if denied.DeniedAt == nil {
		t.Error("expected denied_at set")
	}
	if got := tileCount(t, svc); got != 0 {
		t.Errorf("expected count 0, got %d", got)
	}
}

func TestTransition_UnapproveSubtractsExactly(t *testing.T) {
	// Correcting a mistaken approval back to pending removes exactly the
	// quantity that was applied, never more.

	svc, _ := newSubmissionService()
	sub := mustSubmit(t, svc, 6)
	mustTransition(t, svc, sub.ID, engine.SubmissionApproved)
	mustTransition(t, svc, sub.ID, engine.SubmissionPending)

	if got := tileCount(t, svc); got != 0 {
		t.Errorf("expected count 0 after unapproval, got %d", got)
	}

	// History stamps survive the correction.
	got, _ := svc.Store.GetSubmission(context.Background(), sub.ID)
	if got.ApprovedAt == nil || got.ApprovedBy != "admin" {
		t.Error("expected approval stamps retained after correction")
	}
}

func TestTransition_ApprovedDeniedHoldApproved_RestoresCount(t *testing.T) {
	// GIVEN: An approved submission of 6
	// WHEN: Walking approved -> denied -> hold -> approved
	// THEN: Each exit and entry of approved moves the count exactly once

	svc, _ := newSubmissionService()
	sub := mustSubmit(t, svc, 6)

	mustTransition(t, svc, sub.ID, engine.SubmissionApproved)
	if got := tileCount(t, svc); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}

	mustTransition(t, svc, sub.ID, engine.SubmissionDenied)
	if got := tileCount(t, svc); got != 0 {
		t.Fatalf("expected 0 after deny, got %d", got)
	}

	mustTransition(t, svc, sub.ID, engine.SubmissionHold)
	if got := tileCount(t, svc); got != 0 {
		t.Fatalf("expected 0 on hold, got %d", got)
	}

	mustTransition(t, svc, sub.ID, engine.SubmissionApproved)
	if got := tileCount(t, svc); got != 6 {
		t.Fatalf("expected 6 after re-approval, got %d", got)
	}
}

// =============================================================================
// INVALID TRANSITIONS
// =============================================================================

func TestTransition_InvalidEdges_Rejected(t *testing.T) {
	cases := []struct {
		name string
		via  []engine.SubmissionStatus // walked first
		to   engine.SubmissionStatus
	}{
		{"pending to pending", nil, engine.SubmissionPending},
		{"denied directly to approved", []engine.SubmissionStatus{engine.SubmissionDenied}, engine.SubmissionApproved},
		{"denied to pending", []engine.SubmissionStatus{engine.SubmissionDenied}, engine.SubmissionPending},
		{"approved to hold", []engine.SubmissionStatus{engine.SubmissionApproved}, engine.SubmissionHold},
		{"hold to pending", []engine.SubmissionStatus{engine.SubmissionHold}, engine.SubmissionPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newSubmissionService()
			sub := mustSubmit(t, svc, 3)
			for _, status := range tc.via {
				mustTransition(t, svc, sub.ID, status)
			}

			before := tileCount(t, svc)
			_, err := svc.Transition(context.Background(), sub.ID, tc.to, "admin", "")
			if !errors.Is(err, engine.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}

			var ite *engine.InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("expected InvalidTransitionError, got %T", err)
			}
			if ite.To != tc.to {
				t.Errorf("unexpected transition target in error: %+v", ite)
			}
			if got := tileCount(t, svc); got != before {
				t.Errorf("rejected transition moved the count: %d -> %d", before, got)
			}
		})
	}
}

func TestTransition_UnknownSubmission(t *testing.T) {
	svc, _ := newSubmissionService()
	_, err := svc.Transition(context.Background(), 999, engine.SubmissionApproved, "admin", "")
	if !errors.Is(err, engine.ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
}

// =============================================================================
// PURGE
// =============================================================================

func TestPurge_ApprovedSubmission_ReversesContribution(t *testing.T) {
	svc, mem := newSubmissionService()
	sub := mustSubmit(t, svc, 6)
	mustTransition(t, svc, sub.ID, engine.SubmissionApproved)

	if err := svc.Purge(context.Background(), sub.ID, "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tileCount(t, svc); got != 0 {
		t.Errorf("expected count 0 after purge, got %d", got)
	}
	if _, err := mem.GetSubmission(context.Background(), sub.ID); !errors.Is(err, engine.ErrSubmissionNotFound) {
		t.Errorf("expected submission gone, got %v", err)
	}
}

func TestPurge_PendingSubmission_JustDeletes(t *testing.T) {
	svc, _ := newSubmissionService()
	sub := mustSubmit(t, svc, 6)

	if err := svc.Purge(context.Background(), sub.ID, "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tileCount(t, svc); got != 0 {
		t.Errorf("expected count 0, got %d", got)
	}
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_InsertionOrder(t *testing.T) {
	svc, _ := newSubmissionService()
	first := mustSubmit(t, svc, 1)
	second := mustSubmit(t, svc, 2)
	third := mustSubmit(t, svc, 3)

	subs, err := svc.History(context.Background(), "red", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []engine.SubmissionID{first.ID, second.ID, third.ID}
	if len(subs) != len(want) {
		t.Fatalf("expected %d submissions, got %d", len(want), len(subs))
	}
	for i, id := range want {
		if subs[i].ID != id {
			t.Errorf("position %d: expected id %d, got %d", i, id, subs[i].ID)
		}
	}
}
