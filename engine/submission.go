/*
submission.go - Drop submission lifecycle

PURPOSE:
  Governs the lifecycle of a drop submission and delegates aggregate deltas
  to the Maintainer on each transition, inside one unit of work with the
  state write itself.

LIFECYCLE:

    submit ──▶ pending ──▶ approved | denied | hold
               hold     ──▶ approved | denied
               approved ──▶ denied | pending     (correction path)
               denied   ──▶ hold                 (the only way back)

  Entering "approved" contributes +quantity to the tile's completed-count;
  leaving it contributes -quantity. Every other edge contributes zero.
  Re-approving a denied submission is only reachable via hold: the extra
  step keeps accidental double-approval shortcuts out of the audit trail.

AUDIT:
  Each transition stamps actor and timestamp on the submission row. No
  separate ledger entry is written for submissions; the row's history
  columns are the audit trail.

SEE ALSO:
  - maintainer.go: ApplyDeltaIn joins the tile delta to the state write
  - reconcile.go: Recomputes completed-count from approved submissions
*/
package engine

import (
	"context"
	"fmt"
	"time"
)

// transitions is the explicit edge table of the lifecycle graph.
// Any request not listed here fails with InvalidTransitionError.
var transitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionPending:  {SubmissionApproved, SubmissionDenied, SubmissionHold},
	SubmissionHold:     {SubmissionApproved, SubmissionDenied},
	SubmissionApproved: {SubmissionDenied, SubmissionPending},
	SubmissionDenied:   {SubmissionHold},
}

func reachable(from, to SubmissionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// SUBMISSION SERVICE
// =============================================================================

// SubmissionService owns the submission state machine. All writes go
// through the store's unit of work so the state change and its tile delta
// commit or roll back together.
type SubmissionService struct {
	Store      TxStore
	Maintainer *Maintainer

	Now func() time.Time // nil means time.Now
}

func NewSubmissionService(store TxStore, m *Maintainer) *SubmissionService {
	return &SubmissionService{Store: store, Maintainer: m}
}

func (svc *SubmissionService) now() time.Time {
	if svc.Now != nil {
		return svc.Now()
	}
	return time.Now().UTC()
}

// Submit records a new pending submission for (team, tile). totalRequired
// comes from the tile's catalog definition and seeds the progress row on
// first use. A pending submission contributes nothing to the aggregate.
func (svc *SubmissionService) Submit(ctx context.Context, team TeamID, tile TileID, account AccountID, drop string, quantity, totalRequired int64) (Submission, error) {
	if quantity <= 0 {
		return Submission{}, fmt.Errorf("submission quantity must be positive, got %d", quantity)
	}
	if totalRequired <= 0 {
		return Submission{}, fmt.Errorf("tile total required must be positive, got %d", totalRequired)
	}

	now := svc.now()
	sub := Submission{
		Team:        team,
		Tile:        tile,
		Account:     account,
		Drop:        drop,
		Quantity:    quantity,
		Status:      SubmissionPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	err := svc.Maintainer.Atomic(ctx, func(s Store) error {
		if _, err := s.EnsureAccount(ctx, account, team); err != nil {
			return err
		}
		if _, err := s.EnsureTileProgress(ctx, team, tile, totalRequired); err != nil {
			return err
		}
		id, err := s.InsertSubmission(ctx, sub)
		if err != nil {
			return err
		}
		sub.ID = id
		return nil
	})
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// Transition moves a submission to newStatus, recording actor and reason.
//
// Atomically with the state write: leaving "approved" applies -quantity to
// the tile's progress, entering it applies +quantity. A delta is never
// applied twice and never left stale after leaving "approved", because the
// edge table has no approved -> approved edge and every exit from
// "approved" subtracts exactly the previously-applied quantity.
func (svc *SubmissionService) Transition(ctx context.Context, id SubmissionID, newStatus SubmissionStatus, actor, reason string) (Submission, error) {
	var result Submission
	err := svc.Maintainer.Atomic(ctx, func(s Store) error {
		sub, err := s.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if !reachable(sub.Status, newStatus) {
			return &InvalidTransitionError{Submission: id, From: sub.Status, To: newStatus}
		}

		wasApproved := sub.Status == SubmissionApproved
		now := svc.now()
		sub.Status = newStatus
		sub.UpdatedAt = now

		switch newStatus {
		case SubmissionApproved:
			sub.ApprovedAt = &now
			sub.ApprovedBy = actor
		case SubmissionDenied:
			sub.DeniedAt = &now
			sub.DeniedBy = actor
			sub.DenyReason = reason
		case SubmissionHold:
			sub.HeldAt = &now
			sub.HeldBy = actor
			sub.HoldReason = reason
		case SubmissionPending:
			// Correction path from approved. History stamps stay: the
			// audit trail records that an approval happened and was undone.
		}

		if err := s.UpdateSubmission(ctx, sub); err != nil {
			return err
		}

		key := TileKey(sub.Team, sub.Tile)
		if wasApproved && newStatus != SubmissionApproved {
			if _, _, err := svc.Maintainer.ApplyDeltaIn(ctx, s, key, -sub.Quantity, nil); err != nil {
				return err
			}
		}
		if !wasApproved && newStatus == SubmissionApproved {
			if _, _, err := svc.Maintainer.ApplyDeltaIn(ctx, s, key, sub.Quantity, nil); err != nil {
				return err
			}
		}

		result = sub
		return nil
	})
	if err != nil {
		return Submission{}, err
	}
	return result, nil
}

// Purge hard-deletes a submission. PRIVILEGED: admin-only data correction.
// If the submission is currently approved its aggregate contribution is
// reversed in the same unit of work, so the tile invariant holds after the
// row is gone.
func (svc *SubmissionService) Purge(ctx context.Context, id SubmissionID, actor string) error {
	return svc.Maintainer.Atomic(ctx, func(s Store) error {
		sub, err := s.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if sub.Status == SubmissionApproved {
			key := TileKey(sub.Team, sub.Tile)
			if _, _, err := svc.Maintainer.ApplyDeltaIn(ctx, s, key, -sub.Quantity, nil); err != nil {
				return err
			}
		}
		return s.DeleteSubmission(ctx, id)
	})
}

// Progress returns the current cached snapshot for (team, tile), used by
// board-rendering collaborators.
func (svc *SubmissionService) Progress(ctx context.Context, team TeamID, tile TileID) (TileProgress, error) {
	return svc.Store.GetTileProgress(ctx, team, tile)
}

// History returns the tile's submissions in insertion order.
func (svc *SubmissionService) History(ctx context.Context, team TeamID, tile TileID) ([]Submission, error) {
	return svc.Store.SubmissionsForTile(ctx, team, tile)
}
