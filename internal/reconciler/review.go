package reconciler

import (
	"context"
	"fmt"
	"strings"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/store"
	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"
)

const (
	actionAccept = "accept"
	actionReject = "reject"
)

// AcceptMatch confirms a proposed pairing. Both sides move to confirmed.
func (rs *ReconciliationService) AcceptMatch(ctx context.Context, uid, reviewer string) error {
	return rs.review(ctx, uid, reviewer, actionAccept)
}

// RejectMatch returns both sides of a proposed pairing to the unmatched pool
// with their match details cleared.
func (rs *ReconciliationService) RejectMatch(ctx context.Context, uid, reviewer string) error {
	return rs.review(ctx, uid, reviewer, actionReject)
}

func (rs *ReconciliationService) review(ctx context.Context, uid, reviewer, action string) error {
	reviewer = strings.TrimSpace(reviewer)

	var counterpart string
	err := rs.store.Update(ctx, func(tx store.Tx) error {
		e, err := tx.Get(ctx, uid)
		if err != nil {
			return err
		}
		// An unknown uid is reported before a missing reviewer.
		if reviewer == "" {
			return errors.ValidationError(errors.CodeMissingField, "confirmed_by", reviewer, nil)
		}
		if e.MatchStatus != models.StatusMatched {
			return errors.InvalidTransition(uid, string(e.MatchStatus), action)
		}

		c, err := tx.Get(ctx, e.MatchedWith)
		if err != nil {
			if errors.IsCode(err, errors.CodeNotFound) {
				return errors.ReconciliationError(errors.CodeDataInconsistent, action,
					fmt.Errorf("entry %s points at missing counterpart %s", uid, e.MatchedWith))
			}
			return err
		}
		if c.MatchedWith != uid || c.MatchStatus != models.StatusMatched {
			return errors.ReconciliationError(errors.CodeDataInconsistent, action,
				fmt.Errorf("counterpart %s (%s) does not point back at %s", c.UID, c.MatchStatus, uid))
		}
		counterpart = c.UID

		now := rs.now()
		for _, side := range []*models.LedgerEntry{e, c} {
			if action == actionAccept {
				side.MatchStatus = models.StatusConfirmed
			} else {
				side.ClearMatch()
			}
			at := now
			side.ReviewedBy = reviewer
			side.ReviewedAt = &at
			if err := tx.Save(ctx, side); err != nil {
				return err
			}
		}
		return nil
	})

	rs.metrics.ObserveReview(action, err)
	fields := logger.Fields{"uid": uid, "action": action, "reviewer": reviewer}
	if err != nil {
		rs.logger.WithFields(fields).WithError(err).Warn("Review decision refused")
		return err
	}
	fields["counterpart"] = counterpart
	rs.logger.WithFields(fields).Info("Review decision applied")
	return nil
}
