package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// PartialUndoDetails is attached to PARTIAL_UNDO errors.
type PartialUndoDetails struct {
	OccurrenceID          string   `json:"occurrence_id"`
	UnreconciledCreditIDs []string `json:"unreconciled_credit_ids"`
	Expected              int      `json:"expected"`
	Removed               int      `json:"removed"`
}

// reversal summarises the credits an undo tried to take back.
type reversal struct {
	occurrenceID string
	expected     int
	removed      int
	unreconciled []string
}

// err is nil when every issued credit was removed.
func (r reversal) err() error {
	if len(r.unreconciled) == 0 && r.removed >= r.expected {
		return nil
	}
	return appErrors.WithDetails(appErrors.ErrPartialUndo, "", PartialUndoDetails{
		OccurrenceID:          r.occurrenceID,
		UnreconciledCreditIDs: append([]string{}, r.unreconciled...),
		Expected:              r.expected,
		Removed:               r.removed,
	})
}

// creditLedger issues and revokes credits on behalf of the engine services.
type creditLedger struct {
	credits  creditStore
	absences absenceStore
	metrics  *MetricsService
	cfg      EngineConfig
	logger   *zap.Logger
}

// issue stores a credit, filling quantity and validity defaults.
func (l creditLedger) issue(ctx context.Context, exec sqlx.ExtContext, credit *models.Credit) error {
	if credit.ID == "" {
		credit.ID = uuid.NewString()
	}
	if credit.Quantity <= 0 {
		credit.Quantity = 1
	}
	if credit.ValidUntil.IsZero() {
		credit.ValidUntil = l.cfg.CreditExpiry()
	}
	if credit.CreatedAt.IsZero() {
		credit.CreatedAt = l.cfg.Now().UTC()
	}
	if err := l.credits.Create(ctx, exec, credit); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue credit")
	}
	l.metrics.RecordCreditsIssued(string(credit.Source), 1)
	l.logger.Info("credit issued",
		zap.String("credit_id", credit.ID),
		zap.String("student_id", credit.StudentID),
		zap.String("source", string(credit.Source)),
	)
	return nil
}

// issueForNotice makes the credit of an eligible notice. The notice must already
// point at creditID.
func (l creditLedger) issueForNotice(ctx context.Context, exec sqlx.ExtContext, notice *models.AbsenceNotice, creditID string, occurrenceID *string, actor string) error {
	noticeID := notice.ID
	return l.issue(ctx, exec, &models.Credit{
		ID:                 creditID,
		StudentID:          notice.StudentID,
		Quantity:           1,
		Reason:             "absence notice " + models.FormatDate(notice.Date),
		Source:             models.CreditSourceAbsence,
		SourceAbsenceID:    &noticeID,
		SourceOccurrenceID: occurrenceID,
		CreatedBy:          actor,
	})
}

// reverseOccurrence removes every unused credit linked to rec. Redeemed credits
// stay and are reported; notices whose credit was removed go back to Pending.
func (l creditLedger) reverseOccurrence(ctx context.Context, exec sqlx.ExtContext, rec *models.OccurrenceRecord) (reversal, error) {
	out := reversal{occurrenceID: rec.ID, expected: rec.CreditsIssued}
	linked, err := l.credits.List(ctx, exec, models.CreditFilter{SourceOccurrenceID: rec.ID})
	if err != nil {
		return out, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list linked credits")
	}
	for _, c := range linked {
		if err := l.revoke(ctx, exec, c.ID); err != nil {
			if errors.Is(err, appErrors.ErrInvalidState) {
				out.unreconciled = append(out.unreconciled, c.ID)
				continue
			}
			return out, err
		}
		out.removed++
	}
	if out.expected < len(linked) {
		out.expected = len(linked)
	}
	if rec.State == models.OccurrenceCancelled {
		if err := l.reopenSuppressed(ctx, exec, rec.Key()); err != nil {
			return out, err
		}
	}
	if out.err() != nil {
		l.logger.Warn("occurrence undo left credits unreconciled",
			zap.String("occurrence_id", rec.ID),
			zap.Strings("credit_ids", out.unreconciled),
			zap.Int("expected", out.expected),
			zap.Int("removed", out.removed),
		)
	}
	return out, nil
}

// revoke deletes an unused credit and reopens a confirmed notice pointing at it.
// A consumed or vanished credit is INVALID_STATE.
func (l creditLedger) revoke(ctx context.Context, exec sqlx.ExtContext, creditID string) error {
	if err := l.credits.Delete(ctx, exec, creditID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidState, "credit already redeemed")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete credit")
	}
	notice, err := l.absences.FindByCredit(ctx, exec, creditID)
	switch {
	case err == nil:
		if notice.Status == models.AbsenceConfirmed {
			if err := l.absences.UpdateStatus(ctx, exec, notice.ID, models.AbsenceConfirmed, models.AbsencePending, nil); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reopen absence notice")
			}
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load absence notice")
	}
	return nil
}

// reopenSuppressed returns to Pending the eligible notices of key that were
// confirmed without a credit while the occurrence was cancelled.
func (l creditLedger) reopenSuppressed(ctx context.Context, exec sqlx.ExtContext, key models.OccurrenceKey) error {
	day := key.Date
	notices, err := l.absences.List(ctx, exec, models.AbsenceFilter{
		FixedSlotID: key.FixedSlotID,
		From:        &day,
		To:          &day,
		Statuses:    []models.AbsenceStatus{models.AbsenceConfirmed},
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list absence notices")
	}
	for _, n := range notices {
		if !n.EligibleForCredit || n.CreditID != nil {
			continue
		}
		if err := l.absences.UpdateStatus(ctx, exec, n.ID, models.AbsenceConfirmed, models.AbsencePending, nil); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reopen absence notice")
		}
	}
	return nil
}
