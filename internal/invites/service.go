package invites

import (
	"context"
	"errors"
	"fmt"

	"github.com/propview/viewings/backend/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingViewing  = errors.New("viewing identifier is required")
	errMissingLead     = errors.New("lead identifier is required")
	errEmptyLeadBatch  = errors.New("at least one lead identifier is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError wraps a failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the dotted operation code for logging and assertions.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "invites.service.new"
	opMark       = "invites.mark"
	opAdvance    = "invites.advance"
	opConfirm    = "invites.confirm"
	opList       = "invites.list"
	opDetail     = "invites.detail"
	opAdd        = "invites.add"
	opRemove     = "invites.remove"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ConfirmStatus is the structured outcome vocabulary of the confirmation
// protocol. Capacity exhaustion and repeat clicks are expected outcomes, not
// failures.
type ConfirmStatus string

const (
	// ConfirmSuccess is a first-time valid confirmation.
	ConfirmSuccess ConfirmStatus = "success"
	// ConfirmAlreadyAccepted is an idempotent re-click on a confirmed invite.
	ConfirmAlreadyAccepted ConfirmStatus = "already_accepted"
	// ConfirmFull means the viewing reached max_attendees first.
	ConfirmFull ConfirmStatus = "full"
	// ConfirmError covers a missing invite, a status outside the confirmable
	// state, or any unexpected failure.
	ConfirmError ConfirmStatus = "error"
)

// ServiceConfig describes the dependencies of the invite service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service owns the invite state machine and the capacity-safe confirmation
// protocol. All cross-request invariants live in the database; the service
// holds no mutable state.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the invite service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Mark creates one send_email invite per lead id inside a single transaction
// and returns the lead ids that were actually inserted. Pairs that already
// hold an invite are left untouched and excluded from the returned slice, so
// re-marking is idempotent; the batch either commits whole or not at all.
func (s *Service) Mark(ctx context.Context, viewingID string, leadIDs []string) ([]string, error) {
	if viewingID == "" {
		return nil, newServiceError(opMark, "missing_viewing_id", errMissingViewing)
	}
	if len(leadIDs) == 0 {
		return nil, newServiceError(opMark, "empty_batch", errEmptyLeadBatch)
	}

	rows := make([]Invite, 0, len(leadIDs))
	for _, leadID := range leadIDs {
		if leadID == "" {
			return nil, newServiceError(opMark, "missing_lead_id", errMissingLead)
		}
		rows = append(rows, Invite{ViewingID: viewingID, LeadID: leadID, Status: StatusSendEmail})
	}

	var newlyMarked []string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		err := tx.Model(&Invite{}).
			Where("viewing_id = ? AND lead_id IN ?", viewingID, leadIDs).
			Pluck("lead_id", &existing).Error
		if err != nil {
			return newServiceError(opMark, "select_failed", err)
		}
		alreadyMarked := make(map[string]bool, len(existing))
		for _, leadID := range existing {
			alreadyMarked[leadID] = true
		}

		err = tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "viewing_id"}, {Name: "lead_id"}},
				DoNothing: true,
			}).
			Create(&rows).Error
		if err != nil {
			return newServiceError(opMark, "insert_failed", err)
		}

		for _, leadID := range leadIDs {
			if !alreadyMarked[leadID] {
				newlyMarked = append(newlyMarked, leadID)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opMark, "transaction_failed", txErr, zap.String("viewing_id", viewingID))
		return nil, txErr
	}
	return newlyMarked, nil
}

// Advance moves the matched invites of a viewing to invited and returns the
// leads whose confirmation emails should be dispatched. Invites already past
// invited (accepted, attended, did_not_show) are skipped; re-advancing an
// invited pair is a no-op that still re-sends its email.
func (s *Service) Advance(ctx context.Context, viewingID string, leadIDs []string) ([]records.Lead, error) {
	if viewingID == "" {
		return nil, newServiceError(opAdvance, "missing_viewing_id", errMissingViewing)
	}
	if len(leadIDs) == 0 {
		return nil, newServiceError(opAdvance, "empty_batch", errEmptyLeadBatch)
	}

	var leads []records.Lead
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var matched []Invite
		err := tx.
			Where("viewing_id = ? AND lead_id IN ? AND status IN ?",
				viewingID, leadIDs, []Status{StatusSendEmail, StatusInvited}).
			Find(&matched).Error
		if err != nil {
			return newServiceError(opAdvance, "select_failed", err)
		}
		if len(matched) == 0 {
			return nil
		}

		matchedIDs := make([]string, 0, len(matched))
		for _, invite := range matched {
			matchedIDs = append(matchedIDs, invite.LeadID)
		}

		err = tx.Model(&Invite{}).
			Where("viewing_id = ? AND lead_id IN ?", viewingID, matchedIDs).
			Update("status", StatusInvited).Error
		if err != nil {
			return newServiceError(opAdvance, "update_failed", err)
		}

		if err := tx.Where("id IN ?", matchedIDs).Find(&leads).Error; err != nil {
			return newServiceError(opAdvance, "lead_select_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opAdvance, "transaction_failed", txErr, zap.String("viewing_id", viewingID))
		return nil, txErr
	}
	return leads, nil
}

// Confirm admits a lead into a viewing, capacity permitting. The status
// pre-check, the conditional counter increment and the accepted transition run
// in one transaction, so two concurrent confirmations can never both succeed
// past a full viewing and a committed increment is never left without its
// status change.
func (s *Service) Confirm(ctx context.Context, leadID, viewingID string) (ConfirmStatus, error) {
	if leadID == "" || viewingID == "" {
		return ConfirmError, newServiceError(opConfirm, "missing_identifier", errMissingLead)
	}

	outcome := ConfirmError
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invite Invite
		err := tx.
			Where("viewing_id = ? AND lead_id = ?", viewingID, leadID).
			Take(&invite).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = ConfirmError
			return nil
		}
		if err != nil {
			return newServiceError(opConfirm, "invite_select_failed", err)
		}

		if invite.Status != StatusInvited {
			if invite.Status == StatusAccepted {
				outcome = ConfirmAlreadyAccepted
			} else {
				outcome = ConfirmError
			}
			return nil
		}

		// The capacity check and the increment are one statement; the storage
		// engine evaluates the condition and the effect atomically.
		result := tx.Model(&records.Viewing{}).
			Where("id = ? AND attending < max_attendees", viewingID).
			UpdateColumn("attending", gorm.Expr("attending + 1"))
		if result.Error != nil {
			return newServiceError(opConfirm, "capacity_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			outcome = ConfirmFull
			return nil
		}

		err = tx.Model(&Invite{}).
			Where("viewing_id = ? AND lead_id = ?", viewingID, leadID).
			Update("status", StatusAccepted).Error
		if err != nil {
			return newServiceError(opConfirm, "status_update_failed", err)
		}
		outcome = ConfirmSuccess
		return nil
	})
	if txErr != nil {
		s.logError(opConfirm, "transaction_failed", txErr,
			zap.String("viewing_id", viewingID), zap.String("lead_id", leadID))
		return ConfirmError, txErr
	}
	return outcome, nil
}

// List returns the per-lead status of every invite of a viewing.
func (s *Service) List(ctx context.Context, viewingID string) ([]Summary, error) {
	if viewingID == "" {
		return nil, newServiceError(opList, "missing_viewing_id", errMissingViewing)
	}
	summaries := make([]Summary, 0)
	err := s.db.WithContext(ctx).Model(&Invite{}).
		Select("lead_id", "status").
		Where("viewing_id = ?", viewingID).
		Scan(&summaries).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("viewing_id", viewingID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return summaries, nil
}

// Detail returns the joined lead and viewing fields of a single invite, as
// needed to render its confirmation email.
func (s *Service) Detail(ctx context.Context, viewingID, leadID string) (Detail, error) {
	if viewingID == "" || leadID == "" {
		return Detail{}, newServiceError(opDetail, "missing_identifier", errMissingLead)
	}
	var detail Detail
	result := s.db.WithContext(ctx).
		Table("property_invites AS i").
		Select("l.first_name, l.last_name, l.email, v.name AS viewing_name, v.location, v.date_and_time").
		Joins("JOIN property_leads l ON i.lead_id = l.id").
		Joins("JOIN property_viewings v ON i.viewing_id = v.id").
		Where("i.viewing_id = ? AND i.lead_id = ?", viewingID, leadID).
		Scan(&detail)
	if result.Error != nil {
		s.logError(opDetail, "query_failed", result.Error,
			zap.String("viewing_id", viewingID), zap.String("lead_id", leadID))
		return Detail{}, newServiceError(opDetail, "query_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Detail{}, ErrInviteNotFound
	}
	return detail, nil
}

// Add marks a single pair. ErrAlreadyMarked is returned when the pair already
// holds an invite.
func (s *Service) Add(ctx context.Context, viewingID, leadID string) error {
	if viewingID == "" || leadID == "" {
		return newServiceError(opAdd, "missing_identifier", errMissingLead)
	}
	invite := Invite{ViewingID: viewingID, LeadID: leadID, Status: StatusSendEmail}
	err := s.db.WithContext(ctx).Create(&invite).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyMarked
	}
	if err != nil {
		s.logError(opAdd, "insert_failed", err,
			zap.String("viewing_id", viewingID), zap.String("lead_id", leadID))
		return newServiceError(opAdd, "insert_failed", err)
	}
	return nil
}

// Remove deletes a single pair. Removing an absent pair is a no-op.
func (s *Service) Remove(ctx context.Context, viewingID, leadID string) error {
	if viewingID == "" || leadID == "" {
		return newServiceError(opRemove, "missing_identifier", errMissingLead)
	}
	err := s.db.WithContext(ctx).
		Where("viewing_id = ? AND lead_id = ?", viewingID, leadID).
		Delete(&Invite{}).Error
	if err != nil {
		s.logError(opRemove, "delete_failed", err,
			zap.String("viewing_id", viewingID), zap.String("lead_id", leadID))
		return newServiceError(opRemove, "delete_failed", err)
	}
	return nil
}

// ErrAlreadyMarked indicates the (viewing, lead) pair already holds an invite.
var ErrAlreadyMarked = errors.New("invites: pair already marked")

// ErrInviteNotFound indicates the (viewing, lead) pair holds no invite.
var ErrInviteNotFound = errors.New("invites: invite not found")

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("invite service error", attrs...)
}
