package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("records: database handle is required")
	errMissingIDProvider = errors.New("records: id provider is required")

	// ErrInvalidRecord indicates required fields were missing or out of range.
	ErrInvalidRecord = errors.New("records: invalid record")
)

// StoreConfig describes the dependencies of the record store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store provides typed create/read/update/delete access to viewings and leads.
// It is the sole writer of their persisted state; no table state is cached
// beyond a single call.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs the record store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, idProvider: cfg.IDProvider, logger: logger}, nil
}

// CreateViewing inserts a viewing, generating an id when none is supplied, and
// returns the stored id.
func (s *Store) CreateViewing(ctx context.Context, viewing Viewing) (string, error) {
	if viewing.MaxAttendees <= 0 {
		return "", fmt.Errorf("%w: max_attendees must be positive", ErrInvalidRecord)
	}
	viewing.Attending = 0
	id, err := s.createWithID(ctx, viewing.ID, func(id string) error {
		viewing.ID = id
		return s.db.WithContext(ctx).Create(&viewing).Error
	})
	if err != nil {
		s.logger.Error("viewing insert failed", zap.Error(err))
		return "", err
	}
	return id, nil
}

// UpdateViewing rewrites the editable columns of a viewing. The attending
// counter is owned by the confirmation protocol and is never touched here.
func (s *Store) UpdateViewing(ctx context.Context, viewing Viewing) (Viewing, error) {
	if strings.TrimSpace(viewing.ID) == "" {
		return Viewing{}, fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if viewing.MaxAttendees <= 0 {
		return Viewing{}, fmt.Errorf("%w: max_attendees must be positive", ErrInvalidRecord)
	}
	result := s.db.WithContext(ctx).Model(&Viewing{}).
		Where("id = ?", viewing.ID).
		Updates(map[string]interface{}{
			"name":          viewing.Name,
			"location":      viewing.Location,
			"date_and_time": viewing.DateAndTime,
			"max_attendees": viewing.MaxAttendees,
		})
	if result.Error != nil {
		s.logger.Error("viewing update failed", zap.Error(result.Error), zap.String("viewing_id", viewing.ID))
		return Viewing{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Viewing{}, ErrNotFound
	}
	var stored Viewing
	if err := s.db.WithContext(ctx).Take(&stored, "id = ?", viewing.ID).Error; err != nil {
		return Viewing{}, err
	}
	return stored, nil
}

// DeleteViewing removes a viewing; its invites cascade away with it.
func (s *Store) DeleteViewing(ctx context.Context, id string) error {
	return s.deleteByID(ctx, &Viewing{}, id)
}

// ListViewings returns all viewings, newest first.
func (s *Store) ListViewings(ctx context.Context) ([]Viewing, error) {
	var viewings []Viewing
	if err := s.db.WithContext(ctx).Order("id desc").Find(&viewings).Error; err != nil {
		s.logger.Error("viewing list failed", zap.Error(err))
		return nil, err
	}
	return viewings, nil
}

// CreateLead inserts a lead, generating an id when none is supplied, and
// returns the stored id.
func (s *Store) CreateLead(ctx context.Context, lead Lead) (string, error) {
	id, err := s.createWithID(ctx, lead.ID, func(id string) error {
		lead.ID = id
		return s.db.WithContext(ctx).Create(&lead).Error
	})
	if err != nil {
		s.logger.Error("lead insert failed", zap.Error(err))
		return "", err
	}
	return id, nil
}

// UpdateLead rewrites the editable columns of a lead.
func (s *Store) UpdateLead(ctx context.Context, lead Lead) (Lead, error) {
	if strings.TrimSpace(lead.ID) == "" {
		return Lead{}, fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	result := s.db.WithContext(ctx).Model(&Lead{}).
		Where("id = ?", lead.ID).
		Updates(map[string]interface{}{
			"first_name": lead.FirstName,
			"last_name":  lead.LastName,
			"email":      lead.Email,
		})
	if result.Error != nil {
		s.logger.Error("lead update failed", zap.Error(result.Error), zap.String("lead_id", lead.ID))
		return Lead{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Lead{}, ErrNotFound
	}
	var stored Lead
	if err := s.db.WithContext(ctx).Take(&stored, "id = ?", lead.ID).Error; err != nil {
		return Lead{}, err
	}
	return stored, nil
}

// DeleteLead removes a lead; its invites cascade away with it.
func (s *Store) DeleteLead(ctx context.Context, id string) error {
	return s.deleteByID(ctx, &Lead{}, id)
}

// ListLeads returns all leads, newest first.
func (s *Store) ListLeads(ctx context.Context) ([]Lead, error) {
	var leads []Lead
	if err := s.db.WithContext(ctx).Order("id desc").Find(&leads).Error; err != nil {
		s.logger.Error("lead list failed", zap.Error(err))
		return nil, err
	}
	return leads, nil
}

// createWithID runs insert with the supplied id, or a generated one. A
// generated id that collides inside the same millisecond is retried once with
// a fresh suffix before the conflict is surfaced.
func (s *Store) createWithID(ctx context.Context, suppliedID string, insert func(id string) error) (string, error) {
	id := strings.TrimSpace(suppliedID)
	generated := false
	if id == "" {
		fresh, err := s.idProvider.NewID()
		if err != nil {
			return "", err
		}
		id = fresh
		generated = true
	}

	err := insert(id)
	if err == nil {
		return id, nil
	}
	if !generated || !errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", err
	}

	retryID, idErr := s.idProvider.NewID()
	if idErr != nil {
		return "", idErr
	}
	s.logger.Warn("generated id collided, retrying", zap.String("id", id))
	if err := insert(retryID); err != nil {
		return "", err
	}
	return retryID, nil
}

func (s *Store) deleteByID(ctx context.Context, model interface{}, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(model)
	if result.Error != nil {
		s.logger.Error("record delete failed", zap.Error(result.Error), zap.String("id", id))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
