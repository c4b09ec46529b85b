package rating

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kaoyanmate/kaoyanmate/models"
)

// Store sentinel errors.
var (
	ErrNotFound = errors.New("record not found")
)

// Store is the record-store contract the engine and policy depend on. All
// operations hit the remote database and may fail with a connectivity error;
// each call is a discrete write so a failure mid-replay leaves a well-defined
// partially replayed ledger that an idempotent retry fully overwrites.
type Store interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	ListMembers(ctx context.Context) ([]models.User, error)
	UpdateUserRating(ctx context.Context, id uint, rating int) error

	GetCheckIn(ctx context.Context, id uint) (*models.CheckIn, error)
	CreateCheckIn(ctx context.Context, ci *models.CheckIn) error
	SaveCheckIn(ctx context.Context, ci *models.CheckIn) error
	ListCheckInsByUserAndRange(ctx context.Context, userID uint, start, end time.Time) ([]models.CheckIn, error)
	ListApprovedLeaves(ctx context.Context, userID uint) ([]models.CheckIn, error)

	ListPassedSubmissions(ctx context.Context, userID uint, start, end time.Time) ([]models.AlgorithmSubmission, error)

	InsertLedgerEntry(ctx context.Context, entry *models.RatingHistory) error
	GetLedgerEntry(ctx context.Context, id uint) (*models.RatingHistory, error)
	DeleteLedgerEntry(ctx context.Context, id uint) error
	DeleteLedgerSlice(ctx context.Context, userID uint, start, end time.Time) error
	LatestLedgerBefore(ctx context.Context, userID uint, t time.Time) (*models.RatingHistory, error)
	ListLedger(ctx context.Context, userID uint) ([]models.RatingHistory, error)
}

// gormStore backs Store with the application's gorm connection.
type gormStore struct {
	db *gorm.DB
}

// NewStore wraps a gorm DB in the Store contract.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}

func (s *gormStore) ListMembers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("role <> ?", models.RoleAdmin).
		Order("id ASC").
		Find(&users).Error
	return users, err
}

func (s *gormStore) UpdateUserRating(ctx context.Context, id uint, rating int) error {
	return s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("rating", rating).Error
}

func (s *gormStore) GetCheckIn(ctx context.Context, id uint) (*models.CheckIn, error) {
	var ci models.CheckIn
	if err := s.db.WithContext(ctx).First(&ci, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &ci, nil
}

func (s *gormStore) CreateCheckIn(ctx context.Context, ci *models.CheckIn) error {
	return s.db.WithContext(ctx).Create(ci).Error
}

func (s *gormStore) SaveCheckIn(ctx context.Context, ci *models.CheckIn) error {
	return s.db.WithContext(ctx).Save(ci).Error
}

func (s *gormStore) ListCheckInsByUserAndRange(ctx context.Context, userID uint, start, end time.Time) ([]models.CheckIn, error) {
	var items []models.CheckIn
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start, end).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (s *gormStore) ListApprovedLeaves(ctx context.Context, userID uint) ([]models.CheckIn, error) {
	var items []models.CheckIn
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_leave = ? AND leave_status = ?", userID, true, models.LeaveApproved).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (s *gormStore) ListPassedSubmissions(ctx context.Context, userID uint, start, end time.Time) ([]models.AlgorithmSubmission, error) {
	var items []models.AlgorithmSubmission
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND created_at >= ? AND created_at < ?", userID, models.SubmissionPassed, start, end).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (s *gormStore) InsertLedgerEntry(ctx context.Context, entry *models.RatingHistory) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *gormStore) GetLedgerEntry(ctx context.Context, id uint) (*models.RatingHistory, error) {
	var e models.RatingHistory
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &e, nil
}

func (s *gormStore) DeleteLedgerEntry(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.RatingHistory{}, id).Error
}

func (s *gormStore) DeleteLedgerSlice(ctx context.Context, userID uint, start, end time.Time) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND recorded_at >= ? AND recorded_at < ?", userID, start, end).
		Delete(&models.RatingHistory{}).Error
}

func (s *gormStore) LatestLedgerBefore(ctx context.Context, userID uint, t time.Time) (*models.RatingHistory, error) {
	var e models.RatingHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND recorded_at < ?", userID, t).
		Order("recorded_at DESC, id DESC").
		First(&e).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &e, nil
}

func (s *gormStore) ListLedger(ctx context.Context, userID uint) ([]models.RatingHistory, error) {
	var entries []models.RatingHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("recorded_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
