package rating

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/kaoyanmate/kaoyanmate/models"
)

// stubStore is an in-memory Store for exercising the engine and policy
// without a database. Write failures are injectable for halt-path tests.
type stubStore struct {
	users    map[uint]*models.User
	checkins map[uint]*models.CheckIn
	subs     []models.AlgorithmSubmission
	ledger   []models.RatingHistory

	nextCheckinID uint
	nextEntryID   uint

	insertCount int
	failInsert  func(n int) error // nil means never fail
}

func newStubStore() *stubStore {
	return &stubStore{
		users:         make(map[uint]*models.User),
		checkins:      make(map[uint]*models.CheckIn),
		nextCheckinID: 1,
		nextEntryID:   1,
	}
}

func (s *stubStore) addUser(u models.User) *models.User {
	cp := u
	s.users[cp.ID] = &cp
	return s.users[cp.ID]
}

func (s *stubStore) addCheckIn(ci models.CheckIn) *models.CheckIn {
	cp := ci
	if cp.ID == 0 {
		cp.ID = s.nextCheckinID
	}
	if cp.ID >= s.nextCheckinID {
		s.nextCheckinID = cp.ID + 1
	}
	s.checkins[cp.ID] = &cp
	return s.checkins[cp.ID]
}

func (s *stubStore) GetUser(_ context.Context, id uint) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubStore) ListMembers(_ context.Context) ([]models.User, error) {
	var out []models.User
	for _, u := range s.users {
		if u.Role != models.RoleAdmin {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) UpdateUserRating(_ context.Context, id uint, rating int) error {
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Rating = rating
	return nil
}

func (s *stubStore) GetCheckIn(_ context.Context, id uint) (*models.CheckIn, error) {
	ci, ok := s.checkins[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ci
	return &cp, nil
}

func (s *stubStore) CreateCheckIn(_ context.Context, ci *models.CheckIn) error {
	ci.ID = s.nextCheckinID
	s.nextCheckinID++
	cp := *ci
	s.checkins[cp.ID] = &cp
	return nil
}

func (s *stubStore) SaveCheckIn(_ context.Context, ci *models.CheckIn) error {
	if _, ok := s.checkins[ci.ID]; !ok {
		return ErrNotFound
	}
	cp := *ci
	cp.UpdatedAt = time.Now()
	s.checkins[cp.ID] = &cp
	return nil
}

func (s *stubStore) ListCheckInsByUserAndRange(_ context.Context, userID uint, start, end time.Time) ([]models.CheckIn, error) {
	var out []models.CheckIn
	for _, ci := range s.checkins {
		if ci.UserID != userID {
			continue
		}
		if ci.CreatedAt.Before(start) || !ci.CreatedAt.Before(end) {
			continue
		}
		out = append(out, *ci)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *stubStore) ListApprovedLeaves(_ context.Context, userID uint) ([]models.CheckIn, error) {
	var out []models.CheckIn
	for _, ci := range s.checkins {
		if ci.UserID == userID && ci.IsLeave && ci.LeaveStatus == models.LeaveApproved {
			out = append(out, *ci)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *stubStore) ListPassedSubmissions(_ context.Context, userID uint, start, end time.Time) ([]models.AlgorithmSubmission, error) {
	var out []models.AlgorithmSubmission
	for _, sub := range s.subs {
		if sub.UserID != userID || sub.Status != models.SubmissionPassed {
			continue
		}
		if sub.CreatedAt.Before(start) || !sub.CreatedAt.Before(end) {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *stubStore) InsertLedgerEntry(_ context.Context, entry *models.RatingHistory) error {
	s.insertCount++
	if s.failInsert != nil {
		if err := s.failInsert(s.insertCount); err != nil {
			return err
		}
	}
	entry.ID = s.nextEntryID
	s.nextEntryID++
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *stubStore) GetLedgerEntry(_ context.Context, id uint) (*models.RatingHistory, error) {
	for _, e := range s.ledger {
		if e.ID == id {
			cp := e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) DeleteLedgerEntry(_ context.Context, id uint) error {
	for i, e := range s.ledger {
		if e.ID == id {
			s.ledger = append(s.ledger[:i], s.ledger[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *stubStore) DeleteLedgerSlice(_ context.Context, userID uint, start, end time.Time) error {
	kept := s.ledger[:0]
	for _, e := range s.ledger {
		if e.UserID == userID && !e.RecordedAt.Before(start) && e.RecordedAt.Before(end) {
			continue
		}
		kept = append(kept, e)
	}
	s.ledger = kept
	return nil
}

func (s *stubStore) LatestLedgerBefore(_ context.Context, userID uint, t time.Time) (*models.RatingHistory, error) {
	var best *models.RatingHistory
	for i := range s.ledger {
		e := &s.ledger[i]
		if e.UserID != userID || !e.RecordedAt.Before(t) {
			continue
		}
		if best == nil || e.RecordedAt.After(best.RecordedAt) ||
			(e.RecordedAt.Equal(best.RecordedAt) && e.ID > best.ID) {
			best = e
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *stubStore) ListLedger(_ context.Context, userID uint) ([]models.RatingHistory, error) {
	var out []models.RatingHistory
	for _, e := range s.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (s *stubStore) userLedger(userID uint) []models.RatingHistory {
	out, _ := s.ListLedger(context.Background(), userID)
	return out
}

var errStubWrite = errors.New("stub write failure")
