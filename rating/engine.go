package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaoyanmate/kaoyanmate/models"
)

// Engine errors.
var (
	ErrNotPenalty    = errors.New("check-in is not a penalty")
	ErrEntryMismatch = errors.New("ledger entry does not belong to user")
)

// Progress reports per-event replay progress as (processed, total).
type Progress func(processed, total int)

// BatchProgress reports per-user progress during a full recompute.
type BatchProgress func(index, total int, username string)

// Engine is the single authority that mutates a user's rating and appends
// auditable history. Every rating change flows through ApplyEvent; there is
// no silent mutation path.
type Engine struct {
	store  Store
	params Params
}

// NewEngine builds an engine over the given store.
func NewEngine(store Store, params Params) *Engine {
	return &Engine{store: store, params: params}
}

// Params exposes the engine's policy numbers to read-side consumers.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) delta(ev Event) int {
	switch ev.Kind {
	case KindCheckIn:
		return e.params.CheckInReward
	case KindBonus:
		return e.params.BonusPoints
	case KindPenalty, KindExemption, KindAdjust:
		// Penalties carry their own magnitude so a replay deducts what the row
		// actually cost, not whatever the configuration says today.
		return ev.Magnitude
	}
	return 0
}

// ApplyEvent computes the new absolute rating after the event, clamped to the
// configured floor, and produces the single ledger entry recording it. A
// zero-delta event changes nothing and yields no entry.
func (e *Engine) ApplyEvent(userID uint, current int, ev Event) (int, *models.RatingHistory) {
	delta := e.delta(ev)
	if delta == 0 {
		return current, nil
	}
	next := e.params.clamp(current + delta)
	if next == current {
		return current, nil
	}
	entry := &models.RatingHistory{
		UserID:       userID,
		Rating:       next,
		ChangeReason: TransitionReason(current, next, ev.Label),
		RecordedAt:   ev.At,
	}
	return next, entry
}

// collectEvents gathers every qualifying event for the user in [start, end),
// in chronological order with insertion-order tie-breaks. An exempted penalty
// contributes both its penalty and the compensating credit, so replaying the
// window reproduces the user's net rating.
func (e *Engine) collectEvents(ctx context.Context, userID uint, start, end time.Time) ([]Event, error) {
	checkins, err := e.store.ListCheckInsByUserAndRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}

	var events []Event
	for _, ci := range checkins {
		seq := int64(ci.ID) * 2
		switch {
		case ci.IsLeave:
			// leave requests never move the rating directly
		case ci.IsPenalty:
			events = append(events, Event{Kind: KindPenalty, At: ci.CreatedAt, Seq: seq, Label: LabelPenalty, Magnitude: -e.penaltyMagnitude(ci), Ref: ci.ID})
		case isExemptedPenalty(ci):
			// Penalty and credit share the embedded magnitude so the pair nets
			// to zero no matter what the penalty configuration is now.
			m := e.penaltyMagnitude(ci)
			events = append(events, Event{Kind: KindPenalty, At: ci.CreatedAt, Seq: seq, Label: LabelPenalty, Magnitude: -m, Ref: ci.ID})
			// Keep the credit inside the replay window so a rewrite of this
			// slice stays idempotent even when the exemption was granted later.
			// A credit granted after end leaves its live ledger row behind in
			// the later window; recomputing that window clears it.
			at := ci.UpdatedAt
			if at.Before(start) || !at.Before(end) {
				at = ci.CreatedAt
			}
			events = append(events, Event{
				Kind:      KindExemption,
				At:        at,
				Seq:       seq + 1,
				Label:     LabelExempt,
				Magnitude: m,
				Ref:       ci.ID,
			})
		default:
			events = append(events, Event{Kind: KindCheckIn, At: ci.CreatedAt, Seq: seq, Label: LabelCheckIn, Ref: ci.ID})
		}
	}

	subs, err := e.store.ListPassedSubmissions(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	for _, sub := range subs {
		events = append(events, Event{Kind: KindBonus, At: sub.CreatedAt, Seq: int64(sub.ID)*2 + 1, Label: LabelBonus, Ref: sub.ID})
	}

	sortEvents(events)
	return events, nil
}

// baseRating resolves the start-of-window value: the explicit override when
// supplied, otherwise the rating as of the instant before start, otherwise
// the configured default.
func (e *Engine) baseRating(ctx context.Context, userID uint, start time.Time, override *int) (int, error) {
	if override != nil {
		return *override, nil
	}
	prev, err := e.store.LatestLedgerBefore(ctx, userID, start)
	if errors.Is(err, ErrNotFound) {
		return e.params.DefaultRating, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve base rating: %w", err)
	}
	return prev.Rating, nil
}

// RecalculateRange deterministically replays the user's history over
// [start, end): it discards the prior ledger slice in that window and rewrites
// it from the freshly computed event sequence. Running it twice with the same
// inputs produces an identical final rating and an identical ledger sequence.
// A failed write halts the replay at the last successfully written event; the
// partially replayed window is corrected by retrying the same range.
//
// An exemption granted after end is replayed inside this window at its
// penalty's position, while the credit entry written live at grant time sits
// in a later window. Both windows show the credit until the later one is also
// recomputed, which drops the live row.
func (e *Engine) RecalculateRange(ctx context.Context, userID uint, start, end time.Time, base *int, progress Progress) (int, error) {
	current, err := e.baseRating(ctx, userID, start, base)
	if err != nil {
		return 0, err
	}

	events, err := e.collectEvents(ctx, userID, start, end)
	if err != nil {
		return 0, err
	}

	if err := e.store.DeleteLedgerSlice(ctx, userID, start, end); err != nil {
		return 0, fmt.Errorf("clear ledger slice: %w", err)
	}

	total := len(events)
	for i, ev := range events {
		next, entry := e.ApplyEvent(userID, current, ev)
		if entry != nil {
			if err := e.store.InsertLedgerEntry(ctx, entry); err != nil {
				// Leave the user consistent with the last written entry.
				_ = e.store.UpdateUserRating(ctx, userID, current)
				return current, fmt.Errorf("replay halted after %d/%d events: %w", i, total, err)
			}
		}
		current = next
		if progress != nil {
			progress(i+1, total)
		}
	}

	if err := e.store.UpdateUserRating(ctx, userID, current); err != nil {
		return current, fmt.Errorf("update user rating: %w", err)
	}
	return current, nil
}

// RecalculateAll applies RecalculateRange to every non-admin user
// sequentially. One user's failure is reported but does not abort the batch;
// the failing user's window is either fully rewritten up to the failure point
// or untouched, never silently corrupted.
func (e *Engine) RecalculateAll(ctx context.Context, start, end time.Time, base *int, progress BatchProgress) error {
	users, err := e.store.ListMembers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	var errs []error
	for i, u := range users {
		if progress != nil {
			progress(i+1, len(users), u.Username)
		}
		if _, err := e.RecalculateRange(ctx, u.ID, start, end, base, nil); err != nil {
			errs = append(errs, fmt.Errorf("user %s (id=%d): %w", u.Username, u.ID, err))
		}
	}
	return errors.Join(errs...)
}

// DeleteLedgerEntry removes one ledger row and applies the signed refund
// directly to the user's current rating, clamped to the floor. This is an
// explicit escape hatch for correcting a single bad entry; it does not replay
// history and is not required to reconcile with a later recompute.
func (e *Engine) DeleteLedgerEntry(ctx context.Context, entryID, userID uint, refund int) error {
	entry, err := e.store.GetLedgerEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.UserID != userID {
		return ErrEntryMismatch
	}
	if err := e.store.DeleteLedgerEntry(ctx, entryID); err != nil {
		return fmt.Errorf("delete ledger entry: %w", err)
	}
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	return e.store.UpdateUserRating(ctx, userID, e.params.clamp(user.Rating+refund))
}

// ExemptPenalty voids a penalty check-in without deleting it and credits the
// penalty's own magnitude back to the user. Calling it on an already exempted
// penalty is a no-op.
func (e *Engine) ExemptPenalty(ctx context.Context, checkinID uint) (int, error) {
	ci, err := e.store.GetCheckIn(ctx, checkinID)
	if err != nil {
		return 0, err
	}
	if !ci.IsPenalty {
		if isExemptedPenalty(*ci) {
			return 0, nil
		}
		return 0, ErrNotPenalty
	}

	credit := e.penaltyMagnitude(*ci)
	ci.IsPenalty = false
	ci.Content = fmt.Sprintf("%s（%s +%d）", ci.Content, ExemptMarker, credit)
	if err := e.store.SaveCheckIn(ctx, ci); err != nil {
		return 0, fmt.Errorf("mark penalty exempted: %w", err)
	}

	if err := e.applyAndRecord(ctx, ci.UserID, Event{
		Kind:      KindExemption,
		At:        time.Now(),
		Label:     LabelExempt,
		Magnitude: credit,
		Ref:       ci.ID,
	}); err != nil {
		return 0, err
	}
	return credit, nil
}

// ApplyPenalty synthesizes the delinquency marker for one uncovered business
// day and records its rating effect. The check-in content carries the
// explicit transition so the magnitude survives later policy changes.
func (e *Engine) ApplyPenalty(ctx context.Context, user *models.User, day time.Time) error {
	at := day.Add(23*time.Hour + 59*time.Minute)
	next := e.params.clamp(user.Rating - e.params.PenaltyPoints)
	ci := &models.CheckIn{
		UserID:    user.ID,
		Subject:   "其他",
		Content:   fmt.Sprintf("%s：%s 未完成当日学习目标（R: %d->%d）", LabelPenalty, day.Format("2006-01-02"), user.Rating, next),
		IsPenalty: true,
		CreatedAt: at,
	}
	if err := e.store.CreateCheckIn(ctx, ci); err != nil {
		return fmt.Errorf("create penalty check-in: %w", err)
	}
	if err := e.applyAndRecord(ctx, user.ID, Event{Kind: KindPenalty, At: at, Label: LabelPenalty, Magnitude: -e.params.PenaltyPoints, Ref: ci.ID}); err != nil {
		return err
	}
	user.Rating = next
	return nil
}

// CreditRemovedPenalty reverses the rating effect of a penalty check-in that
// is about to be deleted. Exempted penalties were already credited.
func (e *Engine) CreditRemovedPenalty(ctx context.Context, ci models.CheckIn) error {
	if !ci.IsPenalty {
		return nil
	}
	return e.applyAndRecord(ctx, ci.UserID, Event{
		Kind:      KindAdjust,
		At:        time.Now(),
		Label:     LabelAdjust,
		Magnitude: e.penaltyMagnitude(ci),
		Ref:       ci.ID,
	})
}

// AwardCheckIn credits the configured per-check-in reward, if any.
func (e *Engine) AwardCheckIn(ctx context.Context, userID uint, ci models.CheckIn) error {
	return e.applyAndRecord(ctx, userID, Event{Kind: KindCheckIn, At: ci.CreatedAt, Label: LabelCheckIn, Ref: ci.ID})
}

// AwardSubmissionBonus credits the fixed bonus for a passing submission.
func (e *Engine) AwardSubmissionBonus(ctx context.Context, userID uint, sub models.AlgorithmSubmission) error {
	return e.applyAndRecord(ctx, userID, Event{Kind: KindBonus, At: sub.CreatedAt, Label: LabelBonus, Ref: sub.ID})
}

// SeedInitialRating writes the birth ledger entry; a user's ledger always
// starts with one of these.
func (e *Engine) SeedInitialRating(ctx context.Context, userID uint) error {
	return e.store.InsertLedgerEntry(ctx, &models.RatingHistory{
		UserID:       userID,
		Rating:       e.params.DefaultRating,
		ChangeReason: TransitionReason(e.params.DefaultRating, e.params.DefaultRating, LabelInitial),
		RecordedAt:   time.Now(),
	})
}

// applyAndRecord runs one live event against the user's current rating.
func (e *Engine) applyAndRecord(ctx context.Context, userID uint, ev Event) error {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	next, entry := e.ApplyEvent(userID, user.Rating, ev)
	if entry == nil {
		return nil
	}
	if err := e.store.InsertLedgerEntry(ctx, entry); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := e.store.UpdateUserRating(ctx, userID, next); err != nil {
		return fmt.Errorf("update user rating: %w", err)
	}
	return nil
}

// penaltyMagnitude recovers how much a penalty cost: the transition embedded
// in its content when present, otherwise the configured default. A penalty
// applied at the floor embeds a zero transition and costs zero; exempting it
// must credit zero, not the configured points.
func (e *Engine) penaltyMagnitude(ci models.CheckIn) int {
	if old, new, ok := ParseTransition(ci.Content); ok {
		return old - new
	}
	return e.params.PenaltyPoints
}

func isExemptedPenalty(ci models.CheckIn) bool {
	return !ci.IsPenalty && !ci.IsLeave && containsExemptMarker(ci.Content)
}
