package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaoyanmate/kaoyanmate/models"
)

// Policy errors.
var (
	ErrNotLeave     = errors.New("check-in is not a leave request")
	ErrLeaveDecided = errors.New("leave request already decided")
)

// Policy decides, per business day, whether a user was delinquent or excused.
// Evaluation never fails destructively: when duration or goal data is missing
// the day counts as not covered, favoring flagging for human review.
type Policy struct {
	store  Store
	engine *Engine
	params Params
}

// NewPolicy builds the penalty/leave policy over the shared store and engine.
func NewPolicy(store Store, engine *Engine, params Params) *Policy {
	return &Policy{store: store, engine: engine, params: params}
}

// goalFor returns the user's effective daily goal in minutes.
func (p *Policy) goalFor(user *models.User) int {
	if user.DailyGoal > 0 {
		return user.DailyGoal
	}
	return p.params.DailyGoalMinutes
}

// LeaveCoversDate reports whether an approved leave's coverage range
// [businessDate(created), businessDate(created)+leaveDays-1] includes the day.
func (p *Policy) LeaveCoversDate(leave models.CheckIn, day time.Time) bool {
	if !leave.IsLeave || leave.LeaveStatus != models.LeaveApproved || leave.LeaveDays <= 0 {
		return false
	}
	start := p.params.Calendar.BusinessDate(leave.CreatedAt)
	end := start.AddDate(0, 0, leave.LeaveDays-1)
	return !day.Before(start) && !day.After(end)
}

// IsDayCovered reports whether the business day needs no penalty: either the
// user's study check-ins on that day meet the daily goal, or an approved
// leave covers it.
func (p *Policy) IsDayCovered(ctx context.Context, user *models.User, day time.Time) (bool, error) {
	// Entries belonging to this business day can carry wall-clock timestamps
	// up to the next day's cutoff hour.
	winStart := day
	winEnd := day.AddDate(0, 0, 2)
	checkins, err := p.store.ListCheckInsByUserAndRange(ctx, user.ID, winStart, winEnd)
	if err != nil {
		return false, fmt.Errorf("list check-ins: %w", err)
	}

	minutes := 0
	for _, ci := range checkins {
		if ci.IsPenalty || ci.IsLeave || isExemptedPenalty(ci) {
			continue
		}
		if p.params.Calendar.BusinessDate(ci.CreatedAt).Equal(day) {
			minutes += ci.Duration
		}
	}
	if minutes >= p.goalFor(user) {
		return true, nil
	}

	leaves, err := p.store.ListApprovedLeaves(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("list leaves: %w", err)
	}
	for _, leave := range leaves {
		if p.LeaveCoversDate(leave, day) {
			return true, nil
		}
	}
	return false, nil
}

// SweepDelinquent synthesizes penalties for every member and every strictly
// past business day, on or after the configured penalty start date, that is
// neither covered nor already penalized. Returns the number of penalties
// created. Per-user failures are collected without aborting the sweep.
func (p *Policy) SweepDelinquent(ctx context.Context, now time.Time) (int, error) {
	users, err := p.store.ListMembers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	today := p.params.Calendar.BusinessDate(now)
	created := 0
	var errs []error
	for i := range users {
		user := &users[i]
		n, err := p.sweepUser(ctx, user, today)
		created += n
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s (id=%d): %w", user.Username, user.ID, err))
		}
	}
	return created, errors.Join(errs...)
}

func (p *Policy) sweepUser(ctx context.Context, user *models.User, today time.Time) (int, error) {
	start := p.params.PenaltyStart
	// A user owes nothing for days before they joined.
	if joined := p.params.Calendar.BusinessDate(user.CreatedAt); joined.After(start) {
		start = joined
	}
	lastPast := today.AddDate(0, 0, -1)
	if start.After(lastPast) {
		return 0, nil
	}

	penalized, err := p.penalizedDays(ctx, user.ID, start, today)
	if err != nil {
		return 0, err
	}

	created := 0
	var sweepErr error
	EachDay(start, lastPast, func(day time.Time) {
		if sweepErr != nil {
			return
		}
		if penalized[day.Format("2006-01-02")] {
			return
		}
		covered, err := p.IsDayCovered(ctx, user, day)
		if err != nil {
			sweepErr = err
			return
		}
		if covered {
			return
		}
		if err := p.engine.ApplyPenalty(ctx, user, day); err != nil {
			sweepErr = err
			return
		}
		created++
	})
	return created, sweepErr
}

// penalizedDays collects business days that already carry a penalty marker,
// exempted or not, so the sweep never duplicates one.
func (p *Policy) penalizedDays(ctx context.Context, userID uint, start, end time.Time) (map[string]bool, error) {
	checkins, err := p.store.ListCheckInsByUserAndRange(ctx, userID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	days := make(map[string]bool)
	for _, ci := range checkins {
		if ci.IsPenalty || isExemptedPenalty(ci) {
			days[p.params.Calendar.BusinessDate(ci.CreatedAt).Format("2006-01-02")] = true
		}
	}
	return days, nil
}

// ApproveLeave flips a pending leave to approved, assigns the makeup-minute
// debt, and auto-exempts every already-created penalty whose business day
// falls inside the leave's coverage range, each with its own compensating
// ledger credit. Penalties outside the range are untouched.
func (p *Policy) ApproveLeave(ctx context.Context, leaveID uint) (exempted int, err error) {
	leave, err := p.store.GetCheckIn(ctx, leaveID)
	if err != nil {
		return 0, err
	}
	if !leave.IsLeave {
		return 0, ErrNotLeave
	}
	if leave.LeaveStatus != models.LeavePending {
		return 0, ErrLeaveDecided
	}

	leave.LeaveStatus = models.LeaveApproved
	leave.MakeupMinutes = p.params.LeaveMakeupPerDay * leave.LeaveDays
	if err := p.store.SaveCheckIn(ctx, leave); err != nil {
		return 0, fmt.Errorf("approve leave: %w", err)
	}

	start := p.params.Calendar.BusinessDate(leave.CreatedAt)
	end := start.AddDate(0, 0, leave.LeaveDays) // exclusive
	checkins, err := p.store.ListCheckInsByUserAndRange(ctx, leave.UserID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("scan penalties: %w", err)
	}
	for _, ci := range checkins {
		if !ci.IsPenalty {
			continue
		}
		day := p.params.Calendar.BusinessDate(ci.CreatedAt)
		if day.Before(start) || !day.Before(end) {
			continue
		}
		if _, err := p.engine.ExemptPenalty(ctx, ci.ID); err != nil {
			return exempted, fmt.Errorf("auto-exempt penalty %d: %w", ci.ID, err)
		}
		exempted++
	}
	return exempted, nil
}

// RejectLeave flips a pending leave to rejected.
func (p *Policy) RejectLeave(ctx context.Context, leaveID uint) error {
	leave, err := p.store.GetCheckIn(ctx, leaveID)
	if err != nil {
		return err
	}
	if !leave.IsLeave {
		return ErrNotLeave
	}
	if leave.LeaveStatus != models.LeavePending {
		return ErrLeaveDecided
	}
	leave.LeaveStatus = models.LeaveRejected
	return p.store.SaveCheckIn(ctx, leave)
}
