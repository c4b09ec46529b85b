package rating

import (
	"time"

	"github.com/kaoyanmate/kaoyanmate/config"
)

// Params carries the rating policy numbers the engine and policy read.
// Every magnitude comes from configuration; the engine hardcodes none of them.
type Params struct {
	DefaultRating     int
	Floor             int
	PenaltyPoints     int
	BonusPoints       int
	CheckInReward     int
	DailyGoalMinutes  int
	LeaveMakeupPerDay int
	PenaltyStart      time.Time
	Calendar          Calendar
}

// ParamsFromConfig builds engine parameters from the loaded application config.
func ParamsFromConfig(c config.AppConfig) Params {
	return Params{
		DefaultRating:     c.DefaultRating,
		Floor:             c.RatingFloor,
		PenaltyPoints:     c.PenaltyPoints,
		BonusPoints:       c.AlgoBonusPoints,
		CheckInReward:     c.CheckinRewardPoints,
		DailyGoalMinutes:  c.DailyGoalMinutes,
		LeaveMakeupPerDay: c.LeaveMakeupPerDay,
		PenaltyStart:      c.PenaltyStart(),
		Calendar:          Calendar{CutoffHour: c.BusinessDayCutoffHour},
	}
}

func (p Params) clamp(v int) int {
	if v < p.Floor {
		return p.Floor
	}
	return v
}
