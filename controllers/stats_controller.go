package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kaoyanmate/kaoyanmate/models"
	"github.com/kaoyanmate/kaoyanmate/rating"
	"github.com/kaoyanmate/kaoyanmate/utils"
)

// StatsController serves the public dashboard numbers and the leaderboard.
type StatsController struct {
	db     *gorm.DB
	engine *rating.Engine
}

// NewStatsController creates a new controller instance.
func NewStatsController(db *gorm.DB, engine *rating.Engine) *StatsController {
	return &StatsController{db: db, engine: engine}
}

// Overview returns site-wide aggregates. Today is the current business day,
// so minutes logged at 2 AM still count toward yesterday's total.
func (s *StatsController) Overview(ctx *gin.Context) {
	const cacheKey = "cache:stats:overview"
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		ctx.Data(http.StatusOK, "application/json; charset=utf-8", b)
		return
	}

	var userCount int64
	s.db.Model(&models.User{}).Where("role <> ?", models.RoleAdmin).Count(&userCount)

	var checkinCount int64
	s.db.Model(&models.CheckIn{}).Where("is_penalty = ? AND is_leave = ?", false, false).Count(&checkinCount)

	cal := s.engine.Params().Calendar
	today := cal.BusinessDate(time.Now())
	// Fetch a window wide enough to cover the cutoff spillover of the next
	// calendar day, then keep only rows whose business date is today.
	var rows []models.CheckIn
	s.db.Where("created_at >= ? AND created_at < ? AND is_penalty = ? AND is_leave = ?",
		today, today.AddDate(0, 0, 2), false, false).Find(&rows)
	var todayMinutes int
	todayUsers := map[uint]bool{}
	for _, row := range rows {
		if !cal.SameBusinessDay(row.CreatedAt, today) {
			continue
		}
		todayMinutes += row.Duration
		todayUsers[row.UserID] = true
	}

	now := time.Now().In(time.Local)
	localMidnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var pvToday int64
	s.db.Model(&models.PageView{}).
		Where("date = ?", localMidnight).
		Select("COALESCE(SUM(count), 0)").Scan(&pvToday)

	payload := gin.H{
		"users":          userCount,
		"checkins":       checkinCount,
		"today_minutes":  todayMinutes,
		"today_checkers": len(todayUsers),
		"page_views":     pvToday,
	}
	utils.CacheSetJSON(cacheKey, utils.JSONResponse{Code: 0, Message: "success", Data: payload}, 5*time.Minute)
	utils.Success(ctx, payload)
}

// Leaderboard returns the top members by rating.
func (s *StatsController) Leaderboard(ctx *gin.Context) {
	const cacheKey = "cache:stats:leaderboard"
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		ctx.Data(http.StatusOK, "application/json; charset=utf-8", b)
		return
	}

	var users []models.User
	if err := s.db.Where("role <> ?", models.RoleAdmin).
		Order("rating DESC, id ASC").Limit(50).Find(&users).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50080, "failed to load leaderboard")
		return
	}

	items := make([]gin.H, 0, len(users))
	for i, user := range users {
		entry := sanitizeUserResponse(user)
		entry["rank"] = i + 1
		items = append(items, entry)
	}

	payload := gin.H{"items": items}
	utils.CacheSetJSON(cacheKey, utils.JSONResponse{Code: 0, Message: "success", Data: payload}, 5*time.Minute)
	utils.Success(ctx, payload)
}
