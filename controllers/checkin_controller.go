package controllers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kaoyanmate/kaoyanmate/config"
	"github.com/kaoyanmate/kaoyanmate/models"
	"github.com/kaoyanmate/kaoyanmate/rating"
	"github.com/kaoyanmate/kaoyanmate/utils"
)

// validSubjects are the study categories a check-in may carry.
var validSubjects = []string{"数学", "英语", "政治", "专业课", "复盘", "其他"}

// CheckInController manages the study check-in feed.
type CheckInController struct {
	db     *gorm.DB
	engine *rating.Engine
}

// NewCheckInController creates a new controller instance.
func NewCheckInController(db *gorm.DB, engine *rating.Engine) *CheckInController {
	return &CheckInController{db: db, engine: engine}
}

// Create records a study check-in for the authenticated user.
func (c *CheckInController) Create(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req struct {
		Subject  string `json:"subject"`
		Content  string `json:"content" binding:"required"`
		ImageURL string `json:"image_url"`
		Duration int    `json:"duration"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}

	subject := req.Subject
	if subject == "" {
		subject = "其他"
	}
	if !isValidSubject(subject) {
		utils.Error(ctx, http.StatusBadRequest, 40022, "invalid subject")
		return
	}
	if req.Duration < 0 || req.Duration > 24*60 {
		utils.Error(ctx, http.StatusBadRequest, 40023, "duration must be 0-1440 minutes")
		return
	}

	checkin := models.CheckIn{
		UserID:   userID,
		Subject:  subject,
		Content:  utils.Sanitize(req.Content),
		ImageURL: strings.TrimSpace(req.ImageURL),
		Duration: req.Duration,
	}

	if err := c.db.Create(&checkin).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to create check-in")
		return
	}

	// A zero CheckInReward produces no ledger entry; the call still keeps the
	// single-mutation-path rule when a reward is configured.
	if err := c.engine.AwardCheckIn(ctx.Request.Context(), userID, checkin); err != nil {
		utils.Sugar.Warnf("check-in reward failed for user %d: %v", userID, err)
	}

	utils.InvalidateByPrefix("cache:checkins:list:")
	utils.Success(ctx, gin.H{"checkin": checkin})
}

// ListFeed returns the paginated check-in feed including author information.
func (c *CheckInController) ListFeed(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	subject := strings.TrimSpace(ctx.Query("subject"))

	cacheKey := fmt.Sprintf("cache:checkins:list:subject=%s:page=%d:size=%d", subject, page, pageSize)
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		ctx.Data(200, "application/json", b)
		return
	}

	query := c.db.Preload("User").Where("is_leave = ?", false).Order("created_at DESC")
	if subject != "" {
		query = query.Where("subject = ?", subject)
	}

	var items []models.CheckIn
	var total int64
	if err := query.Model(&models.CheckIn{}).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to count check-ins")
		return
	}
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(&items).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list check-ins")
		return
	}

	payload := gin.H{
		"items":      items,
		"pagination": paginationPayload(page, pageSize, total),
	}
	utils.CacheSetJSON(cacheKey, utils.JSONResponse{Code: 0, Message: "success", Data: payload}, time.Hour)
	utils.Success(ctx, payload)
}

// Get returns a single check-in with its comments.
func (c *CheckInController) Get(ctx *gin.Context) {
	var checkin models.CheckIn
	if err := c.db.Preload("User").Preload("Comments.User").First(&checkin, ctx.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40401, "check-in not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to load check-in")
		return
	}
	utils.Success(ctx, gin.H{"checkin": checkin})
}

// ListByUser returns one user's check-ins, newest first.
func (c *CheckInController) ListByUser(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	userID := ctx.Param("id")

	q := c.db.Where("user_id = ? AND is_leave = ?", userID, false).Preload("User").Order("created_at DESC")
	var items []models.CheckIn
	var total int64
	if err := q.Model(&models.CheckIn{}).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50027, "failed to count check-ins")
		return
	}
	if err := q.Offset((page - 1) * pageSize).Limit(pageSize).Find(&items).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50028, "failed to list check-ins")
		return
	}
	utils.Success(ctx, gin.H{
		"items":      items,
		"pagination": paginationPayload(page, pageSize, total),
	})
}

// Delete removes a check-in. Owners may delete their own entries, admins any.
// Deleting a live penalty reverses its rating effect with a compensating
// ledger credit.
func (c *CheckInController) Delete(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var checkin models.CheckIn
	if err := c.db.First(&checkin, ctx.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Error(ctx, http.StatusNotFound, 40401, "check-in not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to load check-in")
		return
	}

	role, _ := ctx.Get("role")
	if checkin.UserID != userID && role != models.RoleAdmin {
		utils.Error(ctx, http.StatusForbidden, 40302, "not allowed to delete this check-in")
		return
	}

	if err := c.engine.CreditRemovedPenalty(ctx.Request.Context(), checkin); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50025, "failed to reverse penalty effect")
		return
	}

	err := c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("check_in_id = ?", checkin.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.CheckIn{}, checkin.ID).Error
	})
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to delete check-in")
		return
	}

	utils.InvalidateByPrefix("cache:checkins:list:")
	utils.Success(ctx, gin.H{"message": "check-in deleted"})
}

// CreateComment adds a reply to a feed entry.
func (c *CheckInController) CreateComment(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	checkinID, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40024, "invalid check-in id")
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}

	var checkin models.CheckIn
	if err := c.db.First(&checkin, checkinID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "check-in not found")
		return
	}

	comment := models.Comment{
		CheckInID: uint(checkinID),
		UserID:    userID,
		Content:   utils.Sanitize(req.Content),
	}
	if err := c.db.Create(&comment).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50026, "failed to create comment")
		return
	}
	c.db.Preload("User").First(&comment, comment.ID)
	utils.Success(ctx, gin.H{"comment": comment})
}

// DeleteComment removes a comment owned by the caller (or any, for admins).
func (c *CheckInController) DeleteComment(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var comment models.Comment
	if err := c.db.First(&comment, ctx.Param("commentId")).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40402, "comment not found")
		return
	}
	role, _ := ctx.Get("role")
	if comment.UserID != userID && role != models.RoleAdmin {
		utils.Error(ctx, http.StatusForbidden, 40303, "not allowed to delete this comment")
		return
	}
	if err := c.db.Delete(&models.Comment{}, comment.ID).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50029, "failed to delete comment")
		return
	}
	utils.Success(ctx, gin.H{"message": "comment deleted"})
}

// DailySummary buckets a user's study minutes per business day over a date
// range, feeding heatmaps and daily totals.
func (c *CheckInController) DailySummary(ctx *gin.Context) {
	userID := ctx.Param("id")
	start, end, err := parseDateRange(ctx.Query("start"), ctx.Query("end"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40025, err.Error())
		return
	}

	var items []models.CheckIn
	// Fetch one extra day so entries after midnight still land in range.
	if err := c.db.
		Where("user_id = ? AND is_penalty = ? AND is_leave = ? AND created_at >= ? AND created_at < ?",
			userID, false, false, start, end.AddDate(0, 0, 2)).
		Find(&items).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list check-ins")
		return
	}

	cal := c.engine.Params().Calendar
	totals := map[string]int{}
	for _, ci := range items {
		day := cal.BusinessDate(ci.CreatedAt)
		if day.Before(start) || day.After(end) {
			continue
		}
		totals[day.Format("2006-01-02")] += ci.Duration
	}

	utils.Success(ctx, gin.H{"days": totals})
}

// UploadImage stores a check-in image and schedules its cleanup.
func (c *CheckInController) UploadImage(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40113, "unauthorized")
		return
	}

	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "no file uploaded")
		return
	}
	defer file.Close()

	const maxSize = 10 * 1024 * 1024
	if header.Size > maxSize {
		utils.Error(ctx, http.StatusBadRequest, 40032, "file size exceeds 10MB")
		return
	}

	now := time.Now()
	baseDir := filepath.Join(".", "static", "uploads", now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to create upload directory")
		return
	}

	ext := filepath.Ext(filepath.Base(header.Filename))
	safeName := fmt.Sprintf("%d_%s%s", userID, uuid.NewString(), ext)
	dstPath := filepath.Join(baseDir, safeName)

	out, err := os.Create(dstPath)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to save file")
		return
	}
	defer out.Close()

	if _, err := io.Copy(out, io.LimitReader(file, maxSize+1)); err != nil {
		_ = os.Remove(dstPath)
		utils.Error(ctx, http.StatusInternalServerError, 50032, "failed to write file")
		return
	}

	relURL := "/" + filepath.ToSlash(filepath.Join("static", "uploads", now.Format("2006"), now.Format("01"), now.Format("02"), safeName))
	absPath, _ := filepath.Abs(dstPath)
	expireAt := now.Add(time.Duration(config.Get().UploadTTLHours) * time.Hour)
	if err := c.db.Create(&models.UploadedFile{FilePath: absPath, URL: relURL, ExpireAt: expireAt}).Error; err != nil {
		utils.Sugar.Warnf("record uploaded file failed: %v", err)
	}

	utils.Success(ctx, gin.H{"url": relURL})
}

func isValidSubject(s string) bool {
	for _, v := range validSubjects {
		if s == v {
			return true
		}
	}
	return false
}

// parseDateRange parses inclusive YYYY-MM-DD bounds, defaulting to the last
// 30 days.
func parseDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	now := time.Now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := end.AddDate(0, 0, -29)

	if startStr != "" {
		t, err := time.ParseInLocation("2006-01-02", startStr, time.Local)
		if err != nil {
			return start, end, fmt.Errorf("invalid start date")
		}
		start = t
	}
	if endStr != "" {
		t, err := time.ParseInLocation("2006-01-02", endStr, time.Local)
		if err != nil {
			return start, end, fmt.Errorf("invalid end date")
		}
		end = t
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("end date before start date")
	}
	return start, end, nil
}
