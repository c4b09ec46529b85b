package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kaoyanmate/kaoyanmate/models"
	"github.com/kaoyanmate/kaoyanmate/rating"
	"github.com/kaoyanmate/kaoyanmate/utils"
)

var validDifficulties = map[string]bool{"easy": true, "medium": true, "hard": true}

// AlgorithmController manages published practice tasks and their submissions.
// The first passing submission per user per task earns the bonus.
type AlgorithmController struct {
	db     *gorm.DB
	engine *rating.Engine
}

// NewAlgorithmController creates a new controller instance.
func NewAlgorithmController(db *gorm.DB, engine *rating.Engine) *AlgorithmController {
	return &AlgorithmController{db: db, engine: engine}
}

// CreateTask publishes a practice task. Admin only.
func (a *AlgorithmController) CreateTask(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
		Difficulty  string `json:"difficulty"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40070, "invalid request payload")
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = "easy"
	}
	if !validDifficulties[req.Difficulty] {
		utils.Error(ctx, http.StatusBadRequest, 40071, "invalid difficulty")
		return
	}

	task := models.AlgorithmTask{
		Title:       utils.SanitizeText(req.Title),
		Description: utils.Sanitize(req.Description),
		Difficulty:  req.Difficulty,
		CreatedBy:   userID,
	}
	if err := a.db.Create(&task).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50070, "failed to create task")
		return
	}
	utils.Success(ctx, task)
}

// ListTasks returns published tasks newest first.
func (a *AlgorithmController) ListTasks(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))

	var total int64
	a.db.Model(&models.AlgorithmTask{}).Count(&total)

	var tasks []models.AlgorithmTask
	if err := a.db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&tasks).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50071, "failed to list tasks")
		return
	}
	utils.Success(ctx, gin.H{
		"items":      tasks,
		"pagination": paginationPayload(page, pageSize, total),
	})
}

// GetTask returns one task with its submission count.
func (a *AlgorithmController) GetTask(ctx *gin.Context) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40072, "invalid task id")
		return
	}

	var task models.AlgorithmTask
	if err := a.db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40406, "task not found")
		} else {
			utils.Error(ctx, http.StatusInternalServerError, 50072, "failed to load task")
		}
		return
	}

	var submissions int64
	a.db.Model(&models.AlgorithmSubmission{}).Where("task_id = ?", id).Count(&submissions)

	utils.Success(ctx, gin.H{"task": task, "submissions": submissions})
}

// Submit records a solution attempt. A passing verdict awards the bonus only
// if the user has no earlier passing submission for the same task.
func (a *AlgorithmController) Submit(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	taskID, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40072, "invalid task id")
		return
	}

	var req struct {
		Language string `json:"language"`
		Code     string `json:"code" binding:"required"`
		Status   string `json:"status" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40070, "invalid request payload")
		return
	}
	if req.Status != models.SubmissionPassed && req.Status != models.SubmissionFailed {
		utils.Error(ctx, http.StatusBadRequest, 40073, "invalid submission status")
		return
	}

	var task models.AlgorithmTask
	if err := a.db.First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40406, "task not found")
		} else {
			utils.Error(ctx, http.StatusInternalServerError, 50072, "failed to load task")
		}
		return
	}

	var passedBefore int64
	a.db.Model(&models.AlgorithmSubmission{}).
		Where("task_id = ? AND user_id = ? AND status = ?", taskID, userID, models.SubmissionPassed).
		Count(&passedBefore)

	sub := models.AlgorithmSubmission{
		TaskID:   uint(taskID),
		UserID:   userID,
		Language: req.Language,
		Code:     req.Code,
		Status:   req.Status,
	}
	if err := a.db.Create(&sub).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50073, "failed to save submission")
		return
	}

	awarded := false
	if sub.Status == models.SubmissionPassed && passedBefore == 0 {
		if err := a.engine.AwardSubmissionBonus(ctx.Request.Context(), userID, sub); err != nil {
			utils.Sugar.Errorf("award submission bonus user=%d sub=%d: %v", userID, sub.ID, err)
		} else {
			awarded = true
		}
	}

	utils.Success(ctx, gin.H{"submission": sub, "bonus_awarded": awarded})
}

// ListSubmissions returns a task's submissions newest first.
func (a *AlgorithmController) ListSubmissions(ctx *gin.Context) {
	taskID, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40072, "invalid task id")
		return
	}
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))

	var total int64
	a.db.Model(&models.AlgorithmSubmission{}).Where("task_id = ?", taskID).Count(&total)

	var subs []models.AlgorithmSubmission
	if err := a.db.Preload("User").Where("task_id = ?", taskID).
		Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&subs).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50074, "failed to list submissions")
		return
	}

	items := make([]gin.H, 0, len(subs))
	for _, sub := range subs {
		items = append(items, gin.H{
			"id":         sub.ID,
			"task_id":    sub.TaskID,
			"language":   sub.Language,
			"status":     sub.Status,
			"created_at": sub.CreatedAt,
			"author":     sanitizeUserResponse(sub.User),
		})
	}
	utils.Success(ctx, gin.H{
		"items":      items,
		"pagination": paginationPayload(page, pageSize, total),
	})
}

// MySubmissions returns the calling user's submissions across all tasks.
func (a *AlgorithmController) MySubmissions(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))

	var total int64
	a.db.Model(&models.AlgorithmSubmission{}).Where("user_id = ?", userID).Count(&total)

	var subs []models.AlgorithmSubmission
	if err := a.db.Where("user_id = ?", userID).
		Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&subs).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50074, "failed to list submissions")
		return
	}
	utils.Success(ctx, gin.H{
		"items":      subs,
		"pagination": paginationPayload(page, pageSize, total),
	})
}
