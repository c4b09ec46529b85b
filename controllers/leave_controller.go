package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kaoyanmate/kaoyanmate/models"
	"github.com/kaoyanmate/kaoyanmate/rating"
	"github.com/kaoyanmate/kaoyanmate/utils"
)

// LeaveController handles leave requests and their admin review.
type LeaveController struct {
	db     *gorm.DB
	policy *rating.Policy
}

// NewLeaveController creates a new controller instance.
func NewLeaveController(db *gorm.DB, policy *rating.Policy) *LeaveController {
	return &LeaveController{db: db, policy: policy}
}

// Request files a pending leave covering one or more business days starting
// from the request's own business day.
func (l *LeaveController) Request(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req struct {
		Days   int    `json:"days" binding:"required,min=1,max=30"`
		Reason string `json:"reason" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40040, "invalid request payload")
		return
	}

	leave := models.CheckIn{
		UserID:      userID,
		Subject:     "其他",
		Content:     "请假申请",
		IsLeave:     true,
		LeaveDays:   req.Days,
		LeaveReason: utils.SanitizeText(strings.TrimSpace(req.Reason)),
		LeaveStatus: models.LeavePending,
	}
	if err := l.db.Create(&leave).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to create leave request")
		return
	}

	utils.Success(ctx, gin.H{"leave": leave})
}

// ListMine returns the caller's leave requests, newest first.
func (l *LeaveController) ListMine(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var items []models.CheckIn
	if err := l.db.Where("user_id = ? AND is_leave = ?", userID, true).
		Order("created_at DESC").Find(&items).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to list leave requests")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// ListPending returns leave requests awaiting review. Admin only.
func (l *LeaveController) ListPending(ctx *gin.Context) {
	var items []models.CheckIn
	if err := l.db.Preload("User").
		Where("is_leave = ? AND leave_status = ?", true, models.LeavePending).
		Order("created_at ASC").Find(&items).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to list leave requests")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// Approve grants a pending leave. Any penalties already synthesized inside
// the leave's coverage range are auto-exempted, each with its own
// compensating ledger credit. Admin only.
func (l *LeaveController) Approve(ctx *gin.Context) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40041, "invalid leave id")
		return
	}

	exempted, err := l.policy.ApproveLeave(ctx.Request.Context(), uint(id))
	if err != nil {
		switch {
		case errors.Is(err, rating.ErrNotFound):
			utils.Error(ctx, http.StatusNotFound, 40403, "leave request not found")
		case errors.Is(err, rating.ErrNotLeave):
			utils.Error(ctx, http.StatusBadRequest, 40042, "check-in is not a leave request")
		case errors.Is(err, rating.ErrLeaveDecided):
			utils.Error(ctx, http.StatusBadRequest, 40043, "leave request already decided")
		default:
			utils.Sugar.Errorf("approve leave %d failed: %v", id, err)
			utils.Error(ctx, http.StatusInternalServerError, 50042, "failed to approve leave")
		}
		return
	}

	utils.Success(ctx, gin.H{
		"message":            "leave approved",
		"exempted_penalties": exempted,
	})
}

// Reject declines a pending leave. Admin only.
func (l *LeaveController) Reject(ctx *gin.Context) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40041, "invalid leave id")
		return
	}

	if err := l.policy.RejectLeave(ctx.Request.Context(), uint(id)); err != nil {
		switch {
		case errors.Is(err, rating.ErrNotFound):
			utils.Error(ctx, http.StatusNotFound, 40403, "leave request not found")
		case errors.Is(err, rating.ErrNotLeave), errors.Is(err, rating.ErrLeaveDecided):
			utils.Error(ctx, http.StatusBadRequest, 40043, err.Error())
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50043, "failed to reject leave")
		}
		return
	}
	utils.Success(ctx, gin.H{"message": "leave rejected"})
}
