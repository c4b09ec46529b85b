package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kaoyanmate/kaoyanmate/models"
	"github.com/kaoyanmate/kaoyanmate/rating"
	"github.com/kaoyanmate/kaoyanmate/utils"
)

// RatingController exposes the admin surface of the ledger engine: recompute
// jobs with polled progress, penalty exemption, the delinquency sweep, and
// the ledger itself.
type RatingController struct {
	db     *gorm.DB
	engine *rating.Engine
	policy *rating.Policy
}

// NewRatingController creates a new controller instance.
func NewRatingController(db *gorm.DB, engine *rating.Engine, policy *rating.Policy) *RatingController {
	return &RatingController{db: db, engine: engine, policy: policy}
}

// recalcProgress is the JSON document published to redis while a recompute
// job runs; the admin UI polls it for its progress bar.
type recalcProgress struct {
	Phase     string `json:"phase"` // running / done / failed
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	UserIndex int    `json:"user_index,omitempty"`
	UserTotal int    `json:"user_total,omitempty"`
	Username  string `json:"username,omitempty"`
	Final     int    `json:"final_rating,omitempty"`
	Error     string `json:"error,omitempty"`
}

func publishProgress(jobID string, p recalcProgress) {
	utils.CacheSetJSON("rating:recalc:"+jobID, p, 30*time.Minute)
}

type recalcRequest struct {
	StartDate  string `json:"start_date" binding:"required"`
	EndDate    string `json:"end_date" binding:"required"`
	BaseRating *int   `json:"base_rating"`
}

// parseWindow converts inclusive YYYY-MM-DD bounds to the engine's half-open
// [start, end) timestamp window.
func (r recalcRequest) parseWindow() (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", r.StartDate, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date")
	}
	end, err := time.ParseInLocation("2006-01-02", r.EndDate, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date before start_date")
	}
	return start, end.AddDate(0, 0, 1), nil
}

// RecalculateUser replays one user's history over the window in a background
// job and returns the job id immediately. Overlapping recomputes for the same
// user are last-writer-wins; the engine provides no locking.
func (r *RatingController) RecalculateUser(ctx *gin.Context) {
	userID, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid user id")
		return
	}

	var req recalcRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40061, "invalid request payload")
		return
	}
	start, end, err := req.parseWindow()
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40062, err.Error())
		return
	}

	jobID := uuid.NewString()
	publishProgress(jobID, recalcProgress{Phase: "running"})

	go func() {
		// The request context dies with the HTTP response; the job outlives it.
		jobCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		final, err := r.engine.RecalculateRange(jobCtx, uint(userID), start, end, req.BaseRating, func(processed, total int) {
			publishProgress(jobID, recalcProgress{Phase: "running", Processed: processed, Total: total})
		})
		if err != nil {
			utils.Sugar.Errorf("recalculate user %d failed: %v", userID, err)
			publishProgress(jobID, recalcProgress{Phase: "failed", Error: err.Error()})
			return
		}
		publishProgress(jobID, recalcProgress{Phase: "done", Final: final})
	}()

	utils.Success(ctx, gin.H{"job_id": jobID})
}

// RecalculateAll replays every non-admin user sequentially in a background
// job. One user's failure is reported in the final progress document without
// aborting the batch.
func (r *RatingController) RecalculateAll(ctx *gin.Context) {
	var req recalcRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40061, "invalid request payload")
		return
	}
	start, end, err := req.parseWindow()
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40062, err.Error())
		return
	}

	jobID := uuid.NewString()
	publishProgress(jobID, recalcProgress{Phase: "running"})

	go func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		err := r.engine.RecalculateAll(jobCtx, start, end, req.BaseRating, func(index, total int, username string) {
			publishProgress(jobID, recalcProgress{Phase: "running", UserIndex: index, UserTotal: total, Username: username})
		})
		if err != nil {
			utils.Sugar.Errorf("recalculate all failed: %v", err)
			publishProgress(jobID, recalcProgress{Phase: "failed", Error: err.Error()})
			return
		}
		publishProgress(jobID, recalcProgress{Phase: "done"})
	}()

	utils.Success(ctx, gin.H{"job_id": jobID})
}

// Progress returns the current state of a recompute job.
func (r *RatingController) Progress(ctx *gin.Context) {
	jobID := ctx.Param("jobId")
	if b, ok := utils.CacheGetBytes("rating:recalc:" + jobID); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}
	utils.Error(ctx, http.StatusNotFound, 40404, "job not found")
}

// Sweep synthesizes penalties for every uncovered past business day since the
// configured penalty start date.
func (r *RatingController) Sweep(ctx *gin.Context) {
	created, err := r.policy.SweepDelinquent(ctx.Request.Context(), time.Now())
	if err != nil {
		// Partial failures still report how far the sweep got.
		utils.Sugar.Errorf("delinquency sweep: %v", err)
		utils.Respond(ctx, http.StatusOK, 0, "sweep finished with errors", gin.H{
			"penalties_created": created,
			"error":             err.Error(),
		})
		return
	}
	utils.Success(ctx, gin.H{"penalties_created": created})
}

// ExemptPenalty voids one penalty check-in and credits its magnitude back.
func (r *RatingController) ExemptPenalty(ctx *gin.Context) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40063, "invalid check-in id")
		return
	}

	credit, err := r.engine.ExemptPenalty(ctx.Request.Context(), uint(id))
	if err != nil {
		switch {
		case errors.Is(err, rating.ErrNotFound):
			utils.Error(ctx, http.StatusNotFound, 40401, "check-in not found")
		case errors.Is(err, rating.ErrNotPenalty):
			utils.Error(ctx, http.StatusBadRequest, 40064, "check-in is not a penalty")
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to exempt penalty")
		}
		return
	}
	utils.Success(ctx, gin.H{"credit": credit})
}

// ListLedger returns a user's full rating history ascending, each entry
// annotated with its reconstructed delta.
func (r *RatingController) ListLedger(ctx *gin.Context) {
	userID, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid user id")
		return
	}

	var entries []models.RatingHistory
	if err := r.db.Where("user_id = ?", userID).
		Order("recorded_at ASC, id ASC").Find(&entries).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50061, "failed to list rating history")
		return
	}

	utils.Success(ctx, gin.H{"entries": rating.AnnotateDeltas(entries, r.engine.Params())})
}

// DeleteLedgerEntry removes one ledger row with a manual signed refund
// applied to the user's current rating. No replay happens.
func (r *RatingController) DeleteLedgerEntry(ctx *gin.Context) {
	entryID, err := strconv.Atoi(ctx.Param("entryId"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40065, "invalid entry id")
		return
	}

	var req struct {
		UserID uint `json:"user_id" binding:"required"`
		Refund int  `json:"refund"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40061, "invalid request payload")
		return
	}

	if err := r.engine.DeleteLedgerEntry(ctx.Request.Context(), uint(entryID), req.UserID, req.Refund); err != nil {
		switch {
		case errors.Is(err, rating.ErrNotFound):
			utils.Error(ctx, http.StatusNotFound, 40405, "ledger entry not found")
		case errors.Is(err, rating.ErrEntryMismatch):
			utils.Error(ctx, http.StatusBadRequest, 40066, "ledger entry does not belong to user")
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50062, "failed to delete ledger entry")
		}
		return
	}
	utils.Success(ctx, gin.H{"message": "ledger entry deleted"})
}
