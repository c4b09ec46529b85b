package routes

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kaoyanmate/kaoyanmate/config"
	"github.com/kaoyanmate/kaoyanmate/controllers"
	"github.com/kaoyanmate/kaoyanmate/middleware"
	"github.com/kaoyanmate/kaoyanmate/rating"
	"github.com/kaoyanmate/kaoyanmate/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB, engine *rating.Engine, policy *rating.Policy) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		// fallback to default recovery if logger failed to init
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Record PV after each request
	r.Use(middleware.PageViewRecorder(db))

	r.Static("/static", "./static")
	r.Static("/uploads", "./uploads")

	r.GET("/", func(c *gin.Context) {
		c.File("./static/index.html")
	})

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	// SPA fallback: unknown non-API paths get the frontend shell.
	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			utils.Error(c, 404, 40400, "route not found")
			return
		}
		c.File("./static/index.html")
	})

	authController := controllers.NewAuthController(db, engine)
	checkinController := controllers.NewCheckInController(db, engine)
	leaveController := controllers.NewLeaveController(db, policy)
	ratingController := controllers.NewRatingController(db, engine, policy)
	algoController := controllers.NewAlgorithmController(db, engine)
	statsController := controllers.NewStatsController(db, engine)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)
	authGroup.PATCH("/profile", middleware.AuthRequired(), authController.UpdateProfile)

	// Public feed and dashboard
	api.GET("/checkins", checkinController.ListFeed)
	api.GET("/checkins/:id", checkinController.Get)
	api.GET("/users/:id", authController.GetUserPublic)
	api.GET("/users/:id/checkins", checkinController.ListByUser)
	api.GET("/users/:id/summary", checkinController.DailySummary)
	api.GET("/stats", statsController.Overview)
	api.GET("/leaderboard", statsController.Leaderboard)
	api.GET("/tasks", algoController.ListTasks)
	api.GET("/tasks/:id", algoController.GetTask)
	api.GET("/tasks/:id/submissions", algoController.ListSubmissions)

	// Authenticated member actions
	authed := api.Group("")
	authed.Use(middleware.AuthRequired())
	authed.POST("/checkins", checkinController.Create)
	authed.DELETE("/checkins/:id", checkinController.Delete)
	authed.POST("/checkins/:id/comments", checkinController.CreateComment)
	authed.DELETE("/comments/:commentId", checkinController.DeleteComment)
	authed.POST("/uploads", checkinController.UploadImage)
	authed.POST("/leaves", leaveController.Request)
	authed.GET("/leaves/mine", leaveController.ListMine)
	authed.POST("/tasks/:id/submissions", algoController.Submit)
	authed.GET("/submissions/mine", algoController.MySubmissions)
	authed.GET("/users/:id/rating-history", ratingController.ListLedger)

	// Admin surface
	admin := api.Group("/admin")
	admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
	admin.GET("/users", authController.ListUsers)
	admin.DELETE("/users/:id", authController.DeleteUser)
	admin.GET("/leaves/pending", leaveController.ListPending)
	admin.POST("/leaves/:id/approve", leaveController.Approve)
	admin.POST("/leaves/:id/reject", leaveController.Reject)
	admin.POST("/tasks", algoController.CreateTask)
	admin.POST("/rating/sweep", ratingController.Sweep)
	admin.POST("/rating/penalties/:id/exempt", ratingController.ExemptPenalty)
	admin.POST("/rating/users/:id/recalculate", ratingController.RecalculateUser)
	admin.POST("/rating/recalculate-all", ratingController.RecalculateAll)
	admin.GET("/rating/jobs/:jobId", ratingController.Progress)
	admin.DELETE("/rating/entries/:entryId", ratingController.DeleteLedgerEntry)

	return r
}
