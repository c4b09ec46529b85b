package main

import (
	"time"

	"github.com/kaoyanmate/kaoyanmate/config"
	"github.com/kaoyanmate/kaoyanmate/models"
	"github.com/kaoyanmate/kaoyanmate/rating"
	"github.com/kaoyanmate/kaoyanmate/routes"
	"github.com/kaoyanmate/kaoyanmate/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(
		&models.User{},
		&models.CheckIn{},
		&models.Comment{},
		&models.RatingHistory{},
		&models.AlgorithmTask{},
		&models.AlgorithmSubmission{},
		&models.PageView{},
		&models.UploadedFile{},
	)

	store := rating.NewStore(db)
	params := rating.ParamsFromConfig(cfg)
	engine := rating.NewEngine(store, params)
	policy := rating.NewPolicy(store, engine, params)

	r := routes.SetupRouter(db, engine, policy)

	// Start background cleanup for expired uploads (best-effort)
	utils.StartUploadCleaner(5 * time.Minute)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
