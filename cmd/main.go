package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/jfeldner/tgminer/internal/app"
	cfg "github.com/jfeldner/tgminer/internal/config"
	"github.com/jfeldner/tgminer/internal/db"
	"github.com/jfeldner/tgminer/internal/state"
)

var (
	waitGroup  *sync.WaitGroup = &sync.WaitGroup{}
	config     *cfg.Config     = &cfg.Config{}
	dbHandler  *db.DbHandler   = &db.DbHandler{}
	stateStore *state.Store
)

func main() {
	log.Info("Starting tgminer...")
	config.Load()

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		log.Fatalf("Error creating data directory %v: %v", config.DataDir, err)
	}
	var err error
	stateStore, err = state.Open(filepath.Join(config.DataDir, "tgminer.db"))
	if err != nil {
		log.Fatalf("Error opening state database: %v", err)
	}
	if config.Export.HasFormat(cfg.FormatPostgres) {
		dbHandler.Setup(config)
	}

	miner := &app.Miner{Config: config}
	miner.Setup(dbHandler, stateStore)
	if err := miner.Run(context.Background()); err != nil {
		log.Errorf("Extraction run failed: %v", err)
	}
	shutdown()
}

func shutdown() {
	waitGroup.Add(1)
	dbHandler.Stop(waitGroup)
	waitGroup.Wait()
	if err := stateStore.Close(); err != nil {
		log.Errorf("Error closing state database: %v", err)
	}
	log.Info("Shutdown successful")
}
