package main

import (
	"log/slog"
	"os"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/logger"

	gormlogger "gorm.io/gorm/logger"
)

// sync_sequences moves every Postgres id sequence past the table's max id,
// which is needed after rows were copied in with explicit ids.
func main() {
	cfg := config.LoadConfig()
	logger.Setup(cfg)

	db, err := database.OpenPostgres(cfg.DatabaseURL, gormlogger.Warn)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	slog.Info("syncing postgres sequences")
	failed := 0
	for _, table := range database.TableNames() {
		if err := database.SyncSequence(db, table); err != nil {
			slog.Error("failed to sync sequence", "table", table, "error", err)
			failed++
			continue
		}
		slog.Info("sequence synced", "table", table)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
