package main

import (
	"log/slog"
	"os"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const batchSize = 500

// migrate_data copies a local SQLite database (DB_PATH) into Postgres
// (DATABASE_URL). Rows that already exist in Postgres are skipped, so the
// command can be re-run.
func main() {
	cfg := config.LoadConfig()
	logger.Setup(cfg)

	src, err := database.OpenSQLite(cfg.DBPath, gormlogger.Warn)
	if err != nil {
		slog.Error("failed to open sqlite source", "error", err)
		os.Exit(1)
	}
	dst, err := database.OpenPostgres(cfg.DatabaseURL, gormlogger.Warn)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(dst); err != nil {
		slog.Error("failed to migrate postgres schema", "error", err)
		os.Exit(1)
	}

	steps := []func() error{
		func() error { return copyTable[models.WabaAccount](src, dst) },
		func() error { return copyTable[models.PhoneNumber](src, dst) },
		func() error { return copyTable[models.BotFlow](src, dst) },
		func() error { return copyTable[models.BotNode](src, dst) },
		func() error { return copyTable[models.Enquiry](src, dst) },
		func() error { return copyTable[models.Message](src, dst) },
		func() error { return copyTable[models.ContactList](src, dst) },
		func() error { return copyTable[models.Contact](src, dst) },
		func() error { return copyTable[models.Campaign](src, dst) },
		func() error { return copyTable[models.CampaignSend](src, dst) },
		func() error { return copyTable[models.Log](src, dst) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			slog.Error("migration aborted", "error", err)
			os.Exit(1)
		}
	}

	for _, table := range database.TableNames() {
		if err := database.SyncSequence(dst, table); err != nil {
			slog.Warn("failed to sync sequence", "table", table, "error", err)
		}
	}
	slog.Info("migration completed")
}

type tabler interface {
	TableName() string
}

// copyTable streams every row of T from src to dst in batches, keeping ids.
func copyTable[T tabler](src, dst *gorm.DB) error {
	var zero T
	table := zero.TableName()
	copied := 0

	var batch []T
	res := src.Model(new(T)).FindInBatches(&batch, batchSize, func(tx *gorm.DB, n int) error {
		if err := dst.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&batch).Error; err != nil {
			return err
		}
		copied += len(batch)
		return nil
	})
	if res.Error != nil {
		return res.Error
	}
	slog.Info("table copied", "table", table, "rows", copied)
	return nil
}
