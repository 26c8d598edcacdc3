package database

import (
	"fmt"
	"log/slog"
	"time"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres or SQLite depending on cfg.DBDriver and runs migrations.
func Open(cfg *config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.IsDevelopment() {
		level = logger.Info
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DBDriver {
	case "postgres":
		db, err = OpenPostgres(cfg.DatabaseURL, level)
	case "sqlite", "":
		db, err = OpenSQLite(cfg.DBPath, level)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("database connected", "driver", cfg.DBDriver)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func OpenPostgres(url string, level logger.LogLevel) (*gorm.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
	}
	db, err := gorm.Open(postgres.Open(url), gormConfig(level))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

func gormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Models lists every persisted model, parents before children.
func Models() []interface{} {
	return []interface{}{
		&models.WabaAccount{},
		&models.PhoneNumber{},
		&models.BotFlow{},
		&models.BotNode{},
		&models.Enquiry{},
		&models.Message{},
		&models.ContactList{},
		&models.Contact{},
		&models.Campaign{},
		&models.CampaignSend{},
		&models.Log{},
	}
}

// TableNames returns the table of every model in Models order.
func TableNames() []string {
	var names []string
	for _, m := range Models() {
		if t, ok := m.(interface{ TableName() string }); ok {
			names = append(names, t.TableName())
		}
	}
	return names
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	slog.Info("database migration completed")
	return nil
}

// SyncSequence sets the Postgres id sequence of table past its largest id.
func SyncSequence(db *gorm.DB, table string) error {
	query := fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', 'id'), coalesce(max(id), 0) + 1, false) FROM %s",
		table, table)
	return db.Exec(query).Error
}
