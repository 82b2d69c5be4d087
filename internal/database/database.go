package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/boscod/parkmate/config"
	"github.com/boscod/parkmate/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Retry configuration, tuned for hosts that need fast startup
const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 10 * time.Second
	backoffFactor  = 2
)

func Connect(cfg *config.Config) (*bun.DB, error) {
	var db *bun.DB
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, lastErr = attemptConnect(cfg)
		if lastErr == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("Connected to database")
			}
			return db, nil
		}

		log.Warn().Err(lastErr).Int("attempt", attempt).Int("max", maxRetries).Msg("Database connection attempt failed")

		if attempt < maxRetries {
			log.Info().Dur("backoff", backoff).Msg("Retrying database connection")
			time.Sleep(backoff)

			backoff *= backoffFactor
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, lastErr)
}

func attemptConnect(cfg *config.Config) (*bun.DB, error) {
	// Simple query protocol keeps us compatible with transaction poolers
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DatabaseURL),
		pgdriver.WithDialTimeout(10*time.Second),
		pgdriver.WithReadTimeout(30*time.Second),
		pgdriver.WithWriteTimeout(30*time.Second),
	)
	sqldb := sql.OpenDB(connector)

	sqldb.SetMaxOpenConns(5)
	sqldb.SetMaxIdleConns(5)
	sqldb.SetConnMaxLifetime(2 * time.Minute)
	sqldb.SetConnMaxIdleTime(1 * time.Minute)

	db := bun.NewDB(sqldb, pgdialect.New())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

type index struct {
	name    string
	model   interface{}
	columns []string
	unique  bool
}

var tables = []interface{}{
	(*models.ActivationCode)(nil),
	(*models.CodeRedemption)(nil),
	(*models.VillaSubscription)(nil),
	(*models.TrialDevice)(nil),
	(*models.AdminUser)(nil),
	(*models.Villa)(nil),
	(*models.Vehicle)(nil),
	(*models.AutomationSchedule)(nil),
	(*models.SMSLog)(nil),
	(*models.Notification)(nil),
}

var indexes = []index{
	{"villa_subscriptions_villa_device_uidx", (*models.VillaSubscription)(nil), []string{"villa_id", "device_id"}, true},
	{"villa_subscriptions_device_created_idx", (*models.VillaSubscription)(nil), []string{"device_id", "created_at"}, false},
	{"code_redemptions_code_villa_device_uidx", (*models.CodeRedemption)(nil), []string{"code", "villa_id", "device_id"}, true},
	{"villas_device_villa_uidx", (*models.Villa)(nil), []string{"device_id", "villa_id"}, true},
	{"vehicles_device_villa_idx", (*models.Vehicle)(nil), []string{"device_id", "villa_id"}, false},
	{"automation_schedules_device_villa_uidx", (*models.AutomationSchedule)(nil), []string{"device_id", "villa_id"}, true},
	{"sms_logs_device_created_idx", (*models.SMSLog)(nil), []string{"device_id", "created_at"}, false},
	{"notifications_device_created_idx", (*models.Notification)(nil), []string{"device_id", "created_at"}, false},
}

// Migrate creates the tables and indexes that do not exist yet.
func Migrate(ctx context.Context, db *bun.DB) error {
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}

	for _, idx := range indexes {
		q := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	log.Info().Int("tables", len(tables)).Int("indexes", len(indexes)).Msg("Database schema up to date")
	return nil
}
