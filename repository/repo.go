package repository

import (
	"context"
	"database/sql"
	"errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"restream/entities"
)

var ErrNotFound = errors.New("record not found")

type Repository interface {
	StreamRepository
	SessionRepository
	DestinationRepository
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	Migrate(ctx context.Context) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB, debug bool) (Repository, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(level),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

type txKey struct{}

// GetDB returns the transaction bound to ctx, if any.
func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

// Migrate creates the tables and the partial unique index that allows a
// single active session per stream.
func (r *repo) Migrate(ctx context.Context) error {
	db := r.GetDB(ctx)
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
		return err
	}
	if err := db.AutoMigrate(&entities.Stream{}, &entities.Session{}, &entities.RepublishingDestination{}); err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS unique_active_session_per_stream ON sessions (stream_id) WHERE status = 'active'`).Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// updateColumns saves only the named columns, or the whole row when none are given.
func updateColumns(db *gorm.DB, model interface{}, columns []string) error {
	if len(columns) == 0 {
		return db.Omit(clause.Associations).Save(model).Error
	}
	return db.Model(model).Omit(clause.Associations).Select(columns).Updates(model).Error
}
