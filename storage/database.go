package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Order audit, validation snapshot and risk state persistence
// ═══════════════════════════════════════════════════════════════════════════════
//
// Memory is the source of truth; everything here is written through after the
// in-memory state changes and read back only at startup.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db      *gorm.DB
	enabled bool
}

// Models

// Order is the persisted form of an OrderRecord
type Order struct {
	ID              string          `gorm:"primaryKey"`
	Symbol          string          `gorm:"index"`
	Side            string
	Exchange        string          `gorm:"index"`
	Source          string
	SubmittedAt     time.Time       `gorm:"index"`
	Approved        bool
	RejectionReason string
	Quantity        decimal.Decimal `gorm:"type:decimal(28,12)"`
	Price           decimal.Decimal `gorm:"type:decimal(28,12)"`
	CorrelationID   string
	Confirmed       bool
	FilledQuantity  decimal.Decimal `gorm:"type:decimal(28,12)"`
	FilledPrice     decimal.Decimal `gorm:"type:decimal(28,12)"`
	ConfirmedAt     *time.Time
	Ghost           bool `gorm:"index"`
	GhostedAt       *time.Time
	UpdatedAt       time.Time
}

// ValidationSnapshot holds the single, wholesale-overwritten validator document
type ValidationSnapshot struct {
	ID        uint `gorm:"primaryKey"`
	Document  string
	SavedAt   time.Time
	UpdatedAt time.Time
}

// RiskState is the daily gate state
type RiskState struct {
	Date            string          `gorm:"primaryKey"` // 2006-01-02
	TradesToday     int
	DailyPnL        decimal.Decimal `gorm:"type:decimal(28,8)"`
	DayStartCapital decimal.Decimal `gorm:"type:decimal(28,8)"`
	Capital         decimal.Decimal `gorm:"type:decimal(28,8)"`
	UpdatedAt       time.Time
}

const snapshotRowID = 1

// New opens a database. PostgreSQL URLs use the postgres driver, anything else
// is treated as a SQLite path. An empty path disables persistence.
func New(dbPath string) (*Database, error) {
	if dbPath == "" {
		log.Warn().Msg("DATABASE_PATH not set, running without persistence")
		return &Database{enabled: false}, nil
	}

	var db *gorm.DB
	var err error

	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info().Str("path", dbPath).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Order{}, &ValidationSnapshot{}, &RiskState{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Database{db: db, enabled: true}, nil
}

// IsEnabled reports whether persistence is active
func (d *Database) IsEnabled() bool {
	return d != nil && d.enabled
}

// Close closes the underlying connection
func (d *Database) Close() {
	if !d.IsEnabled() {
		return
	}
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Order operations

// SaveOrder upserts an order row
func (d *Database) SaveOrder(o *Order) error {
	if !d.IsEnabled() {
		return nil
	}
	return d.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(o).Error
}

// GetAllOrders returns every persisted order, oldest first
func (d *Database) GetAllOrders() ([]*Order, error) {
	if !d.IsEnabled() {
		return nil, nil
	}
	var orders []*Order
	err := d.db.Order("submitted_at ASC").Find(&orders).Error
	return orders, err
}

// getOrder returns a single order
func (d *Database) getOrder(id string) (*Order, error) {
	if !d.IsEnabled() {
		return nil, nil
	}
	var o Order
	if err := d.db.First(&o, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// Snapshot operations

// SaveSnapshot overwrites the validation snapshot document
func (d *Database) SaveSnapshot(s *types.ValidationSnapshot) error {
	if !d.IsEnabled() {
		return nil
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	row := &ValidationSnapshot{
		ID:       snapshotRowID,
		Document: string(doc),
		SavedAt:  s.SavedAt,
	}
	return d.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// LoadSnapshot returns the stored snapshot, or nil if none was saved
func (d *Database) LoadSnapshot() (*types.ValidationSnapshot, error) {
	if !d.IsEnabled() {
		return nil, nil
	}
	var row ValidationSnapshot
	err := d.db.First(&row, snapshotRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap types.ValidationSnapshot
	if err := json.Unmarshal([]byte(row.Document), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Risk state operations

// SaveRiskState upserts the state for its date
func (d *Database) SaveRiskState(state *RiskState) error {
	if !d.IsEnabled() {
		return nil
	}
	return d.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(state).Error
}

// GetLatestRiskState returns the most recent state, or nil if none
func (d *Database) GetLatestRiskState() (*RiskState, error) {
	if !d.IsEnabled() {
		return nil, nil
	}
	var state RiskState
	err := d.db.Order("date DESC").First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}
