package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dongle-server/dongle-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Dongle methods
	UpsertDongle(ctx context.Context, dongle *models.Dongle) error
	GetDongle(ctx context.Context, imei string) (*models.Dongle, error)
	ListDongles(ctx context.Context, filters DongleFilters, limit, offset int) ([]*models.Dongle, int64, error)
	MarkDongleAbsent(ctx context.Context, imei string, at time.Time) error

	// Dongle state methods
	SaveDongleState(ctx context.Context, state *models.DongleState) error
	GetDongleState(ctx context.Context, imei string) (*models.DongleState, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// DongleFilters represents filters for listing dongles
type DongleFilters struct {
	Search      string
	PresentOnly bool
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	IMEI      *string
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
