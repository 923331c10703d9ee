// Package store holds the persistence contract for services, check history, and
// key/value configuration, along with its SQLite, flat-file, and MongoDB adapters.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/HerbHall/pulsewatch/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrServiceExists is returned by AddService when the name is already taken.
	ErrServiceExists = errors.New("service already exists")
	// ErrServiceNotFound is returned by UpdateService and DeleteService for unknown names.
	ErrServiceNotFound = errors.New("service not found")
)

// Gateway is the durable store the monitoring engine depends on. Every adapter
// must enforce name uniqueness, report the same sentinel errors, and make a write
// visible to an immediately following read from the same process.
type Gateway interface {
	ListServices(ctx context.Context) ([]models.ServiceDefinition, error)
	// GetService returns nil, nil if the service does not exist.
	GetService(ctx context.Context, name string) (*models.ServiceDefinition, error)
	AddService(ctx context.Context, def *models.ServiceDefinition) error
	UpdateService(ctx context.Context, def *models.ServiceDefinition) error
	// DeleteService removes the definition and all of its history.
	DeleteService(ctx context.Context, name string) error

	// SaveCheckResult appends a result and drops the oldest entries beyond the retention cap.
	SaveCheckResult(ctx context.Context, name string, result *models.HealthCheckResult) error
	// GetHistory returns up to limit most recent results, oldest first.
	GetHistory(ctx context.Context, name string, limit int) ([]models.HealthCheckResult, error)

	// GetConfig returns nil, nil if the key has never been saved.
	GetConfig(ctx context.Context, key string) ([]byte, error)
	SaveConfig(ctx context.Context, key string, value []byte) error

	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite  = "sqlite"
	BackendFile    = "file"
	BackendMongoDB = "mongodb"
)

// Config selects and configures a Gateway implementation.
type Config struct {
	Enabled       bool   `mapstructure:"enabled"`
	Backend       string `mapstructure:"backend"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	FilePath      string `mapstructure:"file_path"`
	MongoURI      string `mapstructure:"mongodb_uri"`
	MongoDatabase string `mapstructure:"mongodb_database"`
	// MaxHistory is the per-service retention cap applied by SaveCheckResult.
	MaxHistory int `mapstructure:"-"`
	// AppVersion guards the SQLite schema against older binaries.
	AppVersion string `mapstructure:"-"`
}

// Open builds the configured Gateway. When persistence is disabled an
// in-memory file store is returned so the engine never branches on it.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Gateway, error) {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}
	if !cfg.Enabled {
		logger.Info("persistence disabled, keeping state in memory")
		return NewFileStore("", cfg.MaxHistory)
	}

	switch cfg.Backend {
	case BackendSQLite, "":
		db, err := New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if cfg.AppVersion != "" {
			if err := db.CheckVersion(ctx, cfg.AppVersion); err != nil {
				db.Close()
				return nil, err
			}
		}
		gw, err := NewSQLiteGateway(ctx, db, cfg.MaxHistory)
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("using sqlite persistence", zap.String("path", cfg.SQLitePath))
		return gw, nil
	case BackendFile:
		gw, err := NewFileStore(cfg.FilePath, cfg.MaxHistory)
		if err != nil {
			return nil, err
		}
		logger.Info("using flat-file persistence", zap.String("path", cfg.FilePath))
		return gw, nil
	case BackendMongoDB:
		gw, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MaxHistory)
		if err != nil {
			return nil, err
		}
		logger.Info("using mongodb persistence", zap.String("database", cfg.MongoDatabase))
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
