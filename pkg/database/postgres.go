package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"census-atlas/pkg/logging"
	"census-atlas/pkg/metrics"
)

// Config holds database connection configuration
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode" split_words:"true"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `yaml:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" split_words:"true"`
}

// DSN renders the lib/pq connection string
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

// PostgresDB wraps sqlx.DB with monitoring and metrics
type PostgresDB struct {
	db      *sqlx.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	config  *Config
	done    chan struct{}
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*PostgresDB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(context.Background(), "[DB_INIT] PostgreSQL connection established", logging.Fields{
		"host":              cfg.Host,
		"port":              cfg.Port,
		"database":          cfg.Database,
		"max_open_conns":    cfg.MaxOpenConns,
		"max_idle_conns":    cfg.MaxIdleConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})

	pgDB := NewPostgresDBWithDB(db, cfg, logger, metricsCollector)
	go pgDB.monitorConnectionPool(10 * time.Second)

	return pgDB, nil
}

// NewPostgresDBWithDB wraps an already opened handle without pinging it
// or starting the pool monitor.
func NewPostgresDBWithDB(db *sqlx.DB, cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PostgresDB {
	if cfg == nil {
		cfg = &Config{}
	}
	return &PostgresDB{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
		done:    make(chan struct{}),
	}
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	p.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
		"database": p.config.Database,
	})
	close(p.done)
	return p.db.Close()
}

// DB returns the underlying sqlx.DB instance
func (p *PostgresDB) DB() *sqlx.DB {
	return p.db
}

// ExecContext executes a command with context and metrics
func (p *PostgresDB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		p.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())

		p.logger.Debug(ctx, "[DB_EXEC] Command executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		p.metrics.RecordDBError("exec_error")
		p.logger.Error(ctx, "[DB_EXEC_ERROR] Command failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return nil, err
	}

	return result, nil
}

// SelectContext executes a query that returns multiple rows
func (p *PostgresDB) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		p.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	}()

	err := p.db.SelectContext(ctx, dest, query, args...)
	if err != nil {
		p.metrics.RecordDBError("select_error")
		p.logger.Error(ctx, "[DB_SELECT_ERROR] Select query failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return err
	}

	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func (p *PostgresDB) WithTx(ctx context.Context, queryType string, fn func(tx *sqlx.Tx) error) error {
	timer := time.Now()
	defer func() {
		p.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(timer).Seconds())
	}()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		p.metrics.RecordDBError("transaction_begin_error")
		p.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{
			"query_type": queryType,
		}, err)
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			p.logger.Error(ctx, "[DB_TX_ERROR] Rollback failed", logging.Fields{
				"query_type": queryType,
			}, rbErr)
		}
		p.metrics.RecordDBError("transaction_error")
		return err
	}

	if err := tx.Commit(); err != nil {
		p.metrics.RecordDBError("transaction_commit_error")
		p.logger.Error(ctx, "[DB_TX_ERROR] Commit failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return err
	}
	return nil
}

// monitorConnectionPool periodically updates connection pool metrics
func (p *PostgresDB) monitorConnectionPool(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		stats := p.db.Stats()

		p.metrics.UpdateDBConnectionPool(
			stats.InUse,
			stats.Idle,
			stats.OpenConnections,
		)

		if p.config.MaxOpenConns <= 0 {
			continue
		}
		// Log warning if connection pool is near capacity
		utilization := float64(stats.InUse) / float64(p.config.MaxOpenConns)
		if utilization > 0.8 {
			p.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool utilization high", logging.Fields{
				"in_use":      stats.InUse,
				"idle":        stats.Idle,
				"total":       stats.OpenConnections,
				"max_open":    p.config.MaxOpenConns,
				"utilization": fmt.Sprintf("%.2f%%", utilization*100),
			})
		}
	}
}

// HealthCheck performs a database health check
func (p *PostgresDB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
