package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// Store persists the partition registry, owner index and balancer
// configuration in registry.db so they survive process restarts.
// Circuit breaker state is deliberately not stored: a stale Open breaker
// after restart would only cost availability, never correctness.
type Store struct {
	db     *sql.DB // write connection (single writer)
	readDB *sql.DB // read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // serializes writes
}

// OwnerRow is an owner binding as loaded from the store.
type OwnerRow struct {
	Current types.PartitionID
	History []types.PartitionID
}

// schemaSQL holds the registry schema statements.
var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS partitions (
		partition_id          TEXT PRIMARY KEY,
		endpoint              TEXT NOT NULL,
		weight                INTEGER NOT NULL DEFAULT 1,
		created_at            INTEGER NOT NULL,
		active                INTEGER NOT NULL DEFAULT 1,
		read_only             INTEGER NOT NULL DEFAULT 0,
		record_count          INTEGER NOT NULL DEFAULT 0,
		storage_used_bytes    INTEGER NOT NULL DEFAULT 0,
		storage_used_fraction REAL NOT NULL DEFAULT 0,
		avg_latency_ns        INTEGER NOT NULL DEFAULT 0,
		error_rate            REAL NOT NULL DEFAULT 0,
		metrics_updated_at    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS owner_index (
		owner_key         TEXT NOT NULL,
		partition_id      TEXT NOT NULL,
		current           INTEGER NOT NULL DEFAULT 1,
		first_assigned_at INTEGER NOT NULL,
		PRIMARY KEY (owner_key, partition_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_owner_index_owner ON owner_index(owner_key)`,
	`CREATE TABLE IF NOT EXISTS balancer_config (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		version     INTEGER NOT NULL,
		config_json TEXT NOT NULL
	)`,
}

// OpenStore opens (or creates) the registry database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, readDB: readDB, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("registry: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range schemaSQL {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// InsertPartition persists a newly registered partition.
func (s *Store) InsertPartition(ctx context.Context, snap types.PartitionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO partitions (
			partition_id, endpoint, weight, created_at, active, read_only,
			record_count, storage_used_bytes, storage_used_fraction,
			avg_latency_ns, error_rate, metrics_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(snap.Info.ID), snap.Info.Endpoint, snap.Info.Weight,
		snap.Info.CreatedAt.UnixNano(), boolToInt(snap.Active), boolToInt(snap.ReadOnly),
		snap.Metrics.RecordCount, snap.Metrics.StorageUsedBytes, snap.Metrics.StorageUsedFraction,
		int64(snap.Metrics.AvgLatency), snap.Metrics.ErrorRate, metricsUpdatedAtNanos(snap.Metrics))
	if err != nil {
		return fmt.Errorf("registry: failed to insert partition %s: %w", snap.Info.ID, err)
	}
	return nil
}

// UpdateMetrics overwrites the persisted metrics for a partition.
func (s *Store) UpdateMetrics(ctx context.Context, id types.PartitionID, m types.PartitionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE partitions SET
			record_count = ?, storage_used_bytes = ?, storage_used_fraction = ?,
			avg_latency_ns = ?, error_rate = ?, metrics_updated_at = ?
		WHERE partition_id = ?`,
		m.RecordCount, m.StorageUsedBytes, m.StorageUsedFraction,
		int64(m.AvgLatency), m.ErrorRate, metricsUpdatedAtNanos(m), string(id))
	if err != nil {
		return fmt.Errorf("registry: failed to update metrics for %s: %w", id, err)
	}
	return nil
}

// UpdateFlags overwrites the persisted health flags for a partition.
func (s *Store) UpdateFlags(ctx context.Context, id types.PartitionID, active, readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE partitions SET active = ?, read_only = ? WHERE partition_id = ?`,
		boolToInt(active), boolToInt(readOnly), string(id))
	if err != nil {
		return fmt.Errorf("registry: failed to update flags for %s: %w", id, err)
	}
	return nil
}

// LoadPartitions returns all persisted partitions.
func (s *Store) LoadPartitions(ctx context.Context) ([]types.PartitionSnapshot, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT partition_id, endpoint, weight, created_at, active, read_only,
		       record_count, storage_used_bytes, storage_used_fraction,
		       avg_latency_ns, error_rate, metrics_updated_at
		FROM partitions ORDER BY partition_id`)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to load partitions: %w", err)
	}
	defer rows.Close()

	var snaps []types.PartitionSnapshot
	for rows.Next() {
		var (
			id, endpoint                     string
			weight                           uint32
			createdNanos, latencyNanos       int64
			active, readOnly                 int
			recordCount, storageBytes        int64
			storageFraction, errorRate       float64
			metricsNanos                     int64
		)
		if err := rows.Scan(&id, &endpoint, &weight, &createdNanos, &active, &readOnly,
			&recordCount, &storageBytes, &storageFraction, &latencyNanos, &errorRate,
			&metricsNanos); err != nil {
			return nil, fmt.Errorf("registry: failed to scan partition row: %w", err)
		}

		snap := types.PartitionSnapshot{
			Info: types.PartitionInfo{
				ID:        types.PartitionID(id),
				Endpoint:  endpoint,
				Weight:    weight,
				CreatedAt: time.Unix(0, createdNanos),
			},
			Metrics: types.PartitionMetrics{
				RecordCount:         recordCount,
				StorageUsedBytes:    storageBytes,
				StorageUsedFraction: storageFraction,
				AvgLatency:          time.Duration(latencyNanos),
				ErrorRate:           errorRate,
			},
			Active:   active != 0,
			ReadOnly: readOnly != 0,
		}
		if metricsNanos != 0 {
			snap.Metrics.UpdatedAt = time.Unix(0, metricsNanos)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// UpsertOwner records an (owner, partition) pair and marks it as the owner's
// current binding, demoting any previous binding. Re-inserting an existing
// pair only refreshes the current flag.
func (s *Store) UpsertOwner(ctx context.Context, ownerKey string, id types.PartitionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: failed to begin owner upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE owner_index SET current = 0 WHERE owner_key = ?`, ownerKey); err != nil {
		return fmt.Errorf("registry: failed to demote owner bindings for %s: %w", ownerKey, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO owner_index (owner_key, partition_id, current, first_assigned_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(owner_key, partition_id) DO UPDATE SET current = 1`,
		ownerKey, string(id), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("registry: failed to upsert owner binding %s -> %s: %w", ownerKey, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: failed to commit owner upsert: %w", err)
	}
	return nil
}

// LoadOwners returns every owner binding, history ordered by first
// assignment time.
func (s *Store) LoadOwners(ctx context.Context) (map[string]OwnerRow, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT owner_key, partition_id, current
		FROM owner_index ORDER BY owner_key, first_assigned_at`)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to load owner index: %w", err)
	}
	defer rows.Close()

	out := make(map[string]OwnerRow)
	for rows.Next() {
		var owner, id string
		var current int
		if err := rows.Scan(&owner, &id, &current); err != nil {
			return nil, fmt.Errorf("registry: failed to scan owner row: %w", err)
		}
		row := out[owner]
		row.History = append(row.History, types.PartitionID(id))
		if current != 0 {
			row.Current = types.PartitionID(id)
		}
		out[owner] = row
	}
	return out, rows.Err()
}

// SaveBalancerConfig persists the strategy configuration.
func (s *Store) SaveBalancerConfig(ctx context.Context, cfg types.BalancerConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("registry: failed to encode balancer config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO balancer_config (id, version, config_json) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, config_json = excluded.config_json`,
		cfg.Version, string(raw))
	if err != nil {
		return fmt.Errorf("registry: failed to save balancer config: %w", err)
	}
	return nil
}

// LoadBalancerConfig returns the persisted strategy configuration, or nil if
// none has been saved yet.
func (s *Store) LoadBalancerConfig(ctx context.Context) (*types.BalancerConfig, error) {
	var raw string
	err := s.readDB.QueryRowContext(ctx,
		`SELECT config_json FROM balancer_config WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: failed to load balancer config: %w", err)
	}

	var cfg types.BalancerConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("registry: failed to decode balancer config: %w", err)
	}
	return &cfg, nil
}

// Close closes both database connections.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.readDB.Close()
		return err
	}
	return s.readDB.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func metricsUpdatedAtNanos(m types.PartitionMetrics) int64 {
	if m.UpdatedAt.IsZero() {
		return 0
	}
	return m.UpdatedAt.UnixNano()
}
