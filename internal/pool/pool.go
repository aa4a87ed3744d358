// Package pool maps logical (instance, database) targets to live backend
// connections. One manager is constructed at process start and shared; it is
// the only shared mutable state in the execution core.
//
// Acquisition is get-or-create and idempotent: concurrent calls for the same
// key never create two underlying pools. Use of an already-created pool is
// unrestricted and relies on the backend SDK's own concurrency guarantees.
package pool

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/errdefs"
)

// Manager is the process-wide connection registry.
type Manager struct {
	mu       sync.Mutex
	postgres map[string]*pgxpool.Pool
	mongo    map[string]*mongo.Client
}

// NewManager creates an empty connection registry.
func NewManager() *Manager {
	return &Manager{
		postgres: make(map[string]*pgxpool.Pool),
		mongo:    make(map[string]*mongo.Client),
	}
}

// PostgresKey is the cache key for a relational pool.
func PostgresKey(instanceID, database string) string {
	return instanceID + ":" + database
}

// AcquirePostgres returns the pool for (instance, database), creating it on
// first use. Credentials fall back to the environment when the instance
// carries none.
func (m *Manager) AcquirePostgres(ctx context.Context, inst *config.Instance, database string) (*pgxpool.Pool, error) {
	if inst.Backend != config.BackendPostgres {
		return nil, errdefs.Configuration("instance %s is not a postgres instance", inst.ID)
	}

	key := PostgresKey(inst.ID, database)

	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.postgres[key]; ok {
		return pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(PostgresDSN(inst, database))
	if err != nil {
		return nil, errdefs.Configuration("instance %s: invalid connection parameters: %v", inst.ID, err)
	}

	// Log mid-life connection faults instead of letting them surface only
	// as failed acquisitions much later.
	poolCfg.ConnConfig.OnPgError = func(_ *pgconn.PgConn, pgErr *pgconn.PgError) bool {
		log.Error().
			Str("instance", inst.ID).
			Str("database", database).
			Str("code", pgErr.Code).
			Str("detail", pgErr.Message).
			Msg("Postgres connection error")
		return true
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errdefs.Configuration("instance %s: failed to create pool: %v", inst.ID, err)
	}

	m.postgres[key] = pool
	log.Info().Str("key", key).Msg("Created postgres pool")
	return pool, nil
}

// AcquireMongo returns the client for an instance, creating and eagerly
// connecting it on first use so configuration failures surface immediately.
// One client serves all databases on the instance.
func (m *Manager) AcquireMongo(ctx context.Context, inst *config.Instance) (*mongo.Client, error) {
	if inst.Backend != config.BackendMongo {
		return nil, errdefs.Configuration("instance %s is not a mongodb instance", inst.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.mongo[inst.ID]; ok {
		return client, nil
	}

	uri, err := MongoURI(inst)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errdefs.Configuration("instance %s: failed to connect: %v", inst.ID, err)
	}

	// Eager round trip; Connect alone does not dial.
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errdefs.Configuration("instance %s: ping failed: %v", inst.ID, err)
	}

	m.mongo[inst.ID] = client
	log.Info().Str("key", inst.ID).Msg("Created mongodb client")
	return client, nil
}

// PostgresDSN builds the connection string for an instance and database,
// resolving credentials from the environment when the instance carries none.
func PostgresDSN(inst *config.Instance, database string) string {
	creds := ResolveCredentials(inst)
	port := inst.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		inst.Host, port, database, creds.User, creds.Password)
}

// MongoURI builds the connection URI from an explicit URI or host, port and
// resolved credentials.
func MongoURI(inst *config.Instance) (string, error) {
	if inst.URI != "" {
		return inst.URI, nil
	}
	if inst.Host == "" || inst.Port == 0 {
		return "", errdefs.Configuration("instance %s: neither uri nor host+port configured", inst.ID)
	}

	creds := ResolveCredentials(inst)
	if creds.User == "" {
		return fmt.Sprintf("mongodb://%s:%d", inst.Host, inst.Port), nil
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d",
		url.QueryEscape(creds.User), url.QueryEscape(creds.Password), inst.Host, inst.Port), nil
}

// PostgresPoolStats describes one cached relational pool.
type PostgresPoolStats struct {
	Total   int32 `json:"total"`
	Idle    int32 `json:"idle"`
	Waiting int64 `json:"waiting"`
}

// Stats is the observability snapshot of the registry.
type Stats struct {
	Postgres   map[string]PostgresPoolStats `json:"relational"`
	Mongo      map[string]bool              `json:"documentStore"`
	TotalCount int                          `json:"totalCount"`
	Connected  bool                         `json:"connected"`
}

// Stats reports per-key pool state. Mongo liveness uses a short ping per
// client so a dead instance shows up as false rather than an error.
func (m *Manager) Stats() *Stats {
	m.mu.Lock()
	pgPools := make(map[string]*pgxpool.Pool, len(m.postgres))
	for k, v := range m.postgres {
		pgPools[k] = v
	}
	mongoClients := make(map[string]*mongo.Client, len(m.mongo))
	for k, v := range m.mongo {
		mongoClients[k] = v
	}
	m.mu.Unlock()

	stats := &Stats{
		Postgres:   make(map[string]PostgresPoolStats, len(pgPools)),
		Mongo:      make(map[string]bool, len(mongoClients)),
		TotalCount: len(pgPools) + len(mongoClients),
	}

	for key, pool := range pgPools {
		s := pool.Stat()
		stats.Postgres[key] = PostgresPoolStats{
			Total:   s.TotalConns(),
			Idle:    s.IdleConns(),
			Waiting: s.EmptyAcquireCount(),
		}
	}

	for key, client := range mongoClients {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		stats.Mongo[key] = client.Ping(ctx, readpref.Primary()) == nil
		cancel()
	}

	stats.Connected = stats.TotalCount > 0
	return stats
}

// Release closes the cached entry for key, or every entry when no key is
// given. Entries are removed from the cache even when the underlying close
// fails, so a dead handle is never handed out again.
func (m *Manager) Release(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(keys) == 0 {
		keys = make([]string, 0, len(m.postgres)+len(m.mongo))
		for k := range m.postgres {
			keys = append(keys, k)
		}
		for k := range m.mongo {
			keys = append(keys, k)
		}
	}

	var firstErr error
	for _, key := range keys {
		if pool, ok := m.postgres[key]; ok {
			delete(m.postgres, key)
			pool.Close()
			log.Debug().Str("key", key).Msg("Released postgres pool")
			continue
		}
		if client, ok := m.mongo[key]; ok {
			delete(m.mongo, key)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := client.Disconnect(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to disconnect %s: %w", key, err)
			}
			cancel()
			log.Debug().Str("key", key).Msg("Released mongodb client")
		}
	}
	return firstErr
}
