// Package engine is the storage facade: it wires the page store, buffer
// pool and index catalog together and routes reads through an index when
// one covers the predicate, falling back to a table scan otherwise. Row
// storage itself lives behind the TableStore interface; the engine only
// resolves record references.
package engine

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"reldb/pkg/bufferpool"
	"reldb/pkg/config"
	"reldb/pkg/dberr"
	"reldb/pkg/index"
	"reldb/pkg/pagestore"
	"reldb/pkg/primitives"
)

// Row is one record's column values.
type Row map[string]any

// TableStore resolves record references to rows and enumerates tables.
// Implementations own the row format; the engine never interprets it
// beyond column lookup.
type TableStore interface {
	// GetRow fetches the row a reference points at.
	GetRow(table string, ref primitives.RecordRef) (Row, error)

	// Scan visits every row of a table. Returning false from fn stops the
	// scan early.
	Scan(table string, fn func(ref primitives.RecordRef, row Row) (bool, error)) error
}

// Engine is the top-level storage facade. Safe for concurrent readers;
// index mutation follows the underlying tree's single-writer rule.
type Engine struct {
	cfg     config.Config
	store   *pagestore.Store
	pool    *bufferpool.BufferPool
	indexes *index.Manager
	tables  TableStore
	logger  *zap.Logger

	// rows caches resolved rows keyed by "table/ref". Nil when disabled.
	rows *ristretto.Cache[string, Row]
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Open builds an engine over cfg.DataDir: page store, buffer pool with the
// configured eviction policy, index catalog, and the optional row cache.
func Open(cfg config.Config, tables TableStore, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, tables: tables, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}

	store, err := pagestore.Open(cfg.DataDir, pagestore.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}

	policy, err := bufferpool.NewPolicy(cfg.BufferPool.Policy, cfg.BufferPool.Capacity)
	if err != nil {
		store.Close()
		return nil, err
	}
	pool, err := bufferpool.New(store, cfg.BufferPool.Capacity, policy,
		bufferpool.WithLogger(e.logger))
	if err != nil {
		store.Close()
		return nil, err
	}

	indexes, err := index.NewManager(pool, cfg.DataDir, index.WithLogger(e.logger))
	if err != nil {
		store.Close()
		return nil, err
	}

	if cfg.Engine.RowCacheSize > 0 {
		e.rows, err = ristretto.NewCache(&ristretto.Config[string, Row]{
			NumCounters: cfg.Engine.RowCacheSize * 10,
			MaxCost:     cfg.Engine.RowCacheSize,
			BufferItems: 64,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to build row cache: %w", err)
		}
	}

	e.store = store
	e.pool = pool
	e.indexes = indexes
	e.logger.Info("engine opened",
		zap.String("data_dir", cfg.DataDir),
		zap.String("eviction_policy", cfg.BufferPool.Policy),
		zap.Int("pool_capacity", cfg.BufferPool.Capacity),
		zap.Int64("row_cache", cfg.Engine.RowCacheSize))
	return e, nil
}

// Indexes exposes the index catalog for maintenance: callers that mutate
// rows are responsible for keeping indexes in step.
func (e *Engine) Indexes() *index.Manager { return e.indexes }

// Pool exposes the buffer pool, mainly for inspection.
func (e *Engine) Pool() *bufferpool.BufferPool { return e.pool }

// CreateIndex registers a new index over the given columns using the
// configured default tree order. Composite indexes are catalogued but only
// single-column ones participate in predicate routing.
func (e *Engine) CreateIndex(name, table string, columns []string, unique bool) error {
	_, err := e.indexes.Create(name, table, columns, index.CreateOptions{
		Unique: unique,
		Order:  e.cfg.Index.Order,
	})
	return err
}

// DropIndex removes an index from the catalog.
func (e *Engine) DropIndex(name string) error {
	return e.indexes.Drop(name)
}

// CanUseIndex reports whether pred can be answered through an index:
// single-column equality on an indexed column with an encodable value.
func (e *Engine) CanUseIndex(table string, pred *Predicate) (index.Meta, bool) {
	if pred == nil || pred.Op != OpEq {
		return index.Meta{}, false
	}
	if _, ok := EncodeKey(pred.Value); !ok {
		return index.Meta{}, false
	}
	return e.indexes.Lookup(table, pred.Column)
}

// Select returns the rows of table matching pred, projected to the given
// columns. An equality predicate on an indexed column goes through the
// index; everything else falls back to a full scan.
func (e *Engine) Select(table string, pred *Predicate, projection []string) ([]Row, error) {
	if meta, ok := e.CanUseIndex(table, pred); ok {
		e.logger.Debug("select via index",
			zap.String("table", table), zap.String("index", meta.Name))
		return e.selectWithIndex(meta, table, pred, projection)
	}
	e.logger.Debug("select via scan", zap.String("table", table))
	return e.scanSelect(table, pred, projection)
}

// SelectWithIndex forces the index path, failing with IndexNotFound when
// no index covers the predicate column.
func (e *Engine) SelectWithIndex(table string, pred *Predicate, projection []string) ([]Row, error) {
	meta, ok := e.CanUseIndex(table, pred)
	if !ok {
		return nil, dberr.New(dberr.IndexNotFound, "StorageEngine", "select",
			"no index covers %s.%s for predicate %s", table, pred.Column, pred)
	}
	return e.selectWithIndex(meta, table, pred, projection)
}

func (e *Engine) selectWithIndex(meta index.Meta, table string, pred *Predicate, projection []string) ([]Row, error) {
	tree, err := e.indexes.Get(meta.Name)
	if err != nil {
		return nil, err
	}
	key, _ := EncodeKey(pred.Value)

	ref, found, err := tree.Search(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	row, err := e.getRow(table, ref)
	if err != nil {
		return nil, err
	}
	return []Row{project(row, projection)}, nil
}

func (e *Engine) scanSelect(table string, pred *Predicate, projection []string) ([]Row, error) {
	var out []Row
	err := e.tables.Scan(table, func(ref primitives.RecordRef, row Row) (bool, error) {
		if pred != nil && !pred.matches(row) {
			return true, nil
		}
		out = append(out, project(row, projection))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// getRow resolves a reference, consulting the row cache first.
func (e *Engine) getRow(table string, ref primitives.RecordRef) (Row, error) {
	if e.rows == nil {
		return e.tables.GetRow(table, ref)
	}

	key := rowCacheKey(table, ref)
	if row, ok := e.rows.Get(key); ok {
		return row, nil
	}
	row, err := e.tables.GetRow(table, ref)
	if err != nil {
		return nil, err
	}
	e.rows.Set(key, row, 1)
	return row, nil
}

// InvalidateRow drops a row from the cache. Callers that mutate rows must
// invalidate them; the engine itself never writes rows.
func (e *Engine) InvalidateRow(table string, ref primitives.RecordRef) {
	if e.rows != nil {
		e.rows.Del(rowCacheKey(table, ref))
	}
}

func rowCacheKey(table string, ref primitives.RecordRef) string {
	return fmt.Sprintf("%s/%d", table, ref)
}

// Status is a point-in-time snapshot of the engine's storage layers.
type Status struct {
	Store          pagestore.Stats
	Pool           bufferpool.Stats
	PoolCapacity   int
	EvictionPolicy string
	Indexes        []index.Meta
}

// Status gathers store, pool and catalog statistics.
func (e *Engine) Status() (Status, error) {
	storeStats, err := e.store.Stats()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Store:          storeStats,
		Pool:           e.pool.Stats(),
		PoolCapacity:   e.pool.Capacity(),
		EvictionPolicy: e.pool.PolicyName(),
		Indexes:        e.indexes.List(),
	}, nil
}

// Shutdown flushes every dirty page and closes the store.
func (e *Engine) Shutdown() error {
	var errs error
	if err := e.pool.FlushAll(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := e.store.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if e.rows != nil {
		e.rows.Close()
	}
	if errs != nil {
		e.logger.Error("engine shutdown with errors", zap.Error(errs))
		return errs
	}
	e.logger.Info("engine shut down cleanly")
	return nil
}
