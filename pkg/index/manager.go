// Package index maintains the catalog of secondary indexes: which indexes
// exist, which table and column each one covers, and where its B+tree root
// lives. The catalog is a JSON sidecar next to the page file, rewritten
// atomically on every change so a crash never leaves it half-written.
package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"reldb/pkg/bufferpool"
	"reldb/pkg/dberr"
	"reldb/pkg/index/bptree"
	"reldb/pkg/primitives"
)

const catalogFile = "indexes.json"

// Meta is the persisted description of one index. Columns lists the
// indexed columns in declaration order; the catalog records composite
// indexes, though only single-column ones take part in predicate routing.
type Meta struct {
	Name      string            `json:"name"`
	Table     string            `json:"table"`
	Columns   []string          `json:"columns"`
	Unique    bool              `json:"unique"`
	Order     int               `json:"order"`
	Root      primitives.PageID `json:"root_page_id"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateOptions tunes a new index. Zero values mean non-unique with the
// tree's default order.
type CreateOptions struct {
	Unique bool
	Order  int
}

// Manager owns every index in a database directory. Trees are opened
// lazily and cached; root page movements are written back to the catalog
// as they happen. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	pool   *bufferpool.BufferPool
	dir    string
	logger *zap.Logger

	metas map[string]*Meta
	open  map[string]*bptree.Tree
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager loads the catalog from dir, starting empty when no catalog
// file exists yet.
func NewManager(pool *bufferpool.BufferPool, dir string, opts ...Option) (*Manager, error) {
	m := &Manager{
		pool:   pool,
		dir:    dir,
		logger: zap.NewNop(),
		metas:  make(map[string]*Meta),
		open:   make(map[string]*bptree.Tree),
	}
	for _, opt := range opts {
		opt(m)
	}

	data, err := os.ReadFile(filepath.Join(dir, catalogFile))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read index catalog")
	}

	var metas []*Meta
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, errors.Wrap(err, "decode index catalog")
	}
	for _, meta := range metas {
		m.metas[meta.Name] = meta
	}
	m.logger.Info("loaded index catalog", zap.Int("indexes", len(m.metas)))
	return m, nil
}

// Create builds an empty index over the given columns and records it in
// the catalog. The name must be unused.
func (m *Manager) Create(name, table string, columns []string, opts CreateOptions) (*bptree.Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		return nil, dberr.New(dberr.StructuralInvariant, "IndexManager", "create",
			"index name must not be empty")
	}
	if len(columns) == 0 {
		return nil, dberr.New(dberr.StructuralInvariant, "IndexManager", "create",
			"index %q needs at least one column", name)
	}
	if _, ok := m.metas[name]; ok {
		return nil, dberr.New(dberr.IndexAlreadyExists, "IndexManager", "create",
			"index %q already exists", name)
	}

	tree, err := bptree.Create(m.pool, bptree.Config{
		Order:  opts.Order,
		Unique: opts.Unique,
		Logger: m.logger,
	})
	if err != nil {
		return nil, err
	}

	meta := &Meta{
		Name:      name,
		Table:     table,
		Columns:   append([]string(nil), columns...),
		Unique:    opts.Unique,
		Order:     tree.Order(),
		Root:      tree.Root(),
		CreatedAt: time.Now().UTC(),
	}
	m.metas[name] = meta
	if err := m.persistLocked(); err != nil {
		delete(m.metas, name)
		return nil, err
	}

	m.watchRoot(name, tree)
	m.open[name] = tree
	m.logger.Info("created index",
		zap.String("index", name), zap.String("table", table),
		zap.Strings("columns", columns), zap.Bool("unique", opts.Unique))
	return tree, nil
}

// Get returns the tree backing a named index, opening it on first use.
func (m *Manager) Get(name string) (*bptree.Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(name)
}

func (m *Manager) getLocked(name string) (*bptree.Tree, error) {
	if tree, ok := m.open[name]; ok {
		return tree, nil
	}
	meta, ok := m.metas[name]
	if !ok {
		return nil, dberr.New(dberr.IndexNotFound, "IndexManager", "get",
			"index %q does not exist", name)
	}

	tree, err := bptree.Open(m.pool, meta.Root, bptree.Config{
		Order:  meta.Order,
		Unique: meta.Unique,
		Logger: m.logger,
	})
	if err != nil {
		return nil, err
	}
	m.watchRoot(name, tree)
	m.open[name] = tree
	return tree, nil
}

// Drop removes an index from the catalog. The tree's pages stay allocated
// in the page file; reclaiming them would mean walking the whole tree, so
// a drop only severs the catalog entry.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.metas[name]
	if !ok {
		return dberr.New(dberr.IndexNotFound, "IndexManager", "drop",
			"index %q does not exist", name)
	}
	delete(m.metas, name)
	delete(m.open, name)
	if err := m.persistLocked(); err != nil {
		m.metas[name] = meta
		return err
	}
	m.logger.Info("dropped index", zap.String("index", name))
	return nil
}

// List returns every catalog entry sorted by name.
func (m *Manager) List() []Meta {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Meta, 0, len(m.metas))
	for _, meta := range m.metas {
		out = append(out, *meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a single-column index covering a table column, if any.
// Composite indexes never match: only single-column search is contracted,
// so routing a one-column predicate through a composite tree would be
// wrong. With several candidates the lexicographically first name wins,
// keeping plans stable.
func (m *Manager) Lookup(table, column string) (Meta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Meta
	for _, meta := range m.metas {
		if meta.Table != table || len(meta.Columns) != 1 || meta.Columns[0] != column {
			continue
		}
		if best == nil || meta.Name < best.Name {
			best = meta
		}
	}
	if best == nil {
		return Meta{}, false
	}
	return *best, true
}

// Has reports whether an index by that name exists.
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.metas[name]
	return ok
}

// watchRoot keeps the catalog's root pointer in sync with root splits.
func (m *Manager) watchRoot(name string, tree *bptree.Tree) {
	tree.OnRootChange(func(root primitives.PageID) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		meta, ok := m.metas[name]
		if !ok {
			// Dropped while a caller still held the tree; nothing to record.
			return nil
		}
		meta.Root = root
		return m.persistLocked()
	})
}

// persistLocked rewrites the catalog atomically via a temp file rename.
func (m *Manager) persistLocked() error {
	metas := make([]*Meta, 0, len(m.metas))
	for _, meta := range m.metas {
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })

	data, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode index catalog")
	}

	path := filepath.Join(m.dir, catalogFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write index catalog")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "replace index catalog")
	}
	return nil
}
