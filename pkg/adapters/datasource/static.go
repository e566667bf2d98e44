package datasource

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// StaticProvider serves in-memory tables. Tables are copied on the way in
// and on the way out.
type StaticProvider struct {
	mu     sync.RWMutex
	tables map[string]*models.Table
}

// NewStaticProvider creates a provider holding copies of tables, keyed by name.
func NewStaticProvider(tables ...*models.Table) *StaticProvider {
	p := &StaticProvider{tables: make(map[string]*models.Table, len(tables))}
	for _, t := range tables {
		p.tables[t.Name] = t.Clone()
	}
	return p
}

var _ TableProvider = (*StaticProvider)(nil)

// Get returns a deep copy of the named table.
func (p *StaticProvider) Get(ctx context.Context, key string) (*models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.tables[key]
	if !ok {
		return nil, fmt.Errorf("dataset %q (available: %v): %w", key, p.keysLocked(), apperrors.ErrNotFound)
	}
	return t.Clone(), nil
}

// Put replaces or adds a table. Used by ingestion to publish new data.
func (p *StaticProvider) Put(t *models.Table) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables[t.Name] = t.Clone()
}

// Keys lists the available dataset names.
func (p *StaticProvider) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keysLocked()
}

func (p *StaticProvider) keysLocked() []string {
	keys := make([]string, 0, len(p.tables))
	for k := range p.tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fixtureFile is the on-disk layout of a fixture set.
type fixtureFile struct {
	Tables map[string]struct {
		Columns []string     `yaml:"columns"`
		Rows    []models.Row `yaml:"rows"`
	} `yaml:"tables"`
}

// ParseFixtures decodes a YAML fixture document into tables.
//
//	tables:
//	  hplc:
//	    columns: [sample_id, purity]
//	    rows:
//	      - {sample_id: SMPL-1, purity: 99.8}
func ParseFixtures(data []byte) ([]*models.Table, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	names := make([]string, 0, len(f.Tables))
	for name := range f.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make([]*models.Table, 0, len(names))
	for _, name := range names {
		ft := f.Tables[name]
		t := &models.Table{Name: name, Columns: ft.Columns, Rows: ft.Rows}
		for i, row := range t.Rows {
			if row == nil {
				t.Rows[i] = models.Row{}
				continue
			}
			for col := range row {
				if !t.HasColumn(col) {
					return nil, fmt.Errorf("fixture table %q row %d has undeclared column %q: %w",
						name, i, col, apperrors.ErrInvalidInput)
				}
			}
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// LoadFixtures reads a fixture file into a StaticProvider.
func LoadFixtures(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures %s: %w", path, err)
	}
	tables, err := ParseFixtures(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewStaticProvider(tables...), nil
}
