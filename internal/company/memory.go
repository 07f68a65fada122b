package company

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryDirectory is a Directory held in memory. It backs the sqlite store
// driver and local development.
type MemoryDirectory struct {
	mu        sync.RWMutex
	companies map[string]Company
}

// NewMemoryDirectory creates a directory holding companies.
func NewMemoryDirectory(companies ...Company) (*MemoryDirectory, error) {
	d := &MemoryDirectory{companies: map[string]Company{}}
	if _, err := d.Import(context.Background(), companies); err != nil {
		return nil, err
	}
	return d, nil
}

// Import adds or replaces companies. Identifiers accumulate.
func (d *MemoryDirectory) Import(_ context.Context, companies []Company) (int64, error) {
	if err := prepareImport(companies); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().UTC()
	for _, c := range companies {
		ids := map[string][]string{}
		if old, ok := d.companies[c.ID]; ok {
			for system, values := range old.Identifiers {
				ids[system] = slices.Clone(values)
			}
		}
		for system, values := range c.Identifiers {
			for _, v := range values {
				if !slices.Contains(ids[system], v) {
					ids[system] = append(ids[system], v)
				}
			}
			slices.Sort(ids[system])
		}
		c.Identifiers = ids
		c.UpdatedAt = now
		d.companies[c.ID] = c
	}
	zap.L().Debug("imported companies into memory directory", zap.Int("companies", len(companies)))
	return int64(len(companies)), nil
}

// ValidateIdentifier implements Directory.
func (d *MemoryDirectory) ValidateIdentifier(_ context.Context, identifier string) (string, error) {
	identifier = cleanIdentifier(identifier)
	if identifier == "" {
		return "", errEmptyIdentifier()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	for _, c := range d.companies {
		if c.ID == identifier || c.hasIdentifier(identifier) {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)
	return pickOne(identifier, ids)
}

// GetCompany implements Directory.
func (d *MemoryDirectory) GetCompany(_ context.Context, id string) (*Company, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.companies[id]
	if !ok {
		return nil, errCompanyNotFound(id)
	}
	out := c
	out.Identifiers = maps.Clone(c.Identifiers)
	return &out, nil
}

// Exists implements Directory.
func (d *MemoryDirectory) Exists(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.companies[id]
	return ok, nil
}

// Search matches identifiers exactly and names by normalized prefix or
// substring.
func (d *MemoryDirectory) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := NormalizeName(query)
	exact := cleanIdentifier(query)

	d.mu.RLock()
	var out []SearchResult
	for _, c := range d.companies {
		var score float64
		name := NormalizeName(c.Name)
		switch {
		case exact != "" && c.hasIdentifier(exact):
			score = 1
		case needle == "":
			continue
		case name == needle:
			score = 0.9
		case strings.HasPrefix(name, needle):
			score = 0.6
		case strings.Contains(name, needle):
			score = 0.3
		default:
			continue
		}
		out = append(out, SearchResult{ID: c.ID, Name: c.Name, CountryCode: c.CountryCode, Score: score})
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c Company) hasIdentifier(identifier string) bool {
	for _, values := range c.Identifiers {
		if slices.Contains(values, identifier) {
			return true
		}
	}
	return false
}
