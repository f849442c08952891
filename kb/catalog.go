package kb

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/signalsfoundry/groundtrack/model"
)

// ErrSatelliteNotFound is returned when a name is not in the catalog.
var ErrSatelliteNotFound = errors.New("satellite not found")

// Catalog is a read-only, name-keyed set of element sets loaded from one
// feed. It is built once and never mutated, so concurrent readers need no
// locking; a reload builds a new Catalog.
type Catalog struct {
	byName    map[string]model.ElementSet
	byFolded  map[string]string
	byNorad   map[int]string
	names     []string
	fetchedAt time.Time
	source    string
	skipped   int
}

// NewCatalog indexes sets by name. When two entries share a name the first
// one wins and the rest are counted in Skipped.
func NewCatalog(sets []model.ElementSet, fetchedAt time.Time, source string) *Catalog {
	c := &Catalog{
		byName:    make(map[string]model.ElementSet, len(sets)),
		byFolded:  make(map[string]string, len(sets)),
		byNorad:   make(map[int]string, len(sets)),
		fetchedAt: fetchedAt.UTC(),
		source:    source,
	}
	for _, es := range sets {
		name := strings.TrimSpace(es.Name)
		if name == "" {
			name = es.ID()
		}
		if _, exists := c.byName[name]; exists {
			c.skipped++
			continue
		}
		es.Name = name
		c.byName[name] = es
		c.names = append(c.names, name)

		folded := strings.ToUpper(name)
		if _, ok := c.byFolded[folded]; !ok {
			c.byFolded[folded] = name
		}
		if es.NoradID > 0 {
			if _, ok := c.byNorad[es.NoradID]; !ok {
				c.byNorad[es.NoradID] = name
			}
		}
	}
	sort.Strings(c.names)
	return c
}

// Get looks up name exactly, then case-insensitively.
func (c *Catalog) Get(name string) (model.ElementSet, bool) {
	if c == nil {
		return model.ElementSet{}, false
	}
	name = strings.TrimSpace(name)
	if es, ok := c.byName[name]; ok {
		return es, true
	}
	if canonical, ok := c.byFolded[strings.ToUpper(name)]; ok {
		return c.byName[canonical], true
	}
	return model.ElementSet{}, false
}

// Lookup is Get returning ErrSatelliteNotFound on a miss.
func (c *Catalog) Lookup(name string) (model.ElementSet, error) {
	es, ok := c.Get(name)
	if !ok {
		return model.ElementSet{}, fmt.Errorf("%w: %q", ErrSatelliteNotFound, name)
	}
	return es, nil
}

// GetByNoradID looks up an element set by catalog number.
func (c *Catalog) GetByNoradID(id int) (model.ElementSet, bool) {
	if c == nil {
		return model.ElementSet{}, false
	}
	name, ok := c.byNorad[id]
	if !ok {
		return model.ElementSet{}, false
	}
	return c.byName[name], true
}

// Names returns the sorted body names. The slice is a copy.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.names...)
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

func (c *Catalog) Empty() bool { return c.Len() == 0 }

// FetchedAt is when the underlying feed was retrieved.
func (c *Catalog) FetchedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.fetchedAt
}

// Source names where the feed came from (a URL, "cache" or a file path).
func (c *Catalog) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Skipped counts duplicate names dropped at construction.
func (c *Catalog) Skipped() int {
	if c == nil {
		return 0
	}
	return c.skipped
}
