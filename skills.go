package skillswap

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
)

// ============================================================================
// SkillIndex
// ============================================================================

// SkillLister fetches the skill catalog from the backend.
type SkillLister interface {
	List(ctx context.Context) ([]Skill, error)
}

// SkillIndex holds the canonical skill catalog and resolves free-text names
// to catalog entries. It is safe for concurrent use.
type SkillIndex struct {
	source SkillLister
	logger *slog.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	skills []Skill
	byName map[string]Skill
}

// NewSkillIndex creates an empty index backed by source. source may be nil
// for an index populated only through Replace.
func NewSkillIndex(source SkillLister, logger *slog.Logger) *SkillIndex {
	if logger == nil {
		logger = discardLogger()
	}
	return &SkillIndex{
		source: source,
		logger: logger,
		skills: []Skill{},
		byName: map[string]Skill{},
	}
}

// Load refreshes the catalog from the backend and returns it. Failures are
// not returned: the catalog degrades to empty and every name lookup misses
// until the next successful load. Concurrent calls share one fetch.
func (x *SkillIndex) Load(ctx context.Context) []Skill {
	v, _, _ := x.group.Do("catalog", func() (any, error) {
		if x.source == nil {
			x.Replace(nil)
			return x.All(), nil
		}
		skills, err := x.source.List(ctx)
		if err != nil {
			x.logger.Warn("skill catalog unavailable", "error", err)
			skills = nil
		}
		x.Replace(skills)
		return x.All(), nil
	})
	return v.([]Skill)
}

// Replace swaps the whole catalog. Entries with an empty name are skipped;
// on duplicate names the first entry wins.
func (x *SkillIndex) Replace(skills []Skill) {
	list := make([]Skill, 0, len(skills))
	byName := make(map[string]Skill, len(skills))
	for _, s := range skills {
		key := foldName(s.Name)
		if key == "" {
			continue
		}
		list = append(list, s)
		if _, dup := byName[key]; !dup {
			byName[key] = s
		}
	}

	x.mu.Lock()
	x.skills = list
	x.byName = byName
	x.mu.Unlock()
}

// All returns a copy of the catalog in backend order.
func (x *SkillIndex) All() []Skill {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Skill, len(x.skills))
	copy(out, x.skills)
	return out
}

// Len returns the number of catalog entries.
func (x *SkillIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.skills)
}

// FindByName returns the catalog entry whose name equals name, ignoring case
// and surrounding whitespace. There is no partial matching.
func (x *SkillIndex) FindByName(name string) (Skill, bool) {
	key := foldName(name)
	if key == "" {
		return Skill{}, false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	s, ok := x.byName[key]
	return s, ok
}

// Resolve splits names into catalog ids and names the catalog does not know,
// preserving input order.
func (x *SkillIndex) Resolve(names []string) (ids []string, unknown []string) {
	ids, unknown = []string{}, []string{}
	for _, name := range names {
		if s, ok := x.FindByName(name); ok {
			ids = append(ids, s.ID)
		} else {
			unknown = append(unknown, strings.TrimSpace(name))
		}
	}
	return ids, unknown
}

// foldName builds the lookup key for a skill name. A Caser is stateful, so
// each call gets its own.
func foldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
