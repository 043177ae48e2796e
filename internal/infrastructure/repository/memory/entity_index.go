package memory

import (
	"sync"

	"github.com/prospectdb/prospect-stats/internal/domain/entity"
)

// EntityIndex remembers resolved entities across queries so repeat
// resolutions return the UID already handed out.
type EntityIndex struct {
	mu    sync.RWMutex
	byKey map[string]entity.CanonicalEntity
}

func NewEntityIndex() *EntityIndex {
	return &EntityIndex{byKey: make(map[string]entity.CanonicalEntity)}
}

func (i *EntityIndex) LookupExact(key string) (entity.CanonicalEntity, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	e, ok := i.byKey[key]
	return e, ok
}

func (i *EntityIndex) Upsert(key string, e entity.CanonicalEntity) {
	if key == "" || e.EntityUID == "" {
		return
	}

	i.mu.Lock()
	i.byKey[key] = e
	i.mu.Unlock()
}

func (i *EntityIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byKey)
}
