package session

import (
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

type MemoryStore struct {
	ttl     time.Duration
	records sync.Map
	stop    chan struct{}
	once    sync.Once
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	store := &MemoryStore{ttl: ttl, stop: make(chan struct{})}
	go store.cleanupLoop()
	return store
}

func (st *MemoryStore) Save(rec Record) {
	st.records.Store(rec.ID, memoryEntry{rec: rec, expiresAt: time.Now().Add(st.ttl)})
}

func (st *MemoryStore) Delete(id string) {
	st.records.Delete(id)
}

func (st *MemoryStore) List() ([]Record, error) {
	now := time.Now()
	var out []Record
	st.records.Range(func(_, value any) bool {
		entry := value.(memoryEntry)
		if now.Before(entry.expiresAt) {
			out = append(out, entry.rec)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (st *MemoryStore) Close() error {
	st.once.Do(func() { close(st.stop) })
	return nil
}

func (st *MemoryStore) cleanupLoop() {
	interval := st.ttl
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case now := <-ticker.C:
			st.records.Range(func(key, value any) bool {
				if !now.Before(value.(memoryEntry).expiresAt) {
					st.records.Delete(key)
				}
				return true
			})
		}
	}
}
