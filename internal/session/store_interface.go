package session

import "time"

// Record is the mirrored view of a live session, shared between gateway
// instances through the record store.
type Record struct {
	Stats
	Instance  string    `json:"instance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordStore mirrors registry contents. Writes are best effort and log
// their own failures; the registry never blocks admission on them.
type RecordStore interface {
	Save(rec Record)
	Delete(id string)
	List() ([]Record, error)
	Close() error
}
