package events

import (
	"context"
	"sync"
)

// MemoryRecorder keeps events in process, for development and tests
type MemoryRecorder struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryRecorder creates an empty in-memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record implements Recorder.Record
func (r *MemoryRecorder) Record(ctx context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *event
	r.events = append(r.events, &copied)
	return nil
}

// Count implements Recorder.Count
func (r *MemoryRecorder) Count(ctx context.Context, artifactUUID string, versionSeq uint64) (*Counts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := &Counts{
		ArtifactUUID: artifactUUID,
		VersionSeq:   versionSeq,
		ByKind:       make(map[Kind]int64),
	}
	for _, e := range r.events {
		if e.ArtifactUUID != artifactUUID || e.VersionSeq != versionSeq {
			continue
		}
		counts.ByKind[e.Kind]++
		counts.Total++
	}
	return counts, nil
}
