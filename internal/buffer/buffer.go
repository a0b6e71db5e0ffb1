// Package buffer implements the per-entity-kind write-behind persist
// buffers used during RF2 ingestion: each kind accumulates incoming
// components in memory and flushes them in a batch once it reaches
// FlushInterval, or on demand at the end of an import.
package buffer

import (
	"context"
	"sync"
	"sync/atomic"
)

// FlushInterval is the number of buffered entities per kind that triggers
// an automatic flush.
const FlushInterval = 5000

// PersistFunc writes a batch of entities to the backing store. Buffers
// never retry internally; a PersistFunc failure propagates to the caller
// of Save or Flush.
type PersistFunc func(ctx context.Context, entities []interface{}) error

// Buffer is a single-writer, in-memory batch for one entity kind.
type Buffer struct {
	mu      sync.Mutex
	items   []interface{}
	persist PersistFunc
}

// New returns an empty Buffer that flushes via persist.
func New(persist PersistFunc) *Buffer {
	return &Buffer{persist: persist}
}

// Save appends entity to the buffer, flushing automatically once it
// reaches FlushInterval.
func (b *Buffer) Save(ctx context.Context, entity interface{}) error {
	b.mu.Lock()
	b.items = append(b.items, entity)
	shouldFlush := len(b.items) >= FlushInterval
	b.mu.Unlock()

	if shouldFlush {
		return b.Flush(ctx)
	}
	return nil
}

// Flush persists every buffered entity and clears the buffer, even if
// persist fails partway — the caller decides whether to roll back the
// enclosing commit.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.items
	b.items = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.persist(ctx, batch)
}

// Len reports how many entities are currently buffered, unflushed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Kind names one of the buffer set's entity kinds.
type Kind string

const (
	KindConcept            Kind = "concept"
	KindDescription        Kind = "description"
	KindRelationship       Kind = "relationship"
	KindIdentifier         Kind = "identifier"
	KindReferenceSetMember Kind = "referenceSetMember"
)

// coreKinds are flushed before any dependent kind's first flush, so that
// reference-set members and identifiers never land in the index before the
// components they reference.
var coreKinds = map[Kind]bool{
	KindConcept:      true,
	KindDescription:  true,
	KindRelationship: true,
}

// IsCore reports whether k is a core-component kind.
func IsCore(k Kind) bool { return coreKinds[k] }

// Set holds one Buffer per entity kind plus the core-flushed latch that
// enforces dependency ordering between core and dependent buffers.
type Set struct {
	buffers map[Kind]*Buffer
	// coreFlushed is a monotonic one-way latch: false -> true, never back.
	// Its transition must be visible to every ingest goroutine consulting
	// it, hence the atomic access.
	coreFlushed atomic.Bool
}

// NewSet builds a Set with one buffer per kind, each flushing via the
// corresponding persist function in persistFuncs.
func NewSet(persistFuncs map[Kind]PersistFunc) *Set {
	s := &Set{buffers: make(map[Kind]*Buffer, len(persistFuncs))}
	for kind, fn := range persistFuncs {
		s.buffers[kind] = New(fn)
	}
	return s
}

// Save appends entity to kind's buffer. For a dependent kind, it flushes
// every core buffer first if that has not already happened once.
func (s *Set) Save(ctx context.Context, kind Kind, entity interface{}) error {
	if !IsCore(kind) && !s.coreFlushed.Load() {
		if err := s.flushCore(ctx); err != nil {
			return err
		}
	}
	b, ok := s.buffers[kind]
	if !ok {
		b = New(nil)
		s.buffers[kind] = b
	}
	return b.Save(ctx, entity)
}

func (s *Set) flushCore(ctx context.Context) error {
	for kind := range coreKinds {
		b, ok := s.buffers[kind]
		if !ok {
			continue
		}
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	s.coreFlushed.Store(true)
	return nil
}

// FlushAll flushes every buffer in the set, core kinds first, used at the
// end of a successful import.
func (s *Set) FlushAll(ctx context.Context) error {
	if err := s.flushCore(ctx); err != nil {
		return err
	}
	for kind, b := range s.buffers {
		if IsCore(kind) {
			continue
		}
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
