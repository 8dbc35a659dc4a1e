package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/civicase/relay/internal/broker"
)

// MemoryManifests is an in-memory broker.ManifestStore with the same
// conflict semantics as the MongoDB variant. Used by tests and local
// experimentation.
type MemoryManifests struct {
	mu        sync.Mutex
	manifests map[string]broker.Manifest
}

var _ broker.ManifestStore = (*MemoryManifests)(nil)

// NewMemoryManifests returns an empty in-memory manifest store.
func NewMemoryManifests() *MemoryManifests {
	return &MemoryManifests{manifests: make(map[string]broker.Manifest)}
}

func (s *MemoryManifests) Insert(_ context.Context, m *broker.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.manifests[m.Name]; exists {
		return fmt.Errorf("manifest %q: %w", m.Name, broker.ErrConflict)
	}
	s.manifests[m.Name] = *m
	return nil
}

func (s *MemoryManifests) Get(_ context.Context, queue string) (*broker.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[queue]
	if !ok {
		return nil, fmt.Errorf("manifest %q: %w", queue, broker.ErrNotFound)
	}
	copied := m
	return &copied, nil
}

func (s *MemoryManifests) List(_ context.Context) ([]*broker.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.manifests))
	for name := range s.manifests {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*broker.Manifest, 0, len(names))
	for _, name := range names {
		copied := s.manifests[name]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryManifests) Swap(_ context.Context, expect broker.ManifestStatus, m *broker.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.manifests[m.Name]
	if !ok {
		return fmt.Errorf("manifest %q: %w", m.Name, broker.ErrNotFound)
	}
	if current.Status != expect {
		return fmt.Errorf("manifest %q no longer %s: %w", m.Name, expect, broker.ErrConflict)
	}
	s.manifests[m.Name] = *m
	return nil
}

func (s *MemoryManifests) Update(_ context.Context, m *broker.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.manifests[m.Name]; !ok {
		return fmt.Errorf("manifest %q: %w", m.Name, broker.ErrNotFound)
	}
	s.manifests[m.Name] = *m
	return nil
}

func (s *MemoryManifests) Delete(_ context.Context, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.manifests[queue]; !ok {
		return fmt.Errorf("manifest %q: %w", queue, broker.ErrNotFound)
	}
	delete(s.manifests, queue)
	return nil
}

// MemoryMessages is an in-memory broker.MessageStore.
type MemoryMessages struct {
	mu       sync.Mutex
	messages map[string]broker.Message
}

var _ broker.MessageStore = (*MemoryMessages)(nil)

// NewMemoryMessages returns an empty in-memory message store.
func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{messages: make(map[string]broker.Message)}
}

func (s *MemoryMessages) Insert(_ context.Context, msg *broker.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return fmt.Errorf("message %s: %w", msg.ID, broker.ErrConflict)
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *MemoryMessages) Get(_ context.Context, id string) (*broker.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, broker.ErrNotFound)
	}
	copied := cloneMessage(&msg)
	return &copied, nil
}

func (s *MemoryMessages) Update(_ context.Context, msg *broker.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return fmt.Errorf("message %s: %w", msg.ID, broker.ErrNotFound)
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *MemoryMessages) FetchBatch(_ context.Context, queue string, limit int) ([]*broker.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var batch []*broker.Message
	for id := range s.messages {
		msg := s.messages[id]
		if msg.Queue != queue || msg.Status.Terminal() {
			continue
		}
		copied := cloneMessage(&msg)
		batch = append(batch, &copied)
	}
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].Created.Equal(batch[j].Created) {
			return batch[i].ID < batch[j].ID
		}
		return batch[i].Created.Before(batch[j].Created)
	})
	if limit > 0 && len(batch) > limit {
		batch = batch[:limit]
	}
	return batch, nil
}

func (s *MemoryMessages) CountByStatus(_ context.Context, queue string) (map[broker.Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[broker.Status]int64)
	for _, msg := range s.messages {
		if queue != "" && msg.Queue != queue {
			continue
		}
		counts[msg.Status]++
	}
	return counts, nil
}

func (s *MemoryMessages) HasBlocking(_ context.Context, discriminant, excludeID string) (bool, error) {
	if discriminant == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, msg := range s.messages {
		if id == excludeID || msg.Discriminant != discriminant {
			continue
		}
		if msg.Status.Blocking() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryMessages) PurgeQueue(_ context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, msg := range s.messages {
		if msg.Queue != queue || msg.Status == broker.StatusDeleted {
			continue
		}
		msg.Status = broker.StatusDeleted
		msg.StatusComment = "queue dropped"
		s.messages[id] = msg
		purged++
	}
	return purged, nil
}

func cloneMessage(msg *broker.Message) broker.Message {
	copied := *msg
	if msg.Context != nil {
		copied.Context = make(map[string]any, len(msg.Context))
		for k, v := range msg.Context {
			copied.Context[k] = v
		}
	}
	if msg.Processed != nil {
		t := *msg.Processed
		copied.Processed = &t
	}
	if msg.NextRun != nil {
		t := *msg.NextRun
		copied.NextRun = &t
	}
	return copied
}
