package api

import "sync"

// GenerationStore keeps the most recent completed generations for lookup by
// id. The oldest entry is evicted once capacity is reached.
type GenerationStore struct {
	mu    sync.Mutex
	cap   int
	order []string
	items map[string]GenerateResponse
}

func NewGenerationStore(capacity int) *GenerationStore {
	if capacity <= 0 {
		capacity = 128
	}
	return &GenerationStore{
		cap:   capacity,
		items: make(map[string]GenerateResponse, capacity),
	}
}

func (s *GenerationStore) Put(resp GenerateResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[resp.ID]; !ok {
		if len(s.order) == s.cap {
			delete(s.items, s.order[0])
			s.order = s.order[1:]
		}
		s.order = append(s.order, resp.ID)
	}
	s.items[resp.ID] = resp
}

func (s *GenerationStore) Get(id string) (GenerateResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.items[id]
	return resp, ok
}

func (s *GenerationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
