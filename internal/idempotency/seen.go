package idempotency

import (
	"strconv"
	"strings"
	"sync"
)

// SeenSet remembers recently observed keys so redelivered updates are
// handled at most once. Telegram re-posts webhook deliveries until it gets
// a 2xx and can hand the same update to overlapping getUpdates calls.
type SeenSet struct {
	mu    sync.Mutex
	cap   int
	seen  map[string]struct{}
	order []string
}

func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = 4096
	}
	return &SeenSet{
		cap:  capacity,
		seen: make(map[string]struct{}, capacity),
	}
}

// Observe records key and reports whether this was its first observation.
// Oldest keys fall out once the capacity is reached.
func (s *SeenSet) Observe(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
	for len(s.order) > s.cap {
		old := s.order[0]
		s.order = s.order[1:]
		delete(s.seen, old)
	}
	return true
}

func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func UpdateKey(updateID int64) string {
	return "update:" + strconv.FormatInt(updateID, 10)
}
