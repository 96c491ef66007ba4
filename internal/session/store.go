package session

import (
	"strings"
	"sync"
	"time"
)

// DefaultMaxHistory bounds the turns retained (and therefore sent upstream)
// per user.
const DefaultMaxHistory = 6

type Turn struct {
	Role    string
	Content string
}

// Session is a point-in-time copy of one user's conversational state.
// Mutations go through the Store.
type Session struct {
	UserID           int64
	History          []Turn
	AwaitingPrompt   bool
	AwaitingUpload   bool
	PendingImagePath string
	CreatedAt        time.Time
	LastActiveAt     time.Time
}

type state struct {
	history          []Turn
	awaitingPrompt   bool
	awaitingUpload   bool
	pendingImagePath string
	createdAt        time.Time
	lastActiveAt     time.Time
}

// Store holds all sessions for the process lifetime. There is no
// persistence; a restart forgets everything.
type Store struct {
	mu         sync.Mutex
	maxHistory int
	sessions   map[int64]*state
}

func NewStore(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Store{
		maxHistory: maxHistory,
		sessions:   make(map[int64]*state),
	}
}

// GetOrCreate returns a snapshot of the user's session, creating an empty
// one on first contact. It never fails.
func (s *Store) GetOrCreate(userID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(userID)
	return snapshotLocked(userID, st)
}

// Reset removes the session entirely. It returns the pending image path, if
// any, so the caller can release the file. No-op for unknown users.
func (s *Store) Reset(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return ""
	}
	delete(s.sessions, userID)
	return st.pendingImagePath
}

func (s *Store) AppendTurn(userID int64, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(userID)
	st.history = append(st.history, Turn{Role: role, Content: content})
	if len(st.history) > s.maxHistory {
		st.history = st.history[len(st.history)-s.maxHistory:]
	}
	st.lastActiveAt = time.Now().UTC()
}

// History returns a copy of the retained turns (at most the retention
// bound, oldest first).
func (s *Store) History(userID int64) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return nil
	}
	return copyTurns(st.history)
}

func (s *Store) SetAwaitingPrompt(userID int64, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(userID)
	st.awaitingPrompt = v
	st.lastActiveAt = time.Now().UTC()
}

// ConsumeAwaitingPrompt clears the flag and reports whether it was set:
// the next text message after "generate image" is a prompt exactly once.
func (s *Store) ConsumeAwaitingPrompt(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return false
	}
	was := st.awaitingPrompt
	st.awaitingPrompt = false
	st.lastActiveAt = time.Now().UTC()
	return was
}

func (s *Store) SetAwaitingUpload(userID int64, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(userID)
	st.awaitingUpload = v
	st.lastActiveAt = time.Now().UTC()
}

func (s *Store) AwaitingUpload(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return false
	}
	return st.awaitingUpload
}

// SetPendingImage stores the temp path of an uploaded image awaiting an
// edit instruction and returns the path it replaced, if any, so the caller
// can delete the orphaned file.
func (s *Store) SetPendingImage(userID int64, path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(userID)
	previous := st.pendingImagePath
	st.pendingImagePath = strings.TrimSpace(path)
	st.lastActiveAt = time.Now().UTC()
	return previous
}

// TakePendingImage clears and returns the stored image path.
func (s *Store) TakePendingImage(userID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok || st.pendingImagePath == "" {
		return "", false
	}
	path := st.pendingImagePath
	st.pendingImagePath = ""
	st.lastActiveAt = time.Now().UTC()
	return path, true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) getOrCreateLocked(userID int64) *state {
	st, ok := s.sessions[userID]
	if !ok {
		now := time.Now().UTC()
		st = &state{createdAt: now, lastActiveAt: now}
		s.sessions[userID] = st
	}
	return st
}

func snapshotLocked(userID int64, st *state) Session {
	return Session{
		UserID:           userID,
		History:          copyTurns(st.history),
		AwaitingPrompt:   st.awaitingPrompt,
		AwaitingUpload:   st.awaitingUpload,
		PendingImagePath: st.pendingImagePath,
		CreatedAt:        st.createdAt,
		LastActiveAt:     st.lastActiveAt,
	}
}

func copyTurns(turns []Turn) []Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
