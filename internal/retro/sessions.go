package retro

import "sync"

// Session is the logical member a transport connection is bound to.
type Session struct {
	RoomID string
	Name   string
}

type sessions struct {
	mu     sync.RWMutex
	byConn map[string]Session
}

func newSessions() *sessions {
	return &sessions{byConn: make(map[string]Session)}
}

func (s *sessions) get(connID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byConn[connID]
	return sess, ok
}

func (s *sessions) bind(connID string, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConn[connID] = sess
}

func (s *sessions) unbind(connID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byConn[connID]
	delete(s.byConn, connID)
	return sess, ok
}

// inRoom lists the connections bound to roomID.
func (s *sessions) inRoom(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var conns []string
	for connID, sess := range s.byConn {
		if sess.RoomID == roomID {
			conns = append(conns, connID)
		}
	}
	return conns
}

// others lists connections other than connID that drive the same member.
func (s *sessions) others(connID string, sess Session) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var conns []string
	for id, other := range s.byConn {
		if id != connID && other == sess {
			conns = append(conns, id)
		}
	}
	return conns
}
