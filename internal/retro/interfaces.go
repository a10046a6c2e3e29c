package retro

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) (bool, error)
}

// Router delivers events to transport connections. Join and Leave maintain
// the room-scoped multicast groups used by Broadcast.
type Router interface {
	Join(connID, roomID string)
	Leave(connID string)
	Broadcast(roomID string, ev Event, except ...string)
	Send(connID string, ev Event)
}
