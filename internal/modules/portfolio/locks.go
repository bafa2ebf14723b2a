package portfolio

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// userLocks serializes mutations per user without an unbounded map of mutexes
type userLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *userLocks) lock(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
