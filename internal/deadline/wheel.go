// Package deadline schedules per-call expirations for both the client
// broker's call timeouts (§4.5) and the server broker's execution
// timeouts (§4.6), sharing one bucketed timing wheel instead of one
// timer goroutine per outstanding call.
package deadline

import (
	"container/list"
	"sync"
	"time"

	"github.com/kartikbazzad/bunrpc/internal/protocol"
)

type entry struct {
	id      protocol.MessageId
	expires time.Time
}

type slot struct {
	mu    sync.Mutex
	ids   map[protocol.MessageId]*list.Element
	order *list.List
}

func newSlot() *slot {
	return &slot{ids: make(map[protocol.MessageId]*list.Element), order: list.New()}
}

// wheel buckets deadlines by second, mirroring bunder's internal TTL
// timing wheel but keyed by MessageId instead of string.
type wheel struct {
	mu          sync.RWMutex
	slots       map[int64]*slot
	granularity time.Duration
}

func newWheel(granularity time.Duration) *wheel {
	if granularity <= 0 {
		granularity = time.Second
	}
	return &wheel{slots: make(map[int64]*slot), granularity: granularity}
}

func (w *wheel) slotID(t time.Time) int64 {
	if w.granularity > time.Second {
		return t.Unix() / int64(w.granularity/time.Second)
	}
	return t.Unix()
}

func (w *wheel) add(id protocol.MessageId, expires time.Time) {
	sid := w.slotID(expires)
	w.mu.Lock()
	s, ok := w.slots[sid]
	if !ok {
		s = newSlot()
		w.slots[sid] = s
	}
	s.mu.Lock()
	w.mu.Unlock()
	if e, ok := s.ids[id]; ok {
		s.order.Remove(e)
	}
	e := s.order.PushBack(&entry{id: id, expires: expires})
	s.ids[id] = e
	s.mu.Unlock()
}

func (w *wheel) remove(id protocol.MessageId) {
	w.mu.RLock()
	slots := make([]*slot, 0, len(w.slots))
	for _, s := range w.slots {
		slots = append(slots, s)
	}
	w.mu.RUnlock()
	for _, s := range slots {
		s.mu.Lock()
		if e, ok := s.ids[id]; ok {
			s.order.Remove(e)
			delete(s.ids, id)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (w *wheel) expired(now time.Time) []protocol.MessageId {
	var expired []protocol.MessageId
	sid := w.slotID(now)
	w.mu.Lock()
	var toRemove []int64
	for id, s := range w.slots {
		if id > sid {
			continue
		}
		s.mu.Lock()
		for e := s.order.Front(); e != nil; {
			ent := e.Value.(*entry)
			if !ent.expires.After(now) {
				expired = append(expired, ent.id)
				next := e.Next()
				s.order.Remove(e)
				delete(s.ids, ent.id)
				e = next
			} else {
				e = e.Next()
			}
		}
		if s.order.Len() == 0 {
			toRemove = append(toRemove, id)
		}
		s.mu.Unlock()
	}
	for _, id := range toRemove {
		delete(w.slots, id)
	}
	w.mu.Unlock()
	return expired
}
