package app

import (
	"sort"

	"buzzer-quiz-service/internal/domain"
)

// Subscription is one connection's view of a session channel.
// Events is closed when the subscription is replaced, evicted or left.
type Subscription struct {
	ID        string
	SessionID string
	UserID    string
	Events    <-chan Event
}

type subscriber struct {
	id      string
	userID  string
	name    string
	role    domain.Role
	ch      chan Event
	evicted bool
}

func (s *subscriber) close() {
	if !s.evicted {
		s.evicted = true
		close(s.ch)
	}
}

// hub is the per-session fan-out. It has no lock of its own: every call
// happens under the owning session's mutex, which is what keeps delivery
// order identical to production order.
type hub struct {
	buffer int
	subs   map[string]*subscriber // by subscription id
	byUser map[string]*subscriber
}

func newHub(buffer int) *hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &hub{
		buffer: buffer,
		subs:   make(map[string]*subscriber),
		byUser: make(map[string]*subscriber),
	}
}

// add registers a subscriber; an existing subscription for the same user is
// closed (last connection wins) and returned.
func (h *hub) add(sub *subscriber) (replaced *subscriber) {
	if prev, ok := h.byUser[sub.userID]; ok {
		prev.close()
		delete(h.subs, prev.id)
		replaced = prev
	}
	h.subs[sub.id] = sub
	h.byUser[sub.userID] = sub
	return replaced
}

// remove drops a subscriber by id. It reports the removed subscriber, if any.
func (h *hub) remove(id string) (*subscriber, bool) {
	sub, ok := h.subs[id]
	if !ok {
		return nil, false
	}
	sub.close()
	delete(h.subs, id)
	if cur, ok := h.byUser[sub.userID]; ok && cur == sub {
		delete(h.byUser, sub.userID)
	}
	return sub, true
}

func (h *hub) len() int {
	return len(h.subs)
}

// publish delivers evt to every live subscriber in its audience. A subscriber
// whose buffer is full is evicted instead of being skipped, so nobody ever
// observes a gap in the sequence.
func (h *hub) publish(evt Event) (evicted []*subscriber) {
	for _, sub := range h.subs {
		if sub.evicted || !evt.Audience.includes(sub.role) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			sub.close()
			evicted = append(evicted, sub)
		}
	}
	return evicted
}

// sendTo delivers a direct reply to one subscriber.
func (h *hub) sendTo(id string, evt Event) bool {
	sub, ok := h.subs[id]
	if !ok || sub.evicted {
		return false
	}
	select {
	case sub.ch <- evt:
		return true
	default:
		sub.close()
		return false
	}
}

// roster lists connected players, admins excluded, ordered by user id.
func (h *hub) roster() []domain.PlayerPresence {
	players := make([]domain.PlayerPresence, 0, len(h.byUser))
	for _, sub := range h.byUser {
		if sub.role == domain.RoleAdmin {
			continue
		}
		players = append(players, domain.PlayerPresence{UserID: sub.userID, DisplayName: sub.name})
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].UserID < players[j].UserID
	})
	return players
}
