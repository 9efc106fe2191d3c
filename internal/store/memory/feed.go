package memory

import (
	"context"
	"sync"

	"github.com/lostfound/messaging/internal/model"
)

// subscriber delivers payloads from a buffered channel on its own goroutine
// so that inserts never block on a slow listener.
type subscriber struct {
	events  chan []byte
	done    chan struct{}
	once    sync.Once
	deliver func([]byte)
	dropped func(error)
}

func (sub *subscriber) run() {
	for {
		select {
		case <-sub.done:
			return
		case payload := <-sub.events:
			sub.deliver(payload)
		}
	}
}

func (sub *subscriber) stop() {
	sub.once.Do(func() { close(sub.done) })
}

// Listen registers deliver for insert events of a conversation. The
// returned stop function detaches the listener.
func (s *MessageStore) Listen(ctx context.Context, conversationID string, deliver func([]byte), dropped func(error)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscriber{
		events:  make(chan []byte, subscriberBuffer),
		done:    make(chan struct{}),
		deliver: deliver,
		dropped: dropped,
	}

	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	room := s.subs[conversationID]
	if room == nil {
		room = make(map[uint64]*subscriber)
		s.subs[conversationID] = room
	}
	room[id] = sub
	s.subMu.Unlock()

	go sub.run()

	return func() {
		s.detach(conversationID, id)
		sub.stop()
	}, nil
}

// Listeners returns the number of listeners attached to a conversation.
func (s *MessageStore) Listeners(conversationID string) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs[conversationID])
}

func (s *MessageStore) detach(conversationID string, id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	room := s.subs[conversationID]
	if room == nil {
		return
	}
	delete(room, id)
	if len(room) == 0 {
		delete(s.subs, conversationID)
	}
}

func (s *MessageStore) publish(msg *model.Message) {
	payload, err := model.NewInsertEvent(msg)
	if err != nil {
		return
	}

	var overflowed []*subscriber

	s.subMu.Lock()
	for id, sub := range s.subs[msg.ConversationID] {
		select {
		case sub.events <- payload:
		default:
			delete(s.subs[msg.ConversationID], id)
			overflowed = append(overflowed, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range overflowed {
		sub.stop()
		if sub.dropped != nil {
			sub.dropped(ErrSubscriberOverflow)
		}
	}
}

// Inject publishes a raw payload to a conversation's listeners. It lets
// callers simulate foreign writers and malformed feed traffic.
func (s *MessageStore) Inject(conversationID string, payload []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subs[conversationID] {
		select {
		case sub.events <- payload:
		default:
		}
	}
}
