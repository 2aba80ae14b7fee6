package relayer

import "sync"

// Event prefixes on the resolver websocket stream.
const (
	// Order broadcast event: BROADC <ACTUAL_JSON_OF_ORDER>
	OrderEvent = "BROADC"
	// Secret reveal event: SECRET <ORDER_HASH_HEX> <SECRET_HEX>
	SecretEvent = "SECRET"
)

// Broadcaster fans messages out to registered resolver channels. Sends are
// non-blocking: a receiver that cannot keep up misses messages instead of
// stalling the relayer.
type Broadcaster struct {
	mu        sync.Mutex
	id        uint64
	receivers map[uint64]chan []byte
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		receivers: make(map[uint64]chan []byte),
	}
}

func (b *Broadcaster) RegisterReceiver(receiver chan []byte) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.receivers[b.id] = receiver
	b.id++

	return b.id - 1
}

func (b *Broadcaster) UnregisterReceiver(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.receivers[id]; exists {
		close(b.receivers[id])
		delete(b.receivers, id)
	}
}

func (b *Broadcaster) Broadcast(message []byte) {
	go func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for _, receiver := range b.receivers {
			select {
			case receiver <- message:
			default:
				// Channel full; skip rather than block the broadcaster.
			}
		}
	}()
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, receiver := range b.receivers {
		close(receiver)
		delete(b.receivers, id)
	}

	b.id = 0
}
