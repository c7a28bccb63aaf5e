package realtime

import "context"

// Broadcaster fans events out to the local SSE streams and WebSocket rooms.
type Broadcaster struct {
	Streams *Streams
	Rooms   *Rooms
}

func NewBroadcaster(streams *Streams, rooms *Rooms) *Broadcaster {
	return &Broadcaster{Streams: streams, Rooms: rooms}
}

func (b *Broadcaster) Emit(ctx context.Context, ev Event) {
	if b.Streams != nil {
		b.Streams.Publish(ev)
	}
	if b.Rooms != nil {
		b.Rooms.Publish(ev)
	}
}

var _ Emitter = (*Broadcaster)(nil)
