package delivery

import "time"

// Metadata is the wire-visible envelope metadata attached to every message.
type Metadata struct {
	Timestamp int64  `json:"timestamp"`
	Sequence  uint32 `json:"sequence"`
}

// Envelope is the wire format for one outbound message:
//
//	{ "metadata": { "timestamp": <int64 ms>, "sequence": <uint32> },
//	  "data": <arbitrary JSON value> }
type Envelope struct {
	Metadata Metadata `json:"metadata"`
	Data     any      `json:"data"`
}

// Message is an immutable record of one outbound payload plus its assigned
// coordinate and two independent expiry instants. strongDeadline bounds
// primary delivery eligibility; softDeadline bounds replay eligibility and
// is always >= strongDeadline.
type Message struct {
	coord          Coord
	envelope       Envelope
	strongDeadline time.Time
	softDeadline   time.Time
}

// newMessage builds a Message for data enqueued at coord, with deadlines
// strongDeadline and softDeadline computed by the caller.
func newMessage(coord Coord, data any, strongDeadline, softDeadline time.Time) Message {
	return Message{
		coord: coord,
		envelope: Envelope{
			Metadata: Metadata{
				Timestamp: coord.TimestampMS,
				Sequence:  coord.Sequence,
			},
			Data: data,
		},
		strongDeadline: strongDeadline,
		softDeadline:   softDeadline,
	}
}

// Coord returns the message's assigned (timestamp, sequence) coordinate.
func (m Message) Coord() Coord {
	return m.coord
}

// Envelope returns the wire-ready envelope for this message.
func (m Message) Envelope() Envelope {
	return m.envelope
}
