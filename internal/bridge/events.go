package bridge

import "time"

type EventKind string

const (
	EventCheck    EventKind = "check"
	EventDelivery EventKind = "delivery"
	EventGoal     EventKind = "goal"
	EventKill     EventKind = "deathlink_kill"
)

// Event is one thing the bridge did. Fields not meaningful for a kind are zero.
type Event struct {
	Kind     EventKind `json:"kind"`
	ROM      string    `json:"rom"`
	At       time.Time `json:"at"`
	Location int64     `json:"location,omitempty"`
	Item     int64     `json:"item,omitempty"`
	Player   int       `json:"player,omitempty"`
	Index    int       `json:"index,omitempty"`
}

type EventSink interface {
	Record(Event)
}

// Sinks fans an event out to every sink in order.
type Sinks []EventSink

func (s Sinks) Record(e Event) {
	for _, k := range s {
		if k != nil {
			k.Record(e)
		}
	}
}
