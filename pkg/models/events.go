package models

import "time"

/*
	Change events are emitted after a mutation has been committed to the store.
	They are advisory: a consumer that wants the current state re-reads it,
	the event only says which path moved.
*/

type ChangeOp string

const (
	ChangeInit   ChangeOp = "init"
	ChangeWrite  ChangeOp = "write"
	ChangeMkdir  ChangeOp = "mkdir"
	ChangeRemove ChangeOp = "remove"
)

type Change struct {
	Op   ChangeOp `json:"op"`
	Path string   `json:"path"`
	Kind Kind     `json:"type"`
}

// Event is the envelope delivered to websocket subscribers.
type Event struct {
	EventID   string    `json:"event_id"`
	Topic     string    `json:"topic"`
	EmittedAt time.Time `json:"emitted_at"`
	Emitter   string    `json:"emitter,omitempty"`
	Data      Change    `json:"data"`
}
