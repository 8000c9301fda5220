package service

import (
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/event"
)

// Broadcaster is the fan-out contract the lifecycle services emit through.
// Implementations are best-effort: a failed or dropped broadcast must never
// fail the store mutation that triggered it, so none of these return errors.
type Broadcaster interface {
	// ToConversation delivers to every client joined to the conversation's room.
	ToConversation(conversationID string, ev event.WsEvent)
	// ToUser delivers to the user's personal room (all of their connections).
	ToUser(userID string, ev event.WsEvent)
	// ToMonitors delivers to the elevated-role monitoring room.
	ToMonitors(ev event.WsEvent)
}

// noopBroadcaster drops everything. Used when no hub is wired.
type noopBroadcaster struct{}

func (noopBroadcaster) ToConversation(string, event.WsEvent) {}
func (noopBroadcaster) ToUser(string, event.WsEvent)         {}
func (noopBroadcaster) ToMonitors(event.WsEvent)             {}

// NoopBroadcaster returns a Broadcaster that discards all events.
func NoopBroadcaster() Broadcaster { return noopBroadcaster{} }
