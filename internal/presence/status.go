// ABOUTME: Presence status vocabulary and the CSS-style classes clients render
// ABOUTME: Maps stored statuses to classes, defaulting unknown values to away

package presence

// Status is a user's chosen availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Class is the status class carried in presence_update events.
type Class string

const (
	ClassOnline  Class = "presence-online"
	ClassAway    Class = "presence-away"
	ClassBusy    Class = "presence-busy"
	ClassOffline Class = "presence-offline"
)

// ClassFor maps a status to its class. Unknown statuses render as away.
func ClassFor(s Status) Class {
	switch s {
	case StatusOnline:
		return ClassOnline
	case StatusBusy:
		return ClassBusy
	case StatusOffline:
		return ClassOffline
	default:
		return ClassAway
	}
}

// ParseStatus validates a user-selectable status. Offline is derived, never
// chosen, so it is rejected here.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOnline, StatusAway, StatusBusy:
		return Status(s), true
	}
	return "", false
}
