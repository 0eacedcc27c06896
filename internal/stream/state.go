// Package stream is a reconnecting market-data client over WebSocket.
//
// Connection handling is an explicit state machine. Every state change goes
// through Next, so the legal transitions live in one table:
//
//	Disconnected --Dial--------> Connecting
//	Connecting   --Connected---> Connected
//	Connecting   --DialFailed--> Reconnecting
//	Connected    --Lost--------> Reconnecting
//	Reconnecting --Retry-------> Connecting
//	any          --Stop--------> Disconnected
package stream

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

var stateNames = [...]string{"disconnected", "connecting", "connected", "reconnecting"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// allStates lists label values for the state gauge.
var allStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// Event drives a transition.
type Event int

const (
	EventDial Event = iota
	EventConnected
	EventDialFailed
	EventLost
	EventRetry
	EventStop
)

var eventNames = [...]string{"dial", "connected", "dial_failed", "lost", "retry", "stop"}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

type transition struct {
	from State
	on   Event
}

var transitions = map[transition]State{
	{Disconnected, EventDial}:     Connecting,
	{Connecting, EventConnected}:  Connected,
	{Connecting, EventDialFailed}: Reconnecting,
	{Connected, EventLost}:        Reconnecting,
	{Reconnecting, EventRetry}:    Connecting,
}

// Next returns the state reached from s on e. An illegal event leaves the
// state unchanged and reports false.
func Next(s State, e Event) (State, bool) {
	if e == EventStop {
		return Disconnected, true
	}
	to, ok := transitions[transition{s, e}]
	if !ok {
		return s, false
	}
	return to, true
}
