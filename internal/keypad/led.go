package keypad

// onLikeStates are external entity states that light a bound LED.
// Everything else, including unknown and unavailable, maps to off.
var onLikeStates = map[string]struct{}{
	"on":        {},
	"home":      {},
	"playing":   {},
	"heat":      {},
	"cool":      {},
	"heat_cool": {},
	"open":      {},
	"opening":   {},
	"locked":    {},
	"active":    {},
	"cleaning":  {},
}

// MapStateToLED maps an external entity state onto an LED boolean.
// Unmapped states are off; the result never errors. Invert is applied
// as a final negation.
func MapStateToLED(state string, invert bool) bool {
	_, on := onLikeStates[state]
	if invert {
		return !on
	}
	return on
}
