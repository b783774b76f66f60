package input

// Normalized key codes follow the Android KeyEvent numbering the command
// surface was designed around; they are translated to X keysym names for
// injection.
const (
	keycodeHome      = 3
	keycodeBack      = 4
	keycodeDpadUp    = 19
	keycodeDpadDown  = 20
	keycodeDpadLeft  = 21
	keycodeDpadRight = 22
	keycodeTab       = 61
	keycodeSpace     = 62
	keycodeEnter     = 66
	keycodeDel       = 67
	keycodeEscape    = 111
	keycodeForward   = 112
	keycodeMoveHome  = 122
	keycodeMoveEnd   = 123
	keycodePageUp    = 92
	keycodePageDown  = 93
)

var specialKeys = map[int]string{
	keycodeHome:      "super",
	keycodeBack:      "Escape",
	keycodeDpadUp:    "Up",
	keycodeDpadDown:  "Down",
	keycodeDpadLeft:  "Left",
	keycodeDpadRight: "Right",
	keycodeTab:       "Tab",
	keycodeSpace:     "space",
	keycodeEnter:     "Return",
	keycodeDel:       "BackSpace",
	keycodeEscape:    "Escape",
	keycodeForward:   "Delete",
	keycodeMoveHome:  "Home",
	keycodeMoveEnd:   "End",
	keycodePageUp:    "Prior",
	keycodePageDown:  "Next",
}

// keyName maps a normalized key code to an X keysym name.
func keyName(code int) (string, bool) {
	if name, ok := specialKeys[code]; ok {
		return name, true
	}
	// Digits 0-9 are codes 7-16.
	if code >= 7 && code <= 16 {
		return string(rune('0' + code - 7)), true
	}
	// Letters a-z are codes 29-54.
	if code >= 29 && code <= 54 {
		return string(rune('a' + code - 29)), true
	}
	return "", false
}
