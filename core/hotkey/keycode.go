package hotkey

import "strings"

// keyCodes maps key names to macOS virtual key codes
var keyCodes = map[string]int64{
	"alt":           58,
	"alt_gr":        61,
	"backspace":     51,
	"caps_lock":     57,
	"control_left":  59,
	"control_right": 62,
	"down_arrow":    125,
	"escape":        53,
	"f1":            122,
	"f2":            120,
	"f3":            99,
	"f4":            118,
	"f5":            96,
	"f6":            97,
	"f7":            98,
	"f8":            100,
	"f9":            101,
	"f10":           109,
	"f11":           103,
	"f12":           111,
	"function":      63,
	"left_arrow":    123,
	"meta_left":     55,
	"meta_right":    54,
	"return":        36,
	"enter":         36,
	"right_arrow":   124,
	"shift_left":    56,
	"shift_right":   60,
	"space":         49,
	"tab":           48,
	"up":            126,
	"up_arrow":      126,
	"`":             50,
	"num1":          18,
	"num2":          19,
	"num3":          20,
	"num4":          21,
	"num5":          23,
	"num6":          22,
	"num7":          26,
	"num8":          28,
	"num9":          25,
	"num0":          29,
	"-":             27,
	"=":             24,
	"q":             12,
	"w":             13,
	"e":             14,
	"r":             15,
	"t":             17,
	"y":             16,
	"u":             32,
	"i":             34,
	"o":             31,
	"p":             35,
	"[":             33,
	"]":             30,
	"a":             0,
	"s":             1,
	"d":             2,
	"f":             3,
	"g":             5,
	"h":             4,
	"j":             38,
	"k":             40,
	"l":             37,
	";":             41,
	"'":             39,
	"\\":            42,
	"z":             6,
	"x":             7,
	"c":             8,
	"v":             9,
	"b":             11,
	"n":             45,
	"m":             46,
	",":             43,
	".":             47,
	"/":             44,
}

// Keycode looks up a key name, case-insensitively
func Keycode(name string) (int64, bool) {
	code, ok := keyCodes[strings.ToLower(name)]
	return code, ok
}

// KeyName returns a name for a key code, preferring the shortest alias
func KeyName(code int64) (string, bool) {
	best := ""
	for name, c := range keyCodes {
		if c != code {
			continue
		}
		if best == "" || len(name) < len(best) || (len(name) == len(best) && name < best) {
			best = name
		}
	}
	return best, best != ""
}
