package dynamicmacro

import (
	"reflect"
	"testing"
)

// keys builds a buffer from keycodes given newest first, without modifiers
func keys(codes ...int64) []KeyState {
	out := make([]KeyState, len(codes))
	for i, c := range codes {
		out[i] = KeyState{Keycode: c}
	}
	return out
}

func TestCheckRepeat(t *testing.T) {
	tests := []struct {
		name     string
		buf      []KeyState
		wantSize int
		wantOK   bool
	}{
		{name: "empty", buf: nil},
		{name: "single", buf: keys(1)},
		{name: "A++A", buf: keys(1, 2, 3, 1, 2, 3), wantSize: 3, wantOK: true},
		{name: "A++A with older tail", buf: keys(4, 5, 4, 5, 9, 8, 7), wantSize: 2, wantOK: true},
		{name: "four identical picks largest border", buf: keys(7, 7, 7, 7), wantSize: 2, wantOK: true},
		{name: "odd length", buf: keys(1, 1, 1), wantSize: 1, wantOK: true},
		{name: "no repeated halves", buf: keys(1, 2, 3, 4, 5)},
		{name: "X-Y-X is not a repeat", buf: keys(1, 2, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, ok := CheckRepeat(tt.buf)
			if ok != tt.wantOK || size != tt.wantSize {
				t.Errorf("CheckRepeat = (%d, %v), want (%d, %v)", size, ok, tt.wantSize, tt.wantOK)
			}
		})
	}
}

func TestCheckRepeatComparesFlags(t *testing.T) {
	buf := []KeyState{{Keycode: 1, Flags: 0x20000}, {Keycode: 1}}
	if _, ok := CheckRepeat(buf); ok {
		t.Error("entries with different flags must not match")
	}
}

func TestCheckPatternXYX(t *testing.T) {
	tests := []struct {
		name   string
		buf    []KeyState
		wantX  []KeyState
		wantY  []KeyState
		wantOK bool
	}{
		{
			name:   "true split",
			buf:    keys(1, 2, 3, 4, 5, 1, 2),
			wantX:  keys(1, 2),
			wantY:  keys(3, 4, 5),
			wantOK: true,
		},
		{
			name:   "single anchor",
			buf:    keys(1, 3, 2, 1),
			wantX:  keys(1),
			wantY:  keys(3, 2),
			wantOK: true,
		},
		{
			name:   "equal x prefers shortest y",
			buf:    keys(1, 2, 1, 3, 1),
			wantX:  keys(1),
			wantY:  keys(2),
			wantOK: true,
		},
		{
			name:   "longest x beats shorter y",
			buf:    keys(1, 2, 1, 9, 9, 1, 2),
			wantX:  keys(1, 2),
			wantY:  keys(1, 9, 9),
			wantOK: true,
		},
		{name: "no anchor", buf: keys(1, 2, 3, 4)},
		{name: "empty", buf: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := CheckPatternXYX(tt.buf)
			if ok != tt.wantOK {
				t.Fatalf("CheckPatternXYX ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if !reflect.DeepEqual(p.X, tt.wantX) {
				t.Errorf("X = %v, want %v", p.X, tt.wantX)
			}
			if len(p.Y) != len(tt.wantY) || (len(tt.wantY) > 0 && !reflect.DeepEqual(p.Y, tt.wantY)) {
				t.Errorf("Y = %v, want %v", p.Y, tt.wantY)
			}
		})
	}
}
