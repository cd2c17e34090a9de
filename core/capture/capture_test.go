package capture

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sammwyy/keymacro/api"
)

// usbmonPacket builds a 64 byte mmapped usbmon header followed by data
func usbmonPacket(event byte, data []byte) []byte {
	header := make([]byte, 64)
	binary.LittleEndian.PutUint64(header[0:8], 1)
	header[8] = event
	header[9] = byte(layers.USBTransportTypeInterrupt)
	header[10] = 0x81 // endpoint 1 IN
	header[11] = 3
	binary.LittleEndian.PutUint16(header[12:14], 1)
	header[14] = '-' // no setup packet
	if len(data) == 0 {
		header[15] = '<'
	}
	binary.LittleEndian.PutUint32(header[32:36], uint32(len(data)))
	binary.LittleEndian.PutUint32(header[36:40], uint32(len(data)))
	return append(header, data...)
}

func writeCapture(t *testing.T, packets ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65535, layers.LinkTypeLinuxUSB); err != nil {
		t.Fatal(err)
	}
	ts := time.Unix(1700000000, 0)
	for i, data := range packets {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * 10 * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatal(err)
		}
	}
	return &buf
}

func report(mods byte, usages ...byte) []byte {
	r := make([]byte, 8)
	r[0] = mods
	copy(r[2:], usages)
	return r
}

func TestReadEvents(t *testing.T) {
	capture := writeCapture(t,
		usbmonPacket('S', nil),
		usbmonPacket('C', report(0x01)),
		usbmonPacket('S', nil),
		usbmonPacket('C', report(0x01, 0x17)),
		usbmonPacket('C', report(0x00)),
		usbmonPacket('C', report(0x00, 0x04, 0x05)),
	)

	events, err := ReadEvents(capture, api.NewLogger("test"))
	if err != nil {
		t.Fatal(err)
	}

	want := []api.Event{
		{Type: api.EventFlagsChanged, Flags: api.FlagMaskControl},
		{Type: api.EventKeyDown, Keycode: 17, Flags: api.FlagMaskControl},
		{Type: api.EventFlagsChanged, Flags: 0},
		{Type: api.EventKeyUp, Keycode: 17},
		{Type: api.EventKeyDown, Keycode: 0},
		{Type: api.EventKeyDown, Keycode: 11},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		got := events[i]
		if got.Type != want[i].Type || got.Keycode != want[i].Keycode || got.Flags != want[i].Flags {
			t.Errorf("events[%d] = %v flags %#x, want %v flags %#x", i, got, got.Flags, want[i], want[i].Flags)
		}
		if got.Timestamp.IsZero() {
			t.Errorf("events[%d] has no timestamp", i)
		}
	}
}

func TestReadEventsRejectsOtherLinkTypes(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadEvents(&buf, api.NewLogger("test")); err == nil {
		t.Error("an ethernet capture must be rejected")
	}
}

func TestDecoderReport(t *testing.T) {
	d := NewDecoder(api.NewLogger("test"))

	if got := d.Report([]byte{1, 2, 3}, time.Time{}); got != nil {
		t.Errorf("short report decoded to %v", got)
	}

	// right shift maps onto the same flag as left shift
	got := d.Report(report(0x20, 0x04), time.Time{})
	if len(got) != 2 || got[0].Flags != api.FlagMaskShift || got[1].Keycode != 0 || got[1].Flags != api.FlagMaskShift {
		t.Errorf("shift+a = %v", got)
	}

	// rollover reports keep the held keys
	if got := d.Report(report(0x20, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01), time.Time{}); len(got) != 0 {
		t.Errorf("rollover = %v, want nothing", got)
	}
	if got := d.Report(report(0x20, 0x04), time.Time{}); len(got) != 0 {
		t.Errorf("held key repeated as %v", got)
	}
}

func TestUsageKeycode(t *testing.T) {
	tests := []struct {
		usage byte
		want  int64
		ok    bool
	}{
		{usage: 0x04, want: 0, ok: true},   // a
		{usage: 0x17, want: 17, ok: true},  // t
		{usage: 0x1e, want: 18, ok: true},  // 1
		{usage: 0x27, want: 29, ok: true},  // 0
		{usage: 0x2c, want: 49, ok: true},  // space
		{usage: 0x3a, want: 122, ok: true}, // f1
		{usage: 0x65},
	}
	for _, tt := range tests {
		got, ok := UsageKeycode(tt.usage)
		if ok != tt.ok || got != tt.want {
			t.Errorf("UsageKeycode(%#x) = (%d, %v), want (%d, %v)", tt.usage, got, ok, tt.want, tt.ok)
		}
	}
}
