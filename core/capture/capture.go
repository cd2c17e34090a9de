// Package capture turns recorded USB keyboard traffic into host events.
//
// Captures are usbmon pcap files (link type LINUX_USB) of a boot protocol
// keyboard, as written by tcpdump -i usbmonN or Wireshark. Each interrupt IN
// completion carries an 8 byte report: modifier bits, a reserved byte and up
// to six pressed usage codes.
package capture

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core/hotkey"
)

const reportSize = 8

// modifier bits of a boot keyboard report, left then right
var modifierFlags = [8]uint64{
	api.FlagMaskControl,
	api.FlagMaskShift,
	api.FlagMaskAlternate,
	api.FlagMaskCommand,
	api.FlagMaskControl,
	api.FlagMaskShift,
	api.FlagMaskAlternate,
	api.FlagMaskCommand,
}

// usageNames maps HID keyboard usage IDs to key names of the hotkey table
var usageNames = map[byte]string{
	0x28: "return", 0x29: "escape", 0x2a: "backspace", 0x2b: "tab", 0x2c: "space",
	0x2d: "-", 0x2e: "=", 0x2f: "[", 0x30: "]", 0x31: "\\", 0x33: ";", 0x34: "'",
	0x35: "`", 0x36: ",", 0x37: ".", 0x38: "/", 0x39: "caps_lock",
	0x4f: "right_arrow", 0x50: "left_arrow", 0x51: "down_arrow", 0x52: "up_arrow",
}

func init() {
	for i := byte(0); i < 26; i++ {
		usageNames[0x04+i] = string(rune('a' + i))
	}
	for i := byte(0); i < 9; i++ {
		usageNames[0x1e+i] = fmt.Sprintf("num%d", i+1)
	}
	usageNames[0x27] = "num0"
	for i := byte(0); i < 12; i++ {
		usageNames[0x3a+i] = fmt.Sprintf("f%d", i+1)
	}
}

// UsageKeycode translates a HID usage ID into a macOS virtual key code
func UsageKeycode(usage byte) (int64, bool) {
	name, ok := usageNames[usage]
	if !ok {
		return 0, false
	}
	return hotkey.Keycode(name)
}

// Decoder turns successive keyboard reports into events
type Decoder struct {
	modifiers byte
	held      []byte
	logger    api.Logger
}

// NewDecoder creates a decoder with nothing held
func NewDecoder(logger api.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Report decodes one report. A modifier change yields a flagsChanged event;
// usages absent from the previous report yield keyDown events, usages that
// disappeared yield keyUp events.
func (d *Decoder) Report(report []byte, ts time.Time) []api.Event {
	if len(report) != reportSize {
		return nil
	}

	var events []api.Event
	if report[0] != d.modifiers {
		d.modifiers = report[0]
		events = append(events, api.Event{Type: api.EventFlagsChanged, Flags: d.flags(), Timestamp: ts})
	}

	// 0x00 is no key, 0x01 is the rollover error state
	if report[2] == 0x01 {
		return events
	}

	current := make([]byte, 0, 6)
	for _, usage := range report[2:] {
		if usage > 0x01 && !containsUsage(current, usage) {
			current = append(current, usage)
		}
	}

	for _, usage := range current {
		if containsUsage(d.held, usage) {
			continue
		}
		keycode, ok := UsageKeycode(usage)
		if !ok {
			d.logger.Debug("Unknown HID usage", "usage", fmt.Sprintf("%#02x", usage))
			continue
		}
		events = append(events, api.Event{Type: api.EventKeyDown, Keycode: keycode, Flags: d.flags(), Timestamp: ts})
	}
	for _, usage := range d.held {
		if containsUsage(current, usage) {
			continue
		}
		if keycode, ok := UsageKeycode(usage); ok {
			events = append(events, api.Event{Type: api.EventKeyUp, Keycode: keycode, Flags: d.flags(), Timestamp: ts})
		}
	}

	d.held = current
	return events
}

func containsUsage(list []byte, usage byte) bool {
	for _, u := range list {
		if u == usage {
			return true
		}
	}
	return false
}

func (d *Decoder) flags() uint64 {
	var flags uint64
	for bit, mask := range modifierFlags {
		if d.modifiers&(1<<bit) != 0 {
			flags |= mask
		}
	}
	return flags
}

// ReadFile decodes the keyboard events of a usbmon capture file
func ReadFile(path string, logger api.Logger) ([]api.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	return ReadEvents(f, logger)
}

// ReadEvents decodes the keyboard events of a usbmon capture stream
func ReadEvents(r io.Reader, logger api.Logger) ([]api.Event, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if reader.LinkType() != layers.LinkTypeLinuxUSB {
		return nil, fmt.Errorf("unsupported link type %s, want %s", reader.LinkType(), layers.LinkTypeLinuxUSB)
	}

	decoder := NewDecoder(logger)
	source := gopacket.NewPacketSource(reader, reader.LinkType())

	var events []api.Event
	packets := 0
	for {
		packet, err := source.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return events, fmt.Errorf("failed to read packet %d: %w", packets+1, err)
		}
		packets++

		usbLayer := packet.Layer(layers.LayerTypeUSB)
		if usbLayer == nil {
			continue
		}
		usb := usbLayer.(*layers.USB)
		if usb.EventType != layers.USBEventTypeComplete ||
			usb.TransferType != layers.USBTransportTypeInterrupt ||
			usb.Direction != layers.USBDirectionTypeIn {
			continue
		}

		events = append(events, decoder.Report(usb.Payload, packet.Metadata().Timestamp)...)
	}

	logger.Debug("Decoded capture", "packets", packets, "events", len(events))
	return events, nil
}
