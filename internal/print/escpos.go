// Package print implements the print agent: the control-channel client,
// ESC/POS payload construction, raw-socket delivery to receipt printers,
// and the agent's local job queue.
//
// This file builds ESC/POS byte payloads. The one rule that matters is
// enforced here instead of being left to caller discipline: drawer-kick
// bytes must precede any paper-cut bytes in the same payload, because
// thermal printers discard buffered data issued after a cut. A kick
// appended after a cut fails at build time.
package print

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ESC/POS opcodes.
const (
	escByte    = 0x1B
	kickOpcode = 0x70
)

// Drawer pin identifiers as carried on the wire. Pin 2 drives drawer 1,
// pin 5 drives drawer 2.
const (
	PinDrawer1 = "pin2"
	PinDrawer2 = "pin5"
)

// ErrKickAfterCut is returned when a drawer kick would land after a paper
// cut in the same payload.
var ErrKickAfterCut = errors.New("drawer kick must precede paper cut")

// ErrUnknownPin is returned for a pin identifier other than pin2/pin5.
var ErrUnknownPin = errors.New("unknown drawer pin")

var titleCaser = cases.Title(language.English)

// pinByte maps a wire pin identifier to its command byte.
func pinByte(pin string) (byte, error) {
	switch pin {
	case PinDrawer1:
		return 0x00, nil
	case PinDrawer2:
		return 0x01, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPin, pin)
	}
}

// pulseTicks converts a pulse duration in milliseconds to the on/off tick
// byte: clamp(round(ms/2), 1, 255).
func pulseTicks(durationMs int) byte {
	t := int(math.Round(float64(durationMs) / 2))
	if t < 1 {
		t = 1
	}
	if t > 255 {
		t = 255
	}
	return byte(t)
}

// KickCommand builds the standalone 5-byte drawer-kick command:
// [ESC, 0x70, pinByte, pulseOn, pulseOff].
func KickCommand(pin string, pulseDurationMs int) ([]byte, error) {
	pb, err := pinByte(pin)
	if err != nil {
		return nil, err
	}
	ticks := pulseTicks(pulseDurationMs)
	return []byte{escByte, kickOpcode, pb, ticks, ticks}, nil
}

// Payload assembles an ESC/POS byte stream for one receipt. Segments are
// recorded in order; Bytes rechecks the kick/cut ordering so a payload
// assembled through any call sequence still cannot cut before kicking.
type Payload struct {
	segs   [][]byte
	kickAt int // segment index of the first kick, -1 if none
	cutAt  int // segment index of the first cut, -1 if none
}

// NewPayload returns an empty payload beginning with printer init (ESC @).
func NewPayload() *Payload {
	return &Payload{
		segs:   [][]byte{{escByte, 0x40}},
		kickAt: -1,
		cutAt:  -1,
	}
}

// Text appends a line of text followed by a line feed.
func (p *Payload) Text(s string) *Payload {
	p.segs = append(p.segs, append([]byte(s), '\n'))
	return p
}

// Header appends a title-cased, double-size emphasized line, then resets
// the print mode.
func (p *Payload) Header(s string) *Payload {
	p.segs = append(p.segs,
		[]byte{escByte, '!', 0x38},
		append([]byte(titleCaser.String(s)), '\n'),
		[]byte{escByte, '!', 0x00},
	)
	return p
}

// Raw appends caller-provided bytes verbatim.
func (p *Payload) Raw(b []byte) *Payload {
	p.segs = append(p.segs, b)
	return p
}

// Kick embeds a drawer-kick command. Appending one after a cut is the
// historical data-loss defect; it is rejected here, not at the printer.
func (p *Payload) Kick(pin string, pulseDurationMs int) error {
	if p.cutAt >= 0 {
		return ErrKickAfterCut
	}
	cmd, err := KickCommand(pin, pulseDurationMs)
	if err != nil {
		return err
	}
	if p.kickAt < 0 {
		p.kickAt = len(p.segs)
	}
	p.segs = append(p.segs, cmd)
	return nil
}

// Cut appends a feed-and-partial-cut sequence.
func (p *Payload) Cut() *Payload {
	if p.cutAt < 0 {
		p.cutAt = len(p.segs)
	}
	p.segs = append(p.segs, []byte{0x1D, 'V', 0x41, 0x03})
	return p
}

// Bytes renders the payload, re-validating the kick-before-cut invariant.
func (p *Payload) Bytes() ([]byte, error) {
	if p.kickAt >= 0 && p.cutAt >= 0 && p.kickAt > p.cutAt {
		return nil, ErrKickAfterCut
	}
	n := 0
	for _, s := range p.segs {
		n += len(s)
	}
	out := make([]byte, 0, n)
	for _, s := range p.segs {
		out = append(out, s...)
	}
	return out, nil
}
