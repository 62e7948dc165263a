package web

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"chip8harness/chip8/display"
	"chip8harness/keypad"
)

// Client to server message types.
const (
	KeyDown    byte = 0x01
	KeyUp      byte = 0x02
	ReleaseAll byte = 0x03
)

// Server to client message types.
const (
	Frame byte = 0x10
	Beep  byte = 0x11
	Hello byte = 0x12
)

var ErrBadMessage = errors.New("malformed message")

type input struct {
	kind byte
	sym  keypad.Symbol
}

func parseInput(msg []byte) (input, error) {
	if len(msg) == 0 {
		return input{}, ErrBadMessage
	}

	switch msg[0] {
	case KeyDown, KeyUp:
		r, size := utf8.DecodeRune(msg[1:])
		if r == utf8.RuneError || size != len(msg)-1 {
			return input{}, fmt.Errorf("%w: bad symbol % x", ErrBadMessage, msg[1:])
		}
		return input{kind: msg[0], sym: keypad.Symbol(r)}, nil
	case ReleaseAll:
		return input{kind: ReleaseAll}, nil
	}

	return input{}, fmt.Errorf("%w: unknown type 0x%02x", ErrBadMessage, msg[0])
}

func (in input) apply(keys *keypad.Tracker) error {
	switch in.kind {
	case KeyDown:
		return keys.Down(in.sym)
	case KeyUp:
		return keys.Up(in.sym)
	case ReleaseAll:
		return keys.ReleaseAll()
	}
	return nil
}

func frameMessage(packed [display.PackedSize]byte) []byte {
	return append([]byte{Frame}, packed[:]...)
}

func beepMessage(d time.Duration) []byte {
	msg := []byte{Beep, 0, 0}
	ms := d.Milliseconds()
	if ms > 0xFFFF {
		ms = 0xFFFF
	}
	binary.BigEndian.PutUint16(msg[1:], uint16(ms))
	return msg
}
