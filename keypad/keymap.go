package keypad

import (
	"errors"
	"fmt"
	"unicode"
)

// NumKeys is the number of logical keys on the hexadecimal keypad.
const NumKeys = 16

// Symbol is a physical input symbol as reported by a front end.
type Symbol rune

func (s Symbol) normalize() Symbol {
	if s <= unicode.MaxASCII {
		return Symbol(unicode.ToLower(rune(s)))
	}
	return s
}

// KeyMap maps physical input symbols to logical key indices. The zero
// value maps nothing.
type KeyMap struct {
	keys map[Symbol]uint8
}

var (
	ErrKeyIndex     = errors.New("key index out of range")
	ErrDuplicateKey = errors.New("logical key mapped twice")
	ErrDuplicateSym = errors.New("symbol mapped twice")
	ErrTooManyKeys  = errors.New("too many symbols")
)

// The original keypad layout is
//
//	1 2 3 C
//	4 5 6 D
//	7 8 9 E
//	A 0 B F
//
// which lands on the left-hand block of a QWERTY keyboard.
var DefaultKeyMap = MustKeyMap(map[Symbol]uint8{
	'1': 0x1, '2': 0x2, '3': 0x3, '4': 0xC,
	'q': 0x4, 'w': 0x5, 'e': 0x6, 'r': 0xD,
	'a': 0x7, 's': 0x8, 'd': 0x9, 'f': 0xE,
	'z': 0xA, 'x': 0x0, 'c': 0xB, 'v': 0xF,
})

// NewKeyMap validates m and returns an immutable copy of it.
func NewKeyMap(m map[Symbol]uint8) (KeyMap, error) {
	if len(m) > NumKeys {
		return KeyMap{}, fmt.Errorf("%w: %d", ErrTooManyKeys, len(m))
	}

	keys := make(map[Symbol]uint8, len(m))
	var seen [NumKeys]bool

	for sym, i := range m {
		if i >= NumKeys {
			return KeyMap{}, fmt.Errorf("%w: %q -> %d", ErrKeyIndex, rune(sym), i)
		}
		if seen[i] {
			return KeyMap{}, fmt.Errorf("%w: 0x%X", ErrDuplicateKey, i)
		}
		n := sym.normalize()
		if _, ok := keys[n]; ok {
			return KeyMap{}, fmt.Errorf("%w: %q", ErrDuplicateSym, rune(sym))
		}
		seen[i] = true
		keys[n] = i
	}

	return KeyMap{keys: keys}, nil
}

// MustKeyMap is like NewKeyMap but panics on an invalid map.
func MustKeyMap(m map[Symbol]uint8) KeyMap {
	km, err := NewKeyMap(m)
	if err != nil {
		panic(err)
	}
	return km
}

// Lookup returns the logical key for sym. ok is false for unmapped symbols.
func (k KeyMap) Lookup(sym Symbol) (index uint8, ok bool) {
	index, ok = k.keys[sym.normalize()]
	return index, ok
}

// Len returns the number of mapped symbols.
func (k KeyMap) Len() int {
	return len(k.keys)
}

// Symbols calls fn for every mapped symbol.
func (k KeyMap) Symbols(fn func(sym Symbol, index uint8)) {
	for sym, i := range k.keys {
		fn(sym, i)
	}
}
