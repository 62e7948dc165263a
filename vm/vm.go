// Package vm defines the contract between the front ends and the machine
// that executes a program image.
package vm

// Machine is the only mutation surface of a virtual machine.
//
// Load must be called at most once and before Start. OnKeyStateChanged
// carries the full 16-bit key mask, one bit per logical key.
type Machine interface {
	Load(image []byte) error
	Start() error
	OnKeyStateChanged(mask uint16) error
}
