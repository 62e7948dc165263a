// Package opcodes decodes 16-bit CHIP-8 opcodes into instructions.
package opcodes

import (
	"fmt"
	"strings"
)

// Instruction identifies one of the 35 CHIP-8 instructions.
type Instruction int

const (
	InstructionUnknown Instruction = iota
	Instruction0NNN
	Instruction00E0
	Instruction00EE
	Instruction1NNN
	Instruction2NNN
	Instruction3XNN
	Instruction4XNN
	Instruction5XY0
	Instruction6XNN
	Instruction7XNN
	Instruction8XY0
	Instruction8XY1
	Instruction8XY2
	Instruction8XY3
	Instruction8XY4
	Instruction8XY5
	Instruction8XY6
	Instruction8XY7
	Instruction8XYE
	Instruction9XY0
	InstructionANNN
	InstructionBNNN
	InstructionCXNN
	InstructionDXYN
	InstructionEX9E
	InstructionEXA1
	InstructionFX07
	InstructionFX0A
	InstructionFX15
	InstructionFX18
	InstructionFX1E
	InstructionFX29
	InstructionFX33
	InstructionFX55
	InstructionFX65
)

// Opcode is a raw big-endian instruction word.
type Opcode uint16

// pattern matches an opcode when opcode&mask == value. Patterns are tried
// in order, so 00E0 and 00EE must come before 0NNN.
type pattern struct {
	mask, value uint16
	instruction Instruction
	format      string
}

var patterns = []pattern{
	{0xFFFF, 0x00E0, Instruction00E0, "CLS"},
	{0xFFFF, 0x00EE, Instruction00EE, "RET"},
	{0xF000, 0x0000, Instruction0NNN, "SYS {nnn}"},
	{0xF000, 0x1000, Instruction1NNN, "JP {nnn}"},
	{0xF000, 0x2000, Instruction2NNN, "CALL {nnn}"},
	{0xF000, 0x3000, Instruction3XNN, "SE V{x}, {nn}"},
	{0xF000, 0x4000, Instruction4XNN, "SNE V{x}, {nn}"},
	{0xF00F, 0x5000, Instruction5XY0, "SE V{x}, V{y}"},
	{0xF000, 0x6000, Instruction6XNN, "LD V{x}, {nn}"},
	{0xF000, 0x7000, Instruction7XNN, "ADD V{x}, {nn}"},
	{0xF00F, 0x8000, Instruction8XY0, "LD V{x}, V{y}"},
	{0xF00F, 0x8001, Instruction8XY1, "OR V{x}, V{y}"},
	{0xF00F, 0x8002, Instruction8XY2, "AND V{x}, V{y}"},
	{0xF00F, 0x8003, Instruction8XY3, "XOR V{x}, V{y}"},
	{0xF00F, 0x8004, Instruction8XY4, "ADD V{x}, V{y}"},
	{0xF00F, 0x8005, Instruction8XY5, "SUB V{x}, V{y}"},
	{0xF00F, 0x8006, Instruction8XY6, "SHR V{x}, V{y}"},
	{0xF00F, 0x8007, Instruction8XY7, "SUBN V{x}, V{y}"},
	{0xF00F, 0x800E, Instruction8XYE, "SHL V{x}, V{y}"},
	{0xF00F, 0x9000, Instruction9XY0, "SNE V{x}, V{y}"},
	{0xF000, 0xA000, InstructionANNN, "LD I, {nnn}"},
	{0xF000, 0xB000, InstructionBNNN, "JP V0, {nnn}"},
	{0xF000, 0xC000, InstructionCXNN, "RND V{x}, {nn}"},
	{0xF000, 0xD000, InstructionDXYN, "DRW V{x}, V{y}, {n}"},
	{0xF0FF, 0xE09E, InstructionEX9E, "SKP V{x}"},
	{0xF0FF, 0xE0A1, InstructionEXA1, "SKNP V{x}"},
	{0xF0FF, 0xF007, InstructionFX07, "LD V{x}, DT"},
	{0xF0FF, 0xF00A, InstructionFX0A, "LD V{x}, K"},
	{0xF0FF, 0xF015, InstructionFX15, "LD DT, V{x}"},
	{0xF0FF, 0xF018, InstructionFX18, "LD ST, V{x}"},
	{0xF0FF, 0xF01E, InstructionFX1E, "ADD I, V{x}"},
	{0xF0FF, 0xF029, InstructionFX29, "LD F, V{x}"},
	{0xF0FF, 0xF033, InstructionFX33, "LD B, V{x}"},
	{0xF0FF, 0xF055, InstructionFX55, "LD [I], V{x}"},
	{0xF0FF, 0xF065, InstructionFX65, "LD V{x}, [I]"},
}

func (o Opcode) match() (pattern, bool) {
	for _, p := range patterns {
		if uint16(o)&p.mask == p.value {
			return p, true
		}
	}
	return pattern{}, false
}

// Instruction decodes o, or returns InstructionUnknown.
func (o Opcode) Instruction() Instruction {
	p, ok := o.match()
	if !ok {
		return InstructionUnknown
	}
	return p.instruction
}

// X is the register in the second nibble.
func (o Opcode) X() uint8 {
	return uint8(o >> 8 & 0xF)
}

// Y is the register in the third nibble.
func (o Opcode) Y() uint8 {
	return uint8(o >> 4 & 0xF)
}

func (o Opcode) N() uint8 {
	return uint8(o & 0xF)
}

func (o Opcode) NN() uint8 {
	return uint8(o)
}

// NNN is the 12-bit address.
func (o Opcode) NNN() uint16 {
	return uint16(o & 0xFFF)
}

// Mnemonic disassembles o, e.g. "DRW V1, V2, 0xf". Unknown opcodes
// disassemble to "???".
func (o Opcode) Mnemonic() string {
	p, ok := o.match()
	if !ok {
		return "???"
	}

	r := strings.NewReplacer(
		"{x}", fmt.Sprintf("%x", o.X()),
		"{y}", fmt.Sprintf("%x", o.Y()),
		"{n}", fmt.Sprintf("0x%x", o.N()),
		"{nn}", fmt.Sprintf("0x%02x", o.NN()),
		"{nnn}", fmt.Sprintf("0x%03x", o.NNN()),
	)
	return r.Replace(p.format)
}

func (o Opcode) String() string {
	return fmt.Sprintf("0x%04x (%s)", uint16(o), o.Mnemonic())
}
