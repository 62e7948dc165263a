// Package chip8 implements a CHIP-8 interpreter that satisfies vm.Machine.
package chip8

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"chip8harness/chip8/display"
	"chip8harness/chip8/opcodes"
)

const (
	MemorySize   = 4096
	ProgramStart = 0x200
	MaxImageSize = MemorySize - ProgramStart

	DefaultCyclesPerSecond = 500
	MaxCyclesPerSecond     = 1_000_000

	timerHz   = 60
	fontStart = 0x000
)

var fontSet = [80]uint8{
	0xF0, 0x90, 0x90, 0x90, 0xF0, //0
	0x20, 0x60, 0x20, 0x20, 0x70, //1
	0xF0, 0x10, 0xF0, 0x80, 0xF0, //2
	0xF0, 0x10, 0xF0, 0x10, 0xF0, //3
	0x90, 0x90, 0xF0, 0x10, 0x10, //4
	0xF0, 0x80, 0xF0, 0x10, 0xF0, //5
	0xF0, 0x80, 0xF0, 0x90, 0xF0, //6
	0xF0, 0x10, 0x20, 0x40, 0x40, //7
	0xF0, 0x90, 0xF0, 0x90, 0xF0, //8
	0xF0, 0x90, 0xF0, 0x10, 0xF0, //9
	0xF0, 0x90, 0xF0, 0x90, 0x90, //A
	0xE0, 0x90, 0xE0, 0x90, 0xE0, //B
	0xF0, 0x80, 0x80, 0x80, 0xF0, //C
	0xE0, 0x90, 0x90, 0x90, 0xE0, //D
	0xF0, 0x80, 0xF0, 0x80, 0xF0, //E
	0xF0, 0x80, 0xF0, 0x80, 0x80, //F
}

var (
	ErrAlreadyLoaded  = errors.New("program already loaded")
	ErrNotLoaded      = errors.New("no program loaded")
	ErrRunning        = errors.New("machine already started")
	ErrImageTooLarge  = errors.New("program image too large")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrMemoryBounds   = errors.New("memory access out of bounds")
)

// UnknownInstructionError halts the machine on an opcode it cannot decode.
type UnknownInstructionError struct {
	PC     uint16
	Opcode opcodes.Opcode
}

func (e *UnknownInstructionError) Error() string {
	return fmt.Sprintf("unknown opcode @ 0x%03x: %v", e.PC, e.Opcode)
}

// Beeper plays the sound timer's tone for d.
type Beeper interface {
	Beep(d time.Duration)
}

// Option configures a Chip8.
type Option func(*Chip8)

// WithCyclesPerSecond sets the instruction rate used after Start. Rates
// above MaxCyclesPerSecond are clamped.
func WithCyclesPerSecond(n int) Option {
	return func(c *Chip8) {
		if n > 0 {
			c.cyclesPerSecond = min(n, MaxCyclesPerSecond)
		}
	}
}

// WithLogger sets the logger a halt is reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chip8) {
		c.logger = logger
	}
}

// WithRand sets the source for CXNN.
func WithRand(r *rand.Rand) Option {
	return func(c *Chip8) {
		c.rand = r
	}
}

type Chip8 struct {
	v  [16]uint8
	i  uint16
	pc uint16

	stack [16]uint16
	sp    uint16

	memory [MemorySize]uint8

	display *display.Display
	beeper  Beeper

	delayTimer uint8
	soundTimer uint8
	timerAcc   int

	// keys is written by the input goroutine and read by the cycle loop.
	keys     atomic.Uint32
	curKeys  uint16
	prevKeys uint16

	cyclesPerSecond int
	rand            *rand.Rand
	logger          *slog.Logger

	mu      sync.Mutex
	loaded  bool
	started bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

func New(beeper Beeper, drawer display.Drawer, opts ...Option) *Chip8 {
	c := &Chip8{
		pc:              ProgramStart,
		display:         display.NewDisplay(drawer),
		beeper:          beeper,
		cyclesPerSecond: DefaultCyclesPerSecond,
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	copy(c.memory[fontStart:], fontSet[:])

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Load copies image into program memory. It may be called once, before
// Start.
func (c *Chip8) Load(image []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.started:
		return ErrRunning
	case c.loaded:
		return ErrAlreadyLoaded
	case len(image) > MaxImageSize:
		return fmt.Errorf("%w: %d bytes, at most %d", ErrImageTooLarge, len(image), MaxImageSize)
	}

	copy(c.memory[ProgramStart:], image)
	c.pc = ProgramStart
	c.loaded = true

	return nil
}

// Start runs the program on its own goroutine until Stop is called or an
// instruction fails.
func (c *Chip8) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !c.loaded:
		return ErrNotLoaded
	case c.started:
		return ErrRunning
	}

	c.started = true
	go c.run()

	return nil
}

// OnKeyStateChanged replaces the key mask seen by subsequent instructions.
func (c *Chip8) OnKeyStateChanged(mask uint16) error {
	c.keys.Store(uint32(mask))
	return nil
}

// Stop halts a started machine and waits for its loop to exit.
func (c *Chip8) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if started {
		<-c.done
	}
}

// Done is closed once a started machine has halted.
func (c *Chip8) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that halted the machine, or nil if it was stopped.
// It is only meaningful after Done is closed.
func (c *Chip8) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Chip8) run() {
	defer close(c.done)

	ticker := time.NewTicker(time.Second / time.Duration(c.cyclesPerSecond))
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.Cycle(); err != nil {
				c.err = err
				c.logger.Error("machine halted", slog.Any("error", err))
				return
			}
		}
	}
}

func (c *Chip8) fetch() (opcodes.Opcode, error) {
	if int(c.pc)+2 > MemorySize {
		return 0, fmt.Errorf("%w: fetch @ 0x%03x", ErrMemoryBounds, c.pc)
	}

	o := binary.BigEndian.Uint16(c.memory[c.pc : c.pc+2])
	c.pc += 2

	return opcodes.Opcode(o), nil
}

func (c *Chip8) checkRange(n int) error {
	if int(c.i)+n > MemorySize {
		return fmt.Errorf("%w: I=0x%03x, %d bytes", ErrMemoryBounds, c.i, n)
	}
	return nil
}

func (c *Chip8) keyDown(k uint8) bool {
	return c.curKeys&(1<<(k&0xF)) != 0
}

func (c *Chip8) execute(o opcodes.Opcode) error {
	x, y := o.X(), o.Y()

	switch o.Instruction() {
	case opcodes.Instruction0NNN:
		// machine code routines are not supported and are skipped
	case opcodes.Instruction00E0:
		return c.display.Clear()
	case opcodes.Instruction00EE:
		if c.sp == 0 {
			return ErrStackUnderflow
		}
		c.sp--
		c.pc = c.stack[c.sp]
	case opcodes.Instruction1NNN:
		c.pc = o.NNN()
	case opcodes.Instruction2NNN:
		if int(c.sp) >= len(c.stack) {
			return ErrStackOverflow
		}
		c.stack[c.sp] = c.pc
		c.sp++
		c.pc = o.NNN()
	case opcodes.Instruction3XNN:
		if c.v[x] == o.NN() {
			c.pc += 2
		}
	case opcodes.Instruction4XNN:
		if c.v[x] != o.NN() {
			c.pc += 2
		}
	case opcodes.Instruction5XY0:
		if c.v[x] == c.v[y] {
			c.pc += 2
		}
	case opcodes.Instruction6XNN:
		c.v[x] = o.NN()
	case opcodes.Instruction7XNN:
		c.v[x] += o.NN()
	case opcodes.Instruction8XY0:
		c.v[x] = c.v[y]
	case opcodes.Instruction8XY1:
		c.v[x] |= c.v[y]
	case opcodes.Instruction8XY2:
		c.v[x] &= c.v[y]
	case opcodes.Instruction8XY3:
		c.v[x] ^= c.v[y]
	case opcodes.Instruction8XY4:
		result := uint16(c.v[x]) + uint16(c.v[y])
		c.v[x] = uint8(result)
		c.v[0xF] = flag(result > 0xFF)
	case opcodes.Instruction8XY5:
		vx, vy := c.v[x], c.v[y]
		c.v[x] = vx - vy
		c.v[0xF] = flag(vx >= vy)
	case opcodes.Instruction8XY6:
		vy := c.v[y]
		c.v[x] = vy >> 1
		c.v[0xF] = vy & 0x1
	case opcodes.Instruction8XY7:
		vx, vy := c.v[x], c.v[y]
		c.v[x] = vy - vx
		c.v[0xF] = flag(vy >= vx)
	case opcodes.Instruction8XYE:
		vy := c.v[y]
		c.v[x] = vy << 1
		c.v[0xF] = vy >> 7
	case opcodes.Instruction9XY0:
		if c.v[x] != c.v[y] {
			c.pc += 2
		}
	case opcodes.InstructionANNN:
		c.i = o.NNN()
	case opcodes.InstructionBNNN:
		c.pc = uint16(c.v[0]) + o.NNN()
	case opcodes.InstructionCXNN:
		c.v[x] = uint8(c.rand.Intn(256)) & o.NN()
	case opcodes.InstructionDXYN:
		n := int(o.N())
		if err := c.checkRange(n); err != nil {
			return err
		}

		px := c.v[x] % uint8(display.DisplayWidth)
		py := c.v[y] % uint8(display.DisplayHeight)

		vf, err := c.display.DrawSprite(px, py, c.memory[c.i:int(c.i)+n])
		c.v[0xF] = vf
		if err != nil {
			return fmt.Errorf("failed to draw: %w", err)
		}
	case opcodes.InstructionEX9E:
		if c.keyDown(c.v[x]) {
			c.pc += 2
		}
	case opcodes.InstructionEXA1:
		if !c.keyDown(c.v[x]) {
			c.pc += 2
		}
	case opcodes.InstructionFX07:
		c.v[x] = c.delayTimer
	case opcodes.InstructionFX0A:
		// wait for a key to be released, then store it
		released := c.prevKeys &^ c.curKeys
		if released == 0 {
			c.pc -= 2
			break
		}
		for k := uint8(0); k < 16; k++ {
			if released&(1<<k) != 0 {
				c.v[x] = k
				break
			}
		}
	case opcodes.InstructionFX15:
		c.delayTimer = c.v[x]
	case opcodes.InstructionFX18:
		c.soundTimer = c.v[x]
		if c.soundTimer > 0 && c.beeper != nil {
			c.beeper.Beep(time.Second * time.Duration(c.soundTimer) / timerHz)
		}
	case opcodes.InstructionFX1E:
		c.i += uint16(c.v[x])
	case opcodes.InstructionFX29:
		c.i = fontStart + uint16(c.v[x]&0xF)*5
	case opcodes.InstructionFX33:
		if err := c.checkRange(3); err != nil {
			return err
		}
		c.memory[c.i] = c.v[x] / 100
		c.memory[c.i+1] = (c.v[x] / 10) % 10
		c.memory[c.i+2] = c.v[x] % 10
	case opcodes.InstructionFX55:
		if err := c.checkRange(int(x) + 1); err != nil {
			return err
		}
		copy(c.memory[c.i:], c.v[:x+1])
	case opcodes.InstructionFX65:
		if err := c.checkRange(int(x) + 1); err != nil {
			return err
		}
		copy(c.v[:x+1], c.memory[c.i:])
	default:
		return &UnknownInstructionError{PC: c.pc - 2, Opcode: o}
	}

	return nil
}

func flag(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Cycle fetches and executes one instruction and advances the timers at
// 60Hz relative to the cycle rate.
func (c *Chip8) Cycle() error {
	c.curKeys = uint16(c.keys.Load())
	defer func() { c.prevKeys = c.curKeys }()

	o, err := c.fetch()
	if err != nil {
		return err
	}

	if err := c.execute(o); err != nil {
		return err
	}

	c.timerAcc += timerHz
	for c.timerAcc >= c.cyclesPerSecond {
		c.timerAcc -= c.cyclesPerSecond

		if c.delayTimer > 0 {
			c.delayTimer--
		}
		if c.soundTimer > 0 {
			c.soundTimer--
		}
	}

	return nil
}
