package chip8

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chip8harness/chip8/display"
)

type drawer struct {
	frames []display.Frame
}

func (d *drawer) Draw(frame display.Frame) error {
	d.frames = append(d.frames, frame)
	return nil
}

type beeper struct {
	beeps []time.Duration
}

func (b *beeper) Beep(d time.Duration) {
	b.beeps = append(b.beeps, d)
}

func program(words ...uint16) []byte {
	out := make([]byte, 0, len(words)*2)
	for _, w := range words {
		out = append(out, byte(w>>8), byte(w))
	}
	return out
}

func newMachine(t *testing.T, words ...uint16) (*Chip8, *drawer, *beeper) {
	t.Helper()

	d := &drawer{}
	b := &beeper{}
	c := New(b, d, WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, c.Load(program(words...)))

	return c, d, b
}

func step(t *testing.T, c *Chip8, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, c.Cycle())
	}
}

func TestLoadStartLifecycle(t *testing.T) {
	c := New(nil, &drawer{})

	assert.ErrorIs(t, c.Start(), ErrNotLoaded)
	assert.ErrorIs(t, c.Load(make([]byte, MaxImageSize+1)), ErrImageTooLarge)

	require.NoError(t, c.Load(program(0x1200)))
	assert.ErrorIs(t, c.Load(program(0x1200)), ErrAlreadyLoaded)

	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), ErrRunning)
	assert.ErrorIs(t, c.Load(program(0x1200)), ErrRunning)

	c.Stop()
	<-c.Done()
	assert.NoError(t, c.Err())
}

func TestStopWithoutStart(t *testing.T) {
	c := New(nil, &drawer{})
	c.Stop()
	c.Stop()
	assert.NoError(t, c.Err())
}

func TestHaltOnUnknownOpcode(t *testing.T) {
	c := New(nil, &drawer{}, WithCyclesPerSecond(1000))
	require.NoError(t, c.Load(program(0x6001, 0xF0FF)))
	require.NoError(t, c.Start())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("machine did not halt")
	}

	var uerr *UnknownInstructionError
	require.ErrorAs(t, c.Err(), &uerr)
	assert.Equal(t, uint16(0x202), uerr.PC)
	c.Stop()
}

func TestLoadMaxSizeImage(t *testing.T) {
	c := New(nil, &drawer{})
	image := make([]byte, MaxImageSize)
	image[len(image)-1] = 0xAB

	require.NoError(t, c.Load(image))
	assert.Equal(t, uint8(0xAB), c.memory[MemorySize-1])
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		words  []uint16
		vx, vf uint8
	}{
		{"add carry", []uint16{0x60FF, 0x6102, 0x8014}, 0x01, 1},
		{"add no carry", []uint16{0x6010, 0x6102, 0x8014}, 0x12, 0},
		{"sub no borrow", []uint16{0x6010, 0x6102, 0x8015}, 0x0E, 1},
		{"sub borrow", []uint16{0x6001, 0x6102, 0x8015}, 0xFF, 0},
		{"subn", []uint16{0x6001, 0x6103, 0x8017}, 0x02, 1},
		{"shr", []uint16{0x6000, 0x6105, 0x8016}, 0x02, 1},
		{"shl", []uint16{0x6000, 0x6181, 0x801E}, 0x02, 1},
		{"or", []uint16{0x6011, 0x6122, 0x8011}, 0x33, 0},
		{"and", []uint16{0x6013, 0x6122, 0x8012}, 0x02, 0},
		{"xor", []uint16{0x6013, 0x6122, 0x8013}, 0x31, 0},
		{"add immediate wraps", []uint16{0x60FF, 0x7002}, 0x01, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newMachine(t, tt.words...)
			step(t, c, len(tt.words))

			assert.Equal(t, tt.vx, c.v[0])
			assert.Equal(t, tt.vf, c.v[0xF])
		})
	}
}

func TestFlagRegisterAsOperand(t *testing.T) {
	// VF as destination gets the flag, not the sum
	c, _, _ := newMachine(t, 0x6FFF, 0x6102, 0x8F14)
	step(t, c, 3)
	assert.Equal(t, uint8(1), c.v[0xF])
}

func TestSkipsAndJumps(t *testing.T) {
	c, _, _ := newMachine(t,
		0x6005, // 200: V0 = 5
		0x3005, // 202: skip if V0 == 5
		0x00E0, // 204: skipped
		0x4005, // 206: skip if V0 != 5
		0x2210, // 208: call 210
		0x1208, // 20A
		0x0000,
		0x0000,
		0x00EE, // 210: return
	)

	step(t, c, 3)
	assert.Equal(t, uint16(0x208), c.pc)

	step(t, c, 1)
	assert.Equal(t, uint16(0x210), c.pc)
	assert.Equal(t, uint16(1), c.sp)

	step(t, c, 1)
	assert.Equal(t, uint16(0x20A), c.pc)
	assert.Equal(t, uint16(0), c.sp)

	step(t, c, 1)
	assert.Equal(t, uint16(0x208), c.pc)
}

func TestJumpWithOffset(t *testing.T) {
	c, _, _ := newMachine(t, 0x6004, 0xB300)
	step(t, c, 2)
	assert.Equal(t, uint16(0x304), c.pc)
}

func TestStackErrors(t *testing.T) {
	c, _, _ := newMachine(t, 0x00EE)
	assert.ErrorIs(t, c.Cycle(), ErrStackUnderflow)

	c, _, _ = newMachine(t, 0x2200)
	step(t, c, 16)
	assert.ErrorIs(t, c.Cycle(), ErrStackOverflow)
}

func TestSysIgnored(t *testing.T) {
	c, _, _ := newMachine(t, 0x0123)
	step(t, c, 1)
	assert.Equal(t, uint16(0x202), c.pc)
}

func TestDrawAndClear(t *testing.T) {
	c, d, _ := newMachine(t,
		0xF029, // I = font 0
		0xD005, // draw at 0,0
		0xD005, // erase
		0x00E0,
	)

	step(t, c, 2)
	require.Len(t, d.frames, 1)
	assert.True(t, d.frames[0][0][0])
	assert.Equal(t, uint8(0), c.v[0xF])

	step(t, c, 1)
	assert.Equal(t, uint8(1), c.v[0xF])
	assert.Equal(t, display.Frame{}, d.frames[1])

	step(t, c, 1)
	assert.Len(t, d.frames, 3)
}

func TestDrawOutOfBounds(t *testing.T) {
	c, _, _ := newMachine(t, 0xAFFE, 0xD005)
	step(t, c, 1)
	assert.ErrorIs(t, c.Cycle(), ErrMemoryBounds)
}

func TestBCDAndRegisterDump(t *testing.T) {
	c, _, _ := newMachine(t,
		0x60FE, // V0 = 254
		0xA300,
		0xF033,
		0xF265, // V0..V2 = memory[I..]
	)
	step(t, c, 4)

	assert.Equal(t, []uint8{2, 5, 4}, c.memory[0x300:0x303])
	assert.Equal(t, []uint8{2, 5, 4}, c.v[:3])
}

func TestStoreRegisters(t *testing.T) {
	c, _, _ := newMachine(t, 0x6001, 0x6102, 0x6203, 0xA400, 0xF255)
	step(t, c, 5)
	assert.Equal(t, []uint8{1, 2, 3}, c.memory[0x400:0x403])
}

func TestKeySkips(t *testing.T) {
	c, _, _ := newMachine(t,
		0x600C, // V0 = C
		0xE09E, // skip if C down
		0x0000,
		0xE0A1, // skip if C up
		0x0000,
	)

	require.NoError(t, c.OnKeyStateChanged(1<<0xC))
	step(t, c, 2)
	assert.Equal(t, uint16(0x206), c.pc)

	step(t, c, 1)
	assert.Equal(t, uint16(0x208), c.pc)
}

func TestWaitForKeyRelease(t *testing.T) {
	c, _, _ := newMachine(t, 0xF30A)

	step(t, c, 3)
	assert.Equal(t, uint16(0x200), c.pc)

	require.NoError(t, c.OnKeyStateChanged(1<<0x7))
	step(t, c, 1)
	assert.Equal(t, uint16(0x200), c.pc)

	require.NoError(t, c.OnKeyStateChanged(0))
	step(t, c, 1)
	assert.Equal(t, uint16(0x202), c.pc)
	assert.Equal(t, uint8(0x7), c.v[3])
}

func TestTimers(t *testing.T) {
	c, _, b := newMachine(t, 0x603C, 0xF015, 0xF018, 0x1206)
	c.cyclesPerSecond = 60

	step(t, c, 3)
	assert.Equal(t, uint8(0x3A), c.delayTimer)
	assert.Equal(t, uint8(0x3B), c.soundTimer)
	assert.Equal(t, []time.Duration{time.Second}, b.beeps)

	step(t, c, 0x3B)
	assert.Equal(t, uint8(0), c.delayTimer)
	assert.Equal(t, uint8(0), c.soundTimer)
}

func TestTimerRate(t *testing.T) {
	c, _, _ := newMachine(t, 0x6078, 0xF015, 0x1204)

	// 500 cycles is one second, so 60 ticks
	step(t, c, 2+500)
	assert.Equal(t, uint8(120-60), c.delayTimer)
}

func TestCycleRateClamped(t *testing.T) {
	c := New(nil, &drawer{}, WithCyclesPerSecond(2_000_000_000))
	assert.Equal(t, MaxCyclesPerSecond, c.cyclesPerSecond)

	require.NoError(t, c.Load([]byte{0x12, 0x00}))
	require.NoError(t, c.Start())
	c.Stop()
	<-c.Done()
	assert.NoError(t, c.Err())

	c = New(nil, &drawer{}, WithCyclesPerSecond(-1))
	assert.Equal(t, DefaultCyclesPerSecond, c.cyclesPerSecond)
}

func TestRandomMasked(t *testing.T) {
	c, _, _ := newMachine(t, 0xC00F)
	step(t, c, 1)
	assert.Zero(t, c.v[0]&0xF0)
}
