package display

const (
	DisplayWidth  int = 64
	DisplayHeight int = 32

	// PackedSize is the length of a frame packed one bit per pixel.
	PackedSize = DisplayWidth * DisplayHeight / 8
)

// Frame holds one monochrome picture, indexed [y][x].
type Frame [DisplayHeight][DisplayWidth]bool

// Drawer presents frames. Draw may be called from the machine's goroutine,
// so implementations must copy the frame if they keep it.
type Drawer interface {
	Draw(frame Frame) error
}

type Display struct {
	pixels Frame
	drawer Drawer
}

func NewDisplay(drawer Drawer) *Display {
	return &Display{
		drawer: drawer,
	}
}

func (d *Display) Clear() error {
	d.pixels = Frame{}

	return d.drawer.Draw(d.pixels)
}

// DrawSprite XORs an 8-pixel wide sprite onto the display at x, y. Pixels
// that fall off the right or bottom edge are clipped. It returns 1 if any
// lit pixel was turned off.
func (d *Display) DrawSprite(x, y uint8, sprite []uint8) (uint8, error) {
	startX := int(x)
	startY := int(y)

	vf := uint8(0)

	for row := range sprite {
		if startY+row >= DisplayHeight {
			break
		}

		for col := 0; col < 8; col++ {
			if startX+col >= DisplayWidth {
				break
			}

			current := d.pixels[startY+row][startX+col]
			lit := (sprite[row]>>(7-col))&1 != 0

			if current && lit {
				d.pixels[startY+row][startX+col] = false
				vf = 1
			} else if !current && lit {
				d.pixels[startY+row][startX+col] = true
			}
		}
	}

	return vf, d.drawer.Draw(d.pixels)
}

// Pack encodes a frame row-major, one bit per pixel, most significant bit
// first.
func Pack(frame Frame) [PackedSize]byte {
	var out [PackedSize]byte

	for y := range frame {
		for x, on := range frame[y] {
			if on {
				i := y*DisplayWidth + x
				out[i/8] |= 0x80 >> (i % 8)
			}
		}
	}

	return out
}
