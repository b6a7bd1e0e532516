package robot

import (
	"errors"
	"fmt"
	"math"

	"github.com/dbrgn/iboardbot-web/internal/geometry"
)

// Drawable area of the board in millimetres. The firmware addresses it
// in tenths of a millimetre with a 12-bit coordinate per axis.
const (
	DeviceWidth  = 358.0
	DeviceHeight = 123.0
)

const (
	// blockSize is the firmware's onboard receive buffer. A framed
	// block must never exceed it.
	blockSize = 768
	// blockHeaderSize covers the BlockStart and BlockNumber commands.
	blockHeaderSize = 6
	// maxBlockNumber is the firmware's limit on block numbering.
	maxBlockNumber = 4000
)

var ErrTooManyBlocks = errors.New("job exceeds maximum block count")

// Block is one framed unit of the serial protocol: a BlockStart
// marker, a block number and up to 762 bytes of command payload. The
// firmware acknowledges each block by number.
type Block struct {
	Num  uint16
	Data []byte
}

func cmdBlockStart() []byte   { return []byte{0xfa, 0x9f, 0xa1} }
func cmdStartDrawing() []byte { return []byte{0xfa, 0x1f, 0xa1} }
func cmdStopDrawing() []byte  { return []byte{0xfa, 0x20, 0x00} }
func cmdPenLift() []byte      { return []byte{0xfa, 0x30, 0x00} }
func cmdPenDown() []byte      { return []byte{0xfa, 0x40, 0x00} }
func cmdErase() []byte        { return []byte{0xfa, 0x50, 0x00} }

func cmdBlockNumber(num uint16) []byte {
	// Caller guarantees num < maxBlockNumber.
	return []byte{0xfa, byte(0x90 | num>>8), byte(num & 0xff)}
}

// cmdMove encodes a move to raw device coordinates in tenths of a
// millimetre, packed as two 12-bit values into three bytes.
func cmdMove(x, y uint16) []byte {
	return []byte{
		byte(x >> 4),
		byte((x<<4 | y>>8) & 0xff),
		byte(y & 0xff),
	}
}

// clampX clamps an x coordinate to the drawable area.
func clampX(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > DeviceWidth {
		return DeviceWidth
	}
	return x
}

// clampY inverts and clamps a y coordinate. SVG puts the origin at the
// top left, the board at the bottom left.
func clampY(y float64) float64 {
	yy := DeviceHeight - y
	if yy < 0 {
		return 0
	}
	if yy > DeviceHeight {
		return DeviceHeight
	}
	return yy
}

// Encoder accumulates firmware commands and frames them into numbered
// blocks. Block numbering is global across one job, so a caller may
// Flush at any command boundary (the executor flushes per polyline to
// keep cancellation points clean) without disturbing the firmware's
// ack sequence.
type Encoder struct {
	pending []byte
	next    uint16
}

func NewEncoder() *Encoder {
	return &Encoder{next: 1}
}

func (e *Encoder) add(cmd []byte) {
	e.pending = append(e.pending, cmd...)
}

// Begin emits the job preamble: start drawing, lift the pen and park
// at the origin.
func (e *Encoder) Begin() {
	e.add(cmdStartDrawing())
	e.add(cmdPenLift())
	e.add(cmdMove(0, 0))
}

// Polyline emits a pen-up move to the first point, a pen-down
// transition, moves through the remaining points and a final pen-up.
// Polylines with fewer than two points produce nothing.
func (e *Encoder) Polyline(polyline geometry.Polyline) {
	if len(polyline) < 2 {
		return
	}
	e.add(e.moveCmd(polyline[0]))
	e.add(cmdPenDown())
	for _, p := range polyline[1:] {
		e.add(e.moveCmd(p))
	}
	e.add(cmdPenLift())
}

// End emits the job trailer: park at the origin and stop drawing.
func (e *Encoder) End() {
	e.add(cmdMove(0, 0))
	e.add(cmdStopDrawing())
}

// Erase emits a board erase cycle.
func (e *Encoder) Erase() {
	e.add(cmdErase())
}

func (e *Encoder) moveCmd(p geometry.Point) []byte {
	x := uint16(math.Round(clampX(p.X) * 10))
	y := uint16(math.Round(clampY(p.Y) * 10))
	return cmdMove(x, y)
}

// Flush frames all pending commands into numbered blocks and clears
// the buffer. Returns no blocks when nothing is pending.
func (e *Encoder) Flush() ([]Block, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	var blocks []Block
	payload := e.pending
	e.pending = nil

	chunk := blockSize - blockHeaderSize
	for len(payload) > 0 {
		if e.next >= maxBlockNumber {
			return nil, fmt.Errorf("%w: %d", ErrTooManyBlocks, maxBlockNumber)
		}
		n := chunk
		if len(payload) < n {
			n = len(payload)
		}
		data := make([]byte, 0, blockHeaderSize+n)
		data = append(data, cmdBlockStart()...)
		data = append(data, cmdBlockNumber(e.next)...)
		data = append(data, payload[:n]...)
		blocks = append(blocks, Block{Num: e.next, Data: data})
		payload = payload[n:]
		e.next++
	}
	return blocks, nil
}
