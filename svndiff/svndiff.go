// Package svndiff encodes delta windows in the compact svndiff format used
// for textdelta-chunk payloads, and decodes them back from arbitrarily
// split chunks.
//
// A stream is the four byte header "SVN\x00" followed by windows. Each
// window is five integers (source view offset, source view length, target
// view length, instruction length, new data length), the instructions, then
// the new data. Integers are big-endian base-128 with the high bit set on
// every byte but the last.
package svndiff

import (
	"errors"
	"fmt"
	"io"

	"github.com/signadot/raedit/delta"
)

var header = []byte{'S', 'V', 'N', 0}

const (
	selSource = 0 << 6
	selTarget = 1 << 6
	selNew    = 2 << 6

	// MaxViewLen bounds source and target views accepted by the decoder.
	MaxViewLen = 16 << 20
)

// ErrCorrupt reports a malformed svndiff stream.
var ErrCorrupt = errors.New("corrupt svndiff data")

// Encoder turns windows into svndiff bytes written to w. Every Handle call
// results in exactly one Write.
type Encoder struct {
	w          io.WriteCloser
	headerDone bool
}

// NewEncoder returns an Encoder writing to w. w is closed after the
// terminating nil window.
func NewEncoder(w io.WriteCloser) *Encoder {
	return &Encoder{w: w}
}

// Handle is a delta.WindowHandler.
func (e *Encoder) Handle(win *delta.Window) error {
	if !e.headerDone {
		e.headerDone = true
		if _, err := e.w.Write(header); err != nil {
			return err
		}
	}
	if win == nil {
		return e.w.Close()
	}
	data, err := AppendWindow(nil, win)
	if err != nil {
		return err
	}
	_, err = e.w.Write(data)
	return err
}

// AppendWindow appends the svndiff encoding of win to dst.
func AppendWindow(dst []byte, win *delta.Window) ([]byte, error) {
	var ins []byte
	next := 0
	for i, op := range win.Ops {
		var sel byte
		switch op.Kind {
		case delta.OpSource:
			sel = selSource
		case delta.OpTarget:
			sel = selTarget
		case delta.OpNew:
			if op.Offset != next {
				return dst, fmt.Errorf("instruction %d: new data must be consumed in order", i)
			}
			next += op.Length
			sel = selNew
		default:
			return dst, fmt.Errorf("instruction %d: bad kind %v", i, op.Kind)
		}
		if op.Length > 0 && op.Length < 64 {
			ins = append(ins, sel|byte(op.Length))
		} else {
			ins = append(ins, sel)
			ins = appendInt(ins, uint64(op.Length))
		}
		if op.Kind != delta.OpNew {
			ins = appendInt(ins, uint64(op.Offset))
		}
	}
	if next != len(win.NewData) {
		return dst, fmt.Errorf("instructions use %d of %d new data bytes", next, len(win.NewData))
	}
	dst = appendInt(dst, uint64(win.SourceOffset))
	dst = appendInt(dst, uint64(win.SourceLen))
	dst = appendInt(dst, uint64(win.TargetLen))
	dst = appendInt(dst, uint64(len(ins)))
	dst = appendInt(dst, uint64(len(win.NewData)))
	dst = append(dst, ins...)
	dst = append(dst, win.NewData...)
	return dst, nil
}

func appendInt(dst []byte, v uint64) []byte {
	var tmp [10]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7f)
	v >>= 7
	for v > 0 {
		i--
		tmp[i] = byte(v&0x7f) | 0x80
		v >>= 7
	}
	return append(dst, tmp[i:]...)
}

// readInt decodes an integer at the start of p. ok is false when p ends
// before the integer does.
func readInt(p []byte) (v uint64, n int, ok bool, err error) {
	for n < len(p) {
		c := p[n]
		n++
		if v > (1<<63-1)>>7 {
			return 0, n, false, fmt.Errorf("%w: integer overflow", ErrCorrupt)
		}
		v = v<<7 | uint64(c&0x7f)
		if c&0x80 == 0 {
			return v, n, true, nil
		}
	}
	return 0, n, false, nil
}
