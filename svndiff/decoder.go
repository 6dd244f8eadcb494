package svndiff

import (
	"bytes"
	"fmt"

	"github.com/signadot/raedit/delta"
)

// Decoder is an io.WriteCloser parsing svndiff bytes and passing each
// complete window to a handler. Close checks that the stream ended on a
// window boundary and sends the terminating nil window.
type Decoder struct {
	h          delta.WindowHandler
	buf        []byte
	headerDone bool
	closed     bool

	lastOffset int64
	lastLen    int
}

// NewDecoder returns a Decoder feeding h.
func NewDecoder(h delta.WindowHandler) *Decoder {
	return &Decoder{h: h}
}

func (d *Decoder) Write(p []byte) (int, error) {
	if d.closed {
		return 0, fmt.Errorf("write to closed svndiff decoder")
	}
	d.buf = append(d.buf, p...)
	if !d.headerDone {
		if len(d.buf) < len(header) {
			return len(p), nil
		}
		if !bytes.Equal(d.buf[:len(header)], header) {
			return 0, fmt.Errorf("%w: bad header", ErrCorrupt)
		}
		d.buf = d.buf[len(header):]
		d.headerDone = true
	}
	for {
		win, n, err := d.parseWindow()
		if err != nil {
			return 0, err
		}
		if win == nil {
			break
		}
		d.buf = d.buf[n:]
		if err := d.h(win); err != nil {
			return 0, err
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(p), nil
}

// Close ends the stream.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if len(d.buf) > 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(d.buf))
	}
	return d.h(nil)
}

// parseWindow returns a nil window when d.buf does not hold a full window.
func (d *Decoder) parseWindow() (*delta.Window, int, error) {
	var vals [5]uint64
	pos := 0
	for i := range vals {
		v, n, ok, err := readInt(d.buf[pos:])
		if err != nil || !ok {
			return nil, 0, err
		}
		vals[i] = v
		pos += n
	}
	soff, slen, tlen, inslen, newlen := vals[0], vals[1], vals[2], vals[3], vals[4]
	if slen > MaxViewLen || tlen > MaxViewLen || inslen > MaxViewLen || newlen > MaxViewLen {
		return nil, 0, fmt.Errorf("%w: window too large", ErrCorrupt)
	}
	if soff > 1<<62 {
		return nil, 0, fmt.Errorf("%w: source offset out of range", ErrCorrupt)
	}
	end := pos + int(inslen) + int(newlen)
	if len(d.buf) < end {
		return nil, 0, nil
	}
	win := &delta.Window{
		SourceOffset: int64(soff),
		SourceLen:    int(slen),
		TargetLen:    int(tlen),
		NewData:      append([]byte(nil), d.buf[pos+int(inslen):end]...),
	}
	if win.SourceLen > 0 {
		if win.SourceOffset < d.lastOffset || win.SourceOffset+int64(win.SourceLen) < d.lastOffset+int64(d.lastLen) {
			return nil, 0, fmt.Errorf("%w: source view slides backwards", ErrCorrupt)
		}
		d.lastOffset, d.lastLen = win.SourceOffset, win.SourceLen
	}
	ops, err := decodeOps(d.buf[pos:pos+int(inslen)], win)
	if err != nil {
		return nil, 0, err
	}
	win.Ops = ops
	return win, end, nil
}

func decodeOps(ins []byte, win *delta.Window) ([]delta.Op, error) {
	var ops []delta.Op
	next := 0
	tpos := 0
	for len(ins) > 0 {
		c := ins[0]
		ins = ins[1:]
		length := uint64(c & 0x3f)
		if length == 0 {
			v, n, ok, err := readInt(ins)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: truncated instruction", ErrCorrupt)
			}
			length = v
			ins = ins[n:]
		}
		if length > uint64(win.TargetLen) {
			return nil, fmt.Errorf("%w: instruction longer than target view", ErrCorrupt)
		}
		op := delta.Op{Length: int(length)}
		switch c & 0xc0 {
		case selSource, selTarget:
			v, n, ok, err := readInt(ins)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: truncated instruction", ErrCorrupt)
			}
			ins = ins[n:]
			if v > MaxViewLen {
				return nil, fmt.Errorf("%w: copy offset out of range", ErrCorrupt)
			}
			op.Offset = int(v)
			if c&0xc0 == selSource {
				op.Kind = delta.OpSource
				if op.Offset+op.Length > win.SourceLen {
					return nil, fmt.Errorf("%w: source copy beyond view", ErrCorrupt)
				}
			} else {
				op.Kind = delta.OpTarget
				if op.Offset >= tpos {
					return nil, fmt.Errorf("%w: target copy from unwritten bytes", ErrCorrupt)
				}
			}
		case selNew:
			op.Kind = delta.OpNew
			op.Offset = next
			next += op.Length
			if next > len(win.NewData) {
				return nil, fmt.Errorf("%w: new data copy beyond data", ErrCorrupt)
			}
		default:
			return nil, fmt.Errorf("%w: bad instruction selector", ErrCorrupt)
		}
		tpos += op.Length
		ops = append(ops, op)
	}
	if tpos != win.TargetLen {
		return nil, fmt.Errorf("%w: instructions produce %d bytes, want %d", ErrCorrupt, tpos, win.TargetLen)
	}
	if next != len(win.NewData) {
		return nil, fmt.Errorf("%w: unused new data", ErrCorrupt)
	}
	return ops, nil
}
