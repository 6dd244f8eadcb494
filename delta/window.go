package delta

import "fmt"

// OpKind selects where an instruction takes its bytes from.
type OpKind uint8

const (
	// OpSource copies from the window's source view.
	OpSource OpKind = iota
	// OpTarget copies from bytes already produced in the target view. The
	// ranges may overlap, which repeats a pattern.
	OpTarget
	// OpNew copies from the window's new data.
	OpNew
)

func (k OpKind) String() string {
	switch k {
	case OpSource:
		return "source"
	case OpTarget:
		return "target"
	case OpNew:
		return "new"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is one instruction of a window. For OpNew, Offset indexes NewData.
type Op struct {
	Kind   OpKind
	Offset int
	Length int
}

// Window reconstructs TargetLen bytes of target text from the source view
// [SourceOffset, SourceOffset+SourceLen).
type Window struct {
	SourceOffset int64
	SourceLen    int
	TargetLen    int
	Ops          []Op
	NewData      []byte
}

// Apply runs the window's instructions against the source view sview and
// appends the reconstructed target view to dst.
func (w *Window) Apply(sview, dst []byte) ([]byte, error) {
	if len(sview) != w.SourceLen {
		return dst, fmt.Errorf("source view is %d bytes, window wants %d", len(sview), w.SourceLen)
	}
	start := len(dst)
	for i, op := range w.Ops {
		if op.Length < 0 || op.Offset < 0 {
			return dst, fmt.Errorf("instruction %d: negative range", i)
		}
		switch op.Kind {
		case OpSource:
			if op.Offset+op.Length > len(sview) {
				return dst, fmt.Errorf("instruction %d: source copy beyond view", i)
			}
			dst = append(dst, sview[op.Offset:op.Offset+op.Length]...)
		case OpTarget:
			tpos := len(dst) - start
			if op.Offset >= tpos {
				return dst, fmt.Errorf("instruction %d: target copy from unwritten bytes", i)
			}
			for j := 0; j < op.Length; j++ {
				dst = append(dst, dst[start+op.Offset+j])
			}
		case OpNew:
			if op.Offset+op.Length > len(w.NewData) {
				return dst, fmt.Errorf("instruction %d: new data copy beyond data", i)
			}
			dst = append(dst, w.NewData[op.Offset:op.Offset+op.Length]...)
		default:
			return dst, fmt.Errorf("instruction %d: bad kind %v", i, op.Kind)
		}
	}
	if got := len(dst) - start; got != w.TargetLen {
		return dst, fmt.Errorf("window produced %d bytes, want %d", got, w.TargetLen)
	}
	return dst, nil
}
