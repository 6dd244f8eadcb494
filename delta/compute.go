package delta

import (
	"fmt"
	"io"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultWindowSize bounds the target view of computed windows.
const DefaultWindowSize = 100 * 1024

// SendWindows computes the windows turning source into target, hands them
// to h and terminates the delta with a nil window.
func SendWindows(source, target []byte, h WindowHandler) error {
	for _, w := range ComputeWindows(source, target, DefaultWindowSize) {
		if err := h(w); err != nil {
			return err
		}
	}
	return h(nil)
}

// SendStreams is SendWindows over readers. A nil source is empty.
func SendStreams(source, target io.Reader, h WindowHandler) error {
	var src []byte
	if source != nil {
		var err error
		src, err = io.ReadAll(source)
		if err != nil {
			return fmt.Errorf("failed to read delta source: %w", err)
		}
	}
	tgt, err := io.ReadAll(target)
	if err != nil {
		return fmt.Errorf("failed to read delta target: %w", err)
	}
	return SendWindows(src, tgt, h)
}

// ComputeWindows diffs source against target and splits the result into
// windows whose target views hold at most size bytes.
func ComputeWindows(source, target []byte, size int) []*Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	// each byte maps to the rune of the same value so that rune offsets
	// reported by the diff are byte offsets.
	diffs := diffpatch.New().DiffMainRunes(byteRunes(source), byteRunes(target), false)
	b := &windowBuilder{size: size}
	spos := 0
	for i := range diffs {
		d := &diffs[i]
		n := len([]rune(d.Text))
		switch d.Type {
		case diffpatch.DiffEqual:
			b.copySource(spos, n)
			spos += n
		case diffpatch.DiffDelete:
			spos += n
		case diffpatch.DiffInsert:
			b.newData(runeBytes(d.Text))
		}
	}
	b.flush()
	return b.out
}

func byteRunes(data []byte) []rune {
	rs := make([]rune, len(data))
	for i, c := range data {
		rs[i] = rune(c)
	}
	return rs
}

func runeBytes(s string) []byte {
	res := make([]byte, 0, len(s))
	for _, r := range s {
		res = append(res, byte(r))
	}
	return res
}

type windowBuilder struct {
	size   int
	cur    *Window
	srcMin int
	srcMax int
	out    []*Window
}

func (b *windowBuilder) room() int {
	if b.cur == nil {
		b.cur = &Window{}
		b.srcMin, b.srcMax = -1, -1
	}
	return b.size - b.cur.TargetLen
}

func (b *windowBuilder) copySource(off, n int) {
	for n > 0 {
		k := min(n, b.room())
		w := b.cur
		if last := len(w.Ops) - 1; last >= 0 && w.Ops[last].Kind == OpSource &&
			w.Ops[last].Offset+w.Ops[last].Length == off {
			w.Ops[last].Length += k
		} else {
			w.Ops = append(w.Ops, Op{Kind: OpSource, Offset: off, Length: k})
		}
		if b.srcMin < 0 || off < b.srcMin {
			b.srcMin = off
		}
		if off+k > b.srcMax {
			b.srcMax = off + k
		}
		w.TargetLen += k
		off += k
		n -= k
		if b.room() == 0 {
			b.flush()
		}
	}
}

func (b *windowBuilder) newData(data []byte) {
	for len(data) > 0 {
		k := min(len(data), b.room())
		w := b.cur
		if last := len(w.Ops) - 1; last >= 0 && w.Ops[last].Kind == OpNew {
			w.Ops[last].Length += k
		} else {
			w.Ops = append(w.Ops, Op{Kind: OpNew, Offset: len(w.NewData), Length: k})
		}
		w.NewData = append(w.NewData, data[:k]...)
		w.TargetLen += k
		data = data[k:]
		if b.room() == 0 {
			b.flush()
		}
	}
}

func (b *windowBuilder) flush() {
	w := b.cur
	if w == nil {
		return
	}
	b.cur = nil
	if w.TargetLen == 0 {
		return
	}
	if b.srcMin >= 0 {
		w.SourceOffset = int64(b.srcMin)
		w.SourceLen = b.srcMax - b.srcMin
		for i := range w.Ops {
			if w.Ops[i].Kind == OpSource {
				w.Ops[i].Offset -= b.srcMin
			}
		}
	}
	b.out = append(b.out, w)
}
