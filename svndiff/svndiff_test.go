package svndiff

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/raedit/delta"
)

type chunkWriter struct {
	chunks [][]byte
	closed bool
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	c.chunks = append(c.chunks, append([]byte(nil), p...))
	return len(p), nil
}

func (c *chunkWriter) Close() error {
	c.closed = true
	return nil
}

func encode(t *testing.T, source, target []byte, size int) *chunkWriter {
	t.Helper()
	cw := &chunkWriter{}
	enc := NewEncoder(cw)
	for _, w := range delta.ComputeWindows(source, target, size) {
		if err := enc.Handle(w); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Handle(nil); err != nil {
		t.Fatal(err)
	}
	if !cw.closed {
		t.Fatal("encoder did not close its writer")
	}
	return cw
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name           string
		source, target string
		size           int
		split          int
	}{
		{name: "empty", source: "", target: "", size: 64, split: 1},
		{name: "fulltext", source: "", target: "some file contents\n", size: 64, split: 3},
		{name: "edit", source: "alpha\nbeta\ngamma\n", target: "alpha\nBETA\ngamma\ndelta\n", size: 8, split: 2},
		{name: "long", source: strings.Repeat("x", 300), target: strings.Repeat("x", 150) + strings.Repeat("y", 200), size: 128, split: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cw := encode(t, []byte(tt.source), []byte(tt.target), tt.size)
			stream := bytes.Join(cw.chunks, nil)

			var out bytes.Buffer
			a := delta.NewApplier(strings.NewReader(tt.source), &out)
			dec := NewDecoder(a.Handle)
			for len(stream) > 0 {
				n := min(tt.split, len(stream))
				if _, err := dec.Write(stream[:n]); err != nil {
					t.Fatalf("decode: %v", err)
				}
				stream = stream[n:]
			}
			if err := dec.Close(); err != nil {
				t.Fatal(err)
			}
			if !a.Done() {
				t.Error("decoder did not send the final nil window")
			}
			if diff := cmp.Diff(tt.target, out.String()); diff != "" {
				t.Errorf("target mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncoder_HeaderOnNilWindow(t *testing.T) {
	cw := &chunkWriter{}
	if err := NewEncoder(cw).Handle(nil); err != nil {
		t.Fatal(err)
	}
	if len(cw.chunks) != 1 || string(cw.chunks[0]) != "SVN\x00" {
		t.Errorf("chunks = %q, want only the header", cw.chunks)
	}
}

func TestAppendWindow_Encoding(t *testing.T) {
	w := &delta.Window{
		SourceOffset: 200,
		SourceLen:    3,
		TargetLen:    5,
		Ops: []delta.Op{
			{Kind: delta.OpSource, Offset: 0, Length: 3},
			{Kind: delta.OpNew, Offset: 0, Length: 2},
		},
		NewData: []byte("hi"),
	}
	got, err := AppendWindow(nil, w)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x81, 0x48, // 200
		3, 5, 3, 2,
		0x03, 0x00, // copy 3 from source offset 0
		0x82, // 2 new bytes
		'h', 'i',
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("encoding mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoder_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "bad header", data: []byte("SVX\x00")},
		{name: "source copy beyond view", data: []byte{'S', 'V', 'N', 0, 0, 1, 2, 2, 0, 0x02, 0x00}},
		{name: "short target", data: []byte{'S', 'V', 'N', 0, 0, 0, 3, 1, 1, 0x81, 'a'}},
		{name: "unused new data", data: []byte{'S', 'V', 'N', 0, 0, 0, 1, 1, 2, 0x81, 'a', 'b'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(func(*delta.Window) error { return nil })
			_, err := dec.Write(tt.data)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("got %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestDecoder_TrailingBytes(t *testing.T) {
	dec := NewDecoder(func(*delta.Window) error { return nil })
	if _, err := dec.Write([]byte{'S', 'V', 'N', 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := dec.Close(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("got %v, want ErrCorrupt", err)
	}
}
