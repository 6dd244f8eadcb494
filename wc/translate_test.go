package wc

import (
	"strings"
	"testing"
	"time"

	"github.com/signadot/raedit/delta"
)

func TestConvertEOL(t *testing.T) {
	tests := []struct {
		in, eol, want string
	}{
		{"a\nb\r\nc\rd", "\n", "a\nb\nc\nd"},
		{"a\nb\r\nc\rd", "\r\n", "a\r\nb\r\nc\r\nd"},
		{"a\n\n", "\r", "a\r\r"},
		{"\r\n\r\n", "\n", "\n\n"},
		{"a\r\n", "", "a\r\n"},
		{"no newline", "\r\n", "no newline"},
	}
	for _, tt := range tests {
		if got := string(convertEOL([]byte(tt.in), tt.eol)); got != tt.want {
			t.Errorf("convertEOL(%q, %q) = %q, want %q", tt.in, tt.eol, got, tt.want)
		}
	}
}

func TestTranslation(t *testing.T) {
	w := newWC(t, 12)
	addFile(t, w, "a.txt", 12, "")
	e, err := w.Entry("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	e.LastAuthor = "jrandom"
	e.CommittedDate = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := w.SetEntry("a.txt", e); err != nil {
		t.Fatal(err)
	}
	if err := w.SetProps("a.txt", Props{
		PropEOLStyle: []byte("CRLF"),
		PropKeywords: []byte("Rev Author Id"),
	}); err != nil {
		t.Fatal(err)
	}

	tr, err := w.Translation("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Identity() {
		t.Fatal("translation is the identity")
	}
	repo := "$Rev$ $Revision$ $Author$\n$Id$\n$Date$ $Unknown$\n"
	working := "$Rev: 12 $ $Revision: 12 $ $Author: jrandom $\r\n" +
		"$Id: a.txt 12 2024-03-01 10:00:00Z jrandom $\r\n" +
		"$Date$ $Unknown$\r\n"
	if got := string(tr.Expand([]byte(repo))); got != working {
		t.Errorf("Expand = %q, want %q", got, working)
	}
	// a fixed style is also the repository form.
	if got, want := string(tr.Contract([]byte(working))), strings.ReplaceAll(repo, "\n", "\r\n"); got != want {
		t.Errorf("Contract = %q, want %q", got, want)
	}
	stale := "$Rev: 3 $\n"
	if got := string(tr.Contract([]byte(stale))); got != "$Rev$\r\n" {
		t.Errorf("Contract(%q) = %q", stale, got)
	}

	if err := w.SetProps("a.txt", Props{PropEOLStyle: []byte("bogus")}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Translation("a.txt"); err == nil {
		t.Error("unknown eol style accepted")
	}
}

func TestDetranslatedText(t *testing.T) {
	w := newWC(t, 1)
	addFile(t, w, "f", 1, "one\r\ntwo\r\n")
	if err := w.SetProps("f", Props{PropEOLStyle: []byte("native")}); err != nil {
		t.Fatal(err)
	}
	got, err := w.DetranslatedText("f")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one\ntwo\n" {
		t.Errorf("got %q", got)
	}
	if _, err := w.writeWorking("f", []byte("x\ny\n")); err != nil {
		t.Fatal(err)
	}
	if got, want := readWorking(t, w, "f"), "x"+nativeEOL()+"y"+nativeEOL(); got != want {
		t.Errorf("working text %q, want %q", got, want)
	}
	kind, err := w.DiskKind("f")
	if err != nil || kind != delta.KindFile {
		t.Errorf("DiskKind = %v, %v", kind, err)
	}
}
