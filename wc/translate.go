package wc

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// Translation converts a file between its repository form and its working
// form: line endings per svn:eol-style, keywords per svn:keywords.
type Translation struct {
	repoEOL    string
	workingEOL string
	keywords   map[string]string
}

var keywordPattern = regexp.MustCompile(`\$([A-Za-z]+)(?:: [^$\r\n]* )?\$`)

// keyword aliases, grouped by the value they expand to.
var keywordGroups = [][]string{
	{"LastChangedRevision", "Rev", "Revision"},
	{"LastChangedDate", "Date"},
	{"LastChangedBy", "Author"},
	{"HeadURL", "URL"},
	{"Id"},
}

func nativeEOL() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// eolStyle returns the repository and working line endings for style.
func eolStyle(style string) (repo, working string, err error) {
	switch strings.TrimSpace(style) {
	case "":
		return "", "", nil
	case "native":
		return "\n", nativeEOL(), nil
	case "LF":
		return "\n", "\n", nil
	case "CRLF":
		return "\r\n", "\r\n", nil
	case "CR":
		return "\r", "\r", nil
	}
	return "", "", fmt.Errorf("unrecognized line ending style %q", style)
}

// Translation returns the translation of the file rel, built from its
// working properties and entry.
func (w *WC) Translation(rel string) (*Translation, error) {
	props, err := w.Props(rel)
	if err != nil {
		return nil, err
	}
	t := &Translation{}
	t.repoEOL, t.workingEOL, err = eolStyle(string(props[PropEOLStyle]))
	if err != nil {
		return nil, fmt.Errorf("%q: %w", rel, err)
	}
	if kw, ok := props[PropKeywords]; ok {
		e, err := w.Entry(rel)
		if err != nil {
			return nil, err
		}
		t.keywords = keywordValues(string(kw), path.Base(cleanRel(rel)), e)
	}
	return t, nil
}

func keywordValues(list, name string, e *Entry) map[string]string {
	rev := ""
	if e.CommittedRev.Valid() {
		rev = e.CommittedRev.String()
	}
	date, short := "", ""
	if !e.CommittedDate.IsZero() {
		d := e.CommittedDate.UTC()
		date = d.Format("2006-01-02 15:04:05 -0700 (Mon, 02 Jan 2006)")
		short = d.Format("2006-01-02 15:04:05Z")
	}
	values := []string{
		rev,
		date,
		e.LastAuthor,
		e.URL,
		strings.TrimSpace(strings.Join([]string{name, rev, short, e.LastAuthor}, " ")),
	}
	res := map[string]string{}
	for _, want := range strings.Fields(list) {
		for i, group := range keywordGroups {
			for _, alias := range group {
				if !strings.EqualFold(alias, want) {
					continue
				}
				for _, a := range group {
					res[a] = values[i]
				}
			}
		}
	}
	return res
}

// Identity reports whether t leaves text unchanged.
func (t *Translation) Identity() bool {
	return t.repoEOL == "" && len(t.keywords) == 0
}

// Expand converts repository text to working text.
func (t *Translation) Expand(data []byte) []byte {
	if len(t.keywords) != 0 {
		data = keywordPattern.ReplaceAllFunc(data, func(m []byte) []byte {
			name := string(keywordPattern.FindSubmatch(m)[1])
			v, ok := t.keywords[name]
			if !ok {
				return m
			}
			if v == "" {
				return []byte("$" + name + "$")
			}
			return []byte("$" + name + ": " + v + " $")
		})
	}
	return convertEOL(data, t.workingEOL)
}

// Contract converts working text to repository text.
func (t *Translation) Contract(data []byte) []byte {
	data = convertEOL(data, t.repoEOL)
	if len(t.keywords) == 0 {
		return data
	}
	return keywordPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(keywordPattern.FindSubmatch(m)[1])
		if _, ok := t.keywords[name]; !ok {
			return m
		}
		return []byte("$" + name + "$")
	})
}

// convertEOL rewrites every line ending in data to eol. An empty eol leaves
// data alone.
func convertEOL(data []byte, eol string) []byte {
	if eol == "" || !bytes.ContainsAny(data, "\r\n") {
		return data
	}
	var buf bytes.Buffer
	buf.Grow(len(data))
	for i := 0; i < len(data); i++ {
		switch c := data[i]; c {
		case '\r':
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			buf.WriteString(eol)
		case '\n':
			buf.WriteString(eol)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// DetranslatedText reads the working file rel in repository form.
func (w *WC) DetranslatedText(rel string) ([]byte, error) {
	t, err := w.Translation(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(w.Abs(rel))
	if err != nil {
		return nil, err
	}
	return t.Contract(data), nil
}

// writeWorking expands text into the working file rel and returns the
// file's new modification time.
func (w *WC) writeWorking(rel string, text []byte) (time.Time, error) {
	t, err := w.Translation(rel)
	if err != nil {
		return time.Time{}, err
	}
	dst := w.Abs(rel)
	if err := w.writeAtomic(dst, t.Expand(text)); err != nil {
		return time.Time{}, fmt.Errorf("failed to write %q: %w", rel, err)
	}
	return fileTime(dst)
}

func fileTime(p string) (time.Time, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
