package wire

import (
	"bufio"
	"errors"
	"io"
)

const (
	// MaxDepth bounds list nesting in a single item.
	MaxDepth = 64
	// MaxStringLen bounds the length of a single string item.
	MaxStringLen = 64 << 20
	maxNumber    = 1<<63 - 1
)

func isSpace(c byte) bool {
	return c == ' ' || c == '\n'
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-'
}

// readByte maps end of input to ErrConnectionClosed.
func readByte(r *bufio.Reader) (byte, error) {
	c, err := r.ReadByte()
	if err != nil {
		return 0, closedErr(err)
	}
	return c, nil
}

func closedErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return NewError(CodeConnectionClosed, "connection closed unexpectedly")
	}
	return err
}

func skipSpace(r *bufio.Reader) (byte, error) {
	for {
		c, err := readByte(r)
		if err != nil {
			return 0, err
		}
		if !isSpace(c) {
			return c, nil
		}
	}
}

func expectSpace(r *bufio.Reader) error {
	c, err := readByte(r)
	if err != nil {
		return err
	}
	if !isSpace(c) {
		return Malformed("missing whitespace after item")
	}
	return nil
}

// readItem reads one item whose first non-space byte has not been consumed.
func readItem(r *bufio.Reader) (Item, error) {
	c, err := skipSpace(r)
	if err != nil {
		return Item{}, err
	}
	return readItemFrom(r, c, 0)
}

func readItemFrom(r *bufio.Reader, c byte, depth int) (Item, error) {
	switch {
	case c >= '0' && c <= '9':
		n := uint64(c - '0')
		for {
			c, err := readByte(r)
			if err != nil {
				return Item{}, err
			}
			if c >= '0' && c <= '9' {
				if n > (maxNumber-9)/10 {
					return Item{}, Malformed("number too large")
				}
				n = n*10 + uint64(c-'0')
				continue
			}
			if c == ':' {
				return readString(r, n)
			}
			if !isSpace(c) {
				return Item{}, Malformed("bad character %q in number", c)
			}
			return Num(n), nil
		}
	case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		word := []byte{c}
		for {
			c, err := readByte(r)
			if err != nil {
				return Item{}, err
			}
			if isWordByte(c) {
				word = append(word, c)
				continue
			}
			if !isSpace(c) {
				return Item{}, Malformed("bad character %q in word", c)
			}
			return Item{Kind: KindWord, Data: word}, nil
		}
	case c == '(':
		if depth >= MaxDepth {
			return Item{}, Malformed("items nested too deeply")
		}
		if err := expectSpace(r); err != nil {
			return Item{}, err
		}
		list := []Item{}
		for {
			c, err := skipSpace(r)
			if err != nil {
				return Item{}, err
			}
			if c == ')' {
				if err := expectSpace(r); err != nil {
					return Item{}, err
				}
				return List(list...), nil
			}
			it, err := readItemFrom(r, c, depth+1)
			if err != nil {
				return Item{}, err
			}
			list = append(list, it)
		}
	default:
		return Item{}, Malformed("unexpected character %q", c)
	}
}

func readString(r *bufio.Reader, n uint64) (Item, error) {
	if n > MaxStringLen {
		return Item{}, Malformed("string of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Item{}, closedErr(err)
	}
	if err := expectSpace(r); err != nil {
		return Item{}, err
	}
	return Bytes(data), nil
}
