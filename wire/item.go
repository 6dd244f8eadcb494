package wire

import (
	"fmt"
	"strconv"
)

// ItemKind is the type of a protocol item.
type ItemKind uint8

const (
	KindNumber ItemKind = iota
	KindString
	KindWord
	KindList
)

func (k ItemKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindWord:
		return "word"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("ItemKind(%d)", uint8(k))
	}
}

// Item is a single protocol value: a number, a length-prefixed string, a
// word, or a parenthesized list of items.
type Item struct {
	Kind ItemKind
	Num  uint64
	Data []byte
	List []Item
}

func Num(n uint64) Item {
	return Item{Kind: KindNumber, Num: n}
}

func Str(s string) Item {
	return Item{Kind: KindString, Data: []byte(s)}
}

func Bytes(b []byte) Item {
	return Item{Kind: KindString, Data: b}
}

func Word(w string) Item {
	return Item{Kind: KindWord, Data: []byte(w)}
}

func List(items ...Item) Item {
	return Item{Kind: KindList, List: items}
}

func Bool(b bool) Item {
	if b {
		return Word("true")
	}
	return Word("false")
}

// OptRev is an optional revision tuple, empty when rev is negative.
func OptRev(rev int64) Item {
	if rev < 0 {
		return List()
	}
	return List(Num(uint64(rev)))
}

// OptStr is an optional string tuple, empty when s is empty.
func OptStr(s string) Item {
	if s == "" {
		return List()
	}
	return List(Str(s))
}

// OptBytes is an optional string tuple, empty when b is nil. A non-nil empty
// b is present.
func OptBytes(b []byte) Item {
	if b == nil {
		return List()
	}
	return List(Bytes(b))
}

func (it Item) String() string {
	return string(appendItem(nil, it))
}

func appendItem(dst []byte, it Item) []byte {
	switch it.Kind {
	case KindNumber:
		dst = strconv.AppendUint(dst, it.Num, 10)
	case KindString:
		dst = strconv.AppendInt(dst, int64(len(it.Data)), 10)
		dst = append(dst, ':')
		dst = append(dst, it.Data...)
	case KindWord:
		dst = append(dst, it.Data...)
	case KindList:
		dst = append(dst, '(', ' ')
		for _, sub := range it.List {
			dst = appendItem(dst, sub)
		}
		dst = append(dst, ')')
	}
	return append(dst, ' ')
}
