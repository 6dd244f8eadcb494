package delta

import "strconv"

// Revnum is a repository revision number.
type Revnum int64

// InvalidRevnum marks an absent or unknown revision.
const InvalidRevnum Revnum = -1

// Valid reports whether r names a real revision.
func (r Revnum) Valid() bool {
	return r >= 0
}

func (r Revnum) String() string {
	if !r.Valid() {
		return "(invalid)"
	}
	return strconv.FormatInt(int64(r), 10)
}

// NodeKind is the kind of a versioned or on-disk node.
type NodeKind uint8

const (
	KindNone NodeKind = iota
	KindFile
	KindDir
	KindUnknown
)

func (k NodeKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "unknown"
	}
}
