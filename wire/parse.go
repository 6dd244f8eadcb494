package wire

// Parser reads typed values from the items of a tuple. The first mismatch
// is remembered and reported by Err; later calls return zero values.
// Items past the ones read are ignored.
type Parser struct {
	items []Item
	i     int
	err   error
}

func NewParser(items []Item) *Parser {
	return &Parser{items: items}
}

// Err returns the first error encountered.
func (p *Parser) Err() error {
	return p.err
}

// Len returns the number of unread items.
func (p *Parser) Len() int {
	if p.i >= len(p.items) {
		return 0
	}
	return len(p.items) - p.i
}

func (p *Parser) next(kind ItemKind) (Item, bool) {
	if p.err != nil {
		return Item{}, false
	}
	if p.i >= len(p.items) {
		p.err = Malformed("tuple has %d items, wanted more", len(p.items))
		return Item{}, false
	}
	it := p.items[p.i]
	if it.Kind != kind {
		p.err = Malformed("item %d is a %s, wanted a %s", p.i, it.Kind, kind)
		return Item{}, false
	}
	p.i++
	return it, true
}

func (p *Parser) Num() uint64 {
	it, _ := p.next(KindNumber)
	return it.Num
}

// Rev reads a required revision number.
func (p *Parser) Rev() int64 {
	it, ok := p.next(KindNumber)
	if !ok {
		return -1
	}
	return int64(it.Num)
}

func (p *Parser) Str() string {
	it, _ := p.next(KindString)
	return string(it.Data)
}

func (p *Parser) Bytes() []byte {
	it, ok := p.next(KindString)
	if !ok {
		return nil
	}
	if it.Data == nil {
		return []byte{}
	}
	return it.Data
}

func (p *Parser) Word() string {
	it, _ := p.next(KindWord)
	return string(it.Data)
}

func (p *Parser) Bool() bool {
	switch w := p.Word(); w {
	case "true":
		return true
	case "false", "":
		return false
	default:
		p.err = Malformed("%q is not a boolean", w)
		return false
	}
}

// List returns a parser over the next item, which must be a list.
func (p *Parser) List() *Parser {
	it, _ := p.next(KindList)
	return &Parser{items: it.List, err: p.err}
}

// OptRev reads an optional revision tuple; -1 when absent.
func (p *Parser) OptRev() int64 {
	sub := p.List()
	if sub.err != nil || sub.Len() == 0 {
		return -1
	}
	rev := sub.Rev()
	p.err = sub.err
	return rev
}

// OptStr reads an optional string tuple.
func (p *Parser) OptStr() (string, bool) {
	sub := p.List()
	if sub.err != nil || sub.Len() == 0 {
		return "", false
	}
	s := sub.Str()
	p.err = sub.err
	return s, p.err == nil
}

// OptBytes reads an optional string tuple; nil when absent.
func (p *Parser) OptBytes() []byte {
	sub := p.List()
	if sub.err != nil || sub.Len() == 0 {
		return nil
	}
	b := sub.Bytes()
	p.err = sub.err
	return b
}
