// Package wire implements the tuple protocol spoken between an edit producer
// and an edit consumer.
//
// Items are numbers, length-prefixed strings, words and parenthesized
// lists, each followed by whitespace. A command is the tuple
// ( name ( params ) ) and a response is ( success ( params ) ) or
// ( failure ( ( code message file line ) ... ) ).
//
// Writes are buffered and flushed before any read, so a producer can
// pipeline commands without waiting for replies.
package wire

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/signadot/raedit/debug"
)

const (
	// DefaultBlockPoll is how long a write in blocking mode waits before
	// the block handler is called.
	DefaultBlockPoll = 10 * time.Millisecond
	// DefaultPeekWait is how long InputWaiting waits for input when the
	// transport supports read deadlines.
	DefaultPeekWait = time.Millisecond
	// DefaultPeekInterval is how long InputWaiting trusts an empty peek.
	DefaultPeekInterval = 20 * time.Millisecond
)

// Options configures a Conn.
type Options struct {
	Log          *slog.Logger
	BlockPoll    time.Duration
	PeekWait     time.Duration
	PeekInterval time.Duration
}

// BlockHandler is called while a write cannot make progress. It typically
// reads from the connection to unblock the peer.
type BlockHandler func(c *Conn) error

// InputPender is implemented by transports that know whether unread input
// is pending without blocking.
type InputPender interface {
	InputPending() bool
}

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// Conn is a tuple connection. It is not safe for concurrent use.
type Conn struct {
	rwc       io.ReadWriteCloser
	r         *bufio.Reader
	w         *bufio.Writer
	log       *slog.Logger
	blockPoll time.Duration
	peekWait  time.Duration
	peekEvery time.Duration
	emptyAt   time.Time

	block   BlockHandler
	inBlock bool
}

// NewConn wraps rwc. opts may be nil.
func NewConn(rwc io.ReadWriteCloser, opts *Options) *Conn {
	if opts == nil {
		opts = &Options{}
	}
	c := &Conn{
		rwc:       rwc,
		r:         bufio.NewReader(rwc),
		log:       opts.Log,
		blockPoll: opts.BlockPoll,
		peekWait:  opts.PeekWait,
		peekEvery: opts.PeekInterval,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.blockPoll <= 0 {
		c.blockPoll = DefaultBlockPoll
	}
	if c.peekWait <= 0 {
		c.peekWait = DefaultPeekWait
	}
	if c.peekEvery <= 0 {
		c.peekEvery = DefaultPeekInterval
	}
	c.w = bufio.NewWriter(&blockWriter{c: c})
	return c
}

// Close closes the underlying transport without flushing.
func (c *Conn) Close() error {
	return c.rwc.Close()
}

// Flush writes out buffered output.
func (c *Conn) Flush() error {
	return c.w.Flush()
}

// SetBlockHandler enables write-blocking mode: writes that cannot complete
// within the block poll interval call fn and retry. A nil fn disables it.
// Without write deadline support on the transport, writes simply block.
func (c *Conn) SetBlockHandler(fn BlockHandler) {
	c.block = fn
}

// InputWaiting reports whether the peer has sent input that has not been
// read.
//
// Transports implementing InputPender are asked directly. Otherwise, on
// transports with read deadlines, InputWaiting peeks for up to PeekWait.
// An empty peek is trusted for PeekInterval, during which InputWaiting
// returns false at once, so a producer checking before every write pays
// the peek wait at most once per interval. Input arriving in that window
// is seen by a later call or by the next read.
func (c *Conn) InputWaiting() bool {
	if c.r.Buffered() > 0 {
		return true
	}
	if ip, ok := c.rwc.(InputPender); ok {
		return ip.InputPending()
	}
	rd, ok := c.rwc.(readDeadliner)
	if !ok {
		return false
	}
	if !c.emptyAt.IsZero() && time.Since(c.emptyAt) < c.peekEvery {
		return false
	}
	if err := rd.SetReadDeadline(time.Now().Add(c.peekWait)); err != nil {
		return false
	}
	_, err := c.r.Peek(1)
	rd.SetReadDeadline(time.Time{})
	if err == nil {
		c.emptyAt = time.Time{}
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		c.emptyAt = time.Now()
		return false
	}
	// a closed connection is reported as input so the next read surfaces it.
	return true
}

func (c *Conn) write(it Item) error {
	_, err := c.w.Write(appendItem(nil, it))
	return err
}

// WriteCmd writes ( name ( params ) ).
func (c *Conn) WriteCmd(name string, params ...Item) error {
	if debug.Wire() {
		c.log.Debug("wire write", "cmd", name, "params", List(params...).String())
	}
	return c.write(List(Word(name), List(params...)))
}

// WriteCmdResponse writes a success response.
func (c *Conn) WriteCmdResponse(params ...Item) error {
	if debug.Wire() {
		c.log.Debug("wire write", "response", List(params...).String())
	}
	return c.write(List(Word("success"), List(params...)))
}

// WriteCmdFailure writes a failure response describing err.
func (c *Conn) WriteCmdFailure(err error) error {
	if debug.Wire() {
		c.log.Debug("wire write", "failure", err.Error())
	}
	return c.write(List(Word("failure"), List(failureChain(err)...)))
}

// ReadItem reads one item, flushing pending output first.
func (c *Conn) ReadItem() (Item, error) {
	if !c.inBlock && c.w.Buffered() > 0 {
		if err := c.w.Flush(); err != nil {
			return Item{}, err
		}
	}
	return readItem(c.r)
}

// ReadTuple reads one item which must be a list.
func (c *Conn) ReadTuple() ([]Item, error) {
	it, err := c.ReadItem()
	if err != nil {
		return nil, err
	}
	if it.Kind != KindList {
		return nil, Malformed("expected a tuple, got a %s", it.Kind)
	}
	return it.List, nil
}

// ReadCmd reads ( name ( params ) ).
func (c *Conn) ReadCmd() (string, []Item, error) {
	items, err := c.ReadTuple()
	if err != nil {
		return "", nil, err
	}
	p := NewParser(items)
	name := p.Word()
	params := p.List()
	if err := p.Err(); err != nil {
		return "", nil, err
	}
	if debug.Wire() {
		c.log.Debug("wire read", "cmd", name, "params", List(params.items...).String())
	}
	return name, params.items, nil
}

// ReadCmdResponse reads a response. A failure is returned as a *Error
// chain.
func (c *Conn) ReadCmdResponse() ([]Item, error) {
	items, err := c.ReadTuple()
	if err != nil {
		return nil, err
	}
	p := NewParser(items)
	status := p.Word()
	params := p.List()
	if err := p.Err(); err != nil {
		return nil, err
	}
	if debug.Wire() {
		c.log.Debug("wire read", "status", status, "params", List(params.items...).String())
	}
	switch status {
	case "success":
		return params.items, nil
	case "failure":
		return nil, parseFailure(params.items)
	default:
		return nil, Malformed("unknown status %q in response", status)
	}
}

// blockWriter sits below the write buffer and implements write-blocking
// mode.
type blockWriter struct {
	c *Conn
}

func (b *blockWriter) Write(p []byte) (int, error) {
	c := b.c
	wd, ok := c.rwc.(writeDeadliner)
	if !ok || c.inBlock {
		return c.rwc.Write(p)
	}
	n := 0
	for n < len(p) {
		if c.block == nil {
			k, err := c.rwc.Write(p[n:])
			return n + k, err
		}
		if err := wd.SetWriteDeadline(time.Now().Add(c.blockPoll)); err != nil {
			return n, err
		}
		k, err := c.rwc.Write(p[n:])
		wd.SetWriteDeadline(time.Time{})
		n += k
		if err == nil {
			continue
		}
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			return n, err
		}
		c.inBlock = true
		err = c.block(c)
		c.inBlock = false
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
