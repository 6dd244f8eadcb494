// Package client runs updates and commits of a working copy against a
// raedit server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/editorp"
	"github.com/signadot/raedit/ra"
	"github.com/signadot/raedit/wc"
	"github.com/signadot/raedit/wire"
)

// DefaultPort is used for svn:// URLs without a port.
const DefaultPort = "3690"

// ErrNothingToCommit is returned by Commit for an unmodified working copy.
var ErrNothingToCommit = errors.New("nothing to commit")

// Options configures a Client.
type Options struct {
	Log       *slog.Logger
	BlockPoll time.Duration
}

// Client is one connection to a server. It is not safe for concurrent
// use.
type Client struct {
	conn *wire.Conn
	log  *slog.Logger
}

// Dial connects to the server of rawURL: svn:// speaks the tuple protocol
// over TCP, ws:// and wss:// carry it in websocket messages.
func Dial(ctx context.Context, rawURL string, opts *Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	var rwc io.ReadWriteCloser
	switch u.Scheme {
	case "svn":
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), DefaultPort)
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, err
		}
		rwc = conn
	case "ws", "wss":
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
		if err != nil {
			return nil, err
		}
		rwc = wire.NewWebSocketConn(ws)
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return New(rwc, opts), nil
}

// New returns a client speaking over rwc.
func New(rwc io.ReadWriteCloser, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		conn: wire.NewConn(rwc, &wire.Options{Log: log, BlockPoll: opts.BlockPoll}),
		log:  log,
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends a command and reads its response.
func (c *Client) call(name string, params ...wire.Item) ([]wire.Item, error) {
	if err := c.conn.WriteCmd(name, params...); err != nil {
		return nil, err
	}
	return c.conn.ReadCmdResponse()
}

// LatestRev returns the server's head revision.
func (c *Client) LatestRev() (delta.Revnum, error) {
	items, err := c.call("get-latest-rev")
	if err != nil {
		return delta.InvalidRevnum, err
	}
	p := wire.NewParser(items)
	rev := p.Rev()
	if err := p.Err(); err != nil {
		return delta.InvalidRevnum, err
	}
	return delta.Revnum(rev), nil
}

// Update brings target of w to rev, or the head when rev is invalid, and
// returns the revision reached.
func (c *Client) Update(w *wc.WC, target string, rev delta.Revnum, opts *wc.CrawlOptions) (delta.Revnum, error) {
	if _, err := c.call("update", wire.OptRev(int64(rev)), wire.OptStr(target)); err != nil {
		return delta.InvalidRevnum, err
	}
	ue := wc.NewUpdateEditor(w).Scope(target)
	r := ra.NewReporter(c.conn, ue, &ra.Options{Log: c.log})
	if err := wc.CrawlRevisions(w, target, r, opts); err != nil {
		return delta.InvalidRevnum, err
	}
	return ue.Target(), nil
}

// Commit sends the local modifications of w and marks them committed.
func (c *Client) Commit(w *wc.WC, msg, author string) (*wc.CommitInfo, []wc.Committable, error) {
	items, err := w.Harvest()
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 {
		return nil, nil, ErrNothingToCommit
	}
	if _, err := c.call("commit", wire.Str(msg), wire.OptStr(author)); err != nil {
		return nil, nil, err
	}
	ci := &wc.CommitInfo{}
	ed := editorp.NewEditor(c.conn, &editorp.EditorOptions{
		Log: c.log,
		OnClose: func() error {
			return c.readCommitInfo(ci)
		},
	})
	if _, err := wc.DriveCommit(w, items, ed); err != nil {
		return nil, nil, err
	}
	for _, it := range items {
		if err := w.PostCommit(it.Path, *ci); err != nil {
			return ci, items, fmt.Errorf("post-commit %q: %w", it.Path, err)
		}
	}
	return ci, items, nil
}

func (c *Client) readCommitInfo(ci *wc.CommitInfo) error {
	items, err := c.conn.ReadCmdResponse()
	if err != nil {
		return err
	}
	p := wire.NewParser(items)
	rev := p.Rev()
	date := p.Str()
	author := p.Str()
	if err := p.Err(); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return fmt.Errorf("bad commit date %q: %w", date, err)
	}
	ci.Rev = delta.Revnum(rev)
	ci.Date = t
	ci.Author = author
	return nil
}
