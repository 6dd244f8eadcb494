// Package delta defines the tree editor interface driven by every edit in
// raedit, together with the text delta windows carried by apply-textdelta.
//
// An edit is a sequence of editor calls starting at OpenRoot and ending in
// CloseEdit or AbortEdit. Directory and file batons returned by the Add/Open
// calls are opaque to callers and only meaningful to the editor that
// produced them.
//
// # Windows
//
// A text delta is a stream of windows terminated by a nil window. Each
// window reconstructs a contiguous range of the target text from a view of
// the source text, earlier target bytes, and literal new data:
//
//	h, err := ed.ApplyTextDelta(fileBaton, "")
//	if err != nil {
//	    return err
//	}
//	if h != nil {
//	    err = delta.SendWindows(base, working, h)
//	}
//
// # Related Packages
//
//   - github.com/signadot/raedit/svndiff - compact encoding of windows
//   - github.com/signadot/raedit/editorp - editors over a wire connection
package delta
