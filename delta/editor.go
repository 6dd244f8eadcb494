package delta

// Baton is an editor-specific handle for an open directory or file.
type Baton any

// WindowHandler consumes the windows of one text delta. A nil window ends
// the delta.
type WindowHandler func(w *Window) error

// Editor receives the calls of one tree edit.
//
// Optional revisions are passed as InvalidRevnum, optional strings as "",
// and a nil property value deletes the property. ApplyTextDelta may return
// a nil handler to decline the text delta.
type Editor interface {
	SetTargetRevision(rev Revnum) error
	OpenRoot(baseRev Revnum) (Baton, error)
	DeleteEntry(path string, rev Revnum, parent Baton) error
	AddDirectory(path string, parent Baton, copyPath string, copyRev Revnum) (Baton, error)
	OpenDirectory(path string, parent Baton, baseRev Revnum) (Baton, error)
	ChangeDirProp(dir Baton, name string, value []byte) error
	CloseDirectory(dir Baton) error
	AddFile(path string, parent Baton, copyPath string, copyRev Revnum) (Baton, error)
	OpenFile(path string, parent Baton, baseRev Revnum) (Baton, error)
	ApplyTextDelta(file Baton, baseChecksum string) (WindowHandler, error)
	ChangeFileProp(file Baton, name string, value []byte) error
	CloseFile(file Baton, textChecksum string) error
	CloseEdit() error
	AbortEdit() error
}

// NoopEditor accepts every call and does nothing. It declines text deltas.
type NoopEditor struct{}

var _ Editor = NoopEditor{}

func (NoopEditor) SetTargetRevision(Revnum) error                      { return nil }
func (NoopEditor) OpenRoot(Revnum) (Baton, error)                      { return nil, nil }
func (NoopEditor) DeleteEntry(string, Revnum, Baton) error             { return nil }
func (NoopEditor) OpenDirectory(string, Baton, Revnum) (Baton, error)  { return nil, nil }
func (NoopEditor) ChangeDirProp(Baton, string, []byte) error           { return nil }
func (NoopEditor) CloseDirectory(Baton) error                          { return nil }
func (NoopEditor) OpenFile(string, Baton, Revnum) (Baton, error)       { return nil, nil }
func (NoopEditor) ApplyTextDelta(Baton, string) (WindowHandler, error) { return nil, nil }
func (NoopEditor) ChangeFileProp(Baton, string, []byte) error          { return nil }
func (NoopEditor) CloseFile(Baton, string) error                       { return nil }
func (NoopEditor) CloseEdit() error                                    { return nil }
func (NoopEditor) AbortEdit() error                                    { return nil }

func (NoopEditor) AddDirectory(string, Baton, string, Revnum) (Baton, error) {
	return nil, nil
}

func (NoopEditor) AddFile(string, Baton, string, Revnum) (Baton, error) {
	return nil, nil
}
