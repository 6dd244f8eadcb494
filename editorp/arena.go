package editorp

// arena scopes resources belonging to a part of an edit. Clearing an arena
// destroys its children and runs its cleanups, most recent first. The
// generation counts clears so tests and logs can tell reuse apart.
type arena struct {
	parent    *arena
	children  map[*arena]struct{}
	cleanups  []func()
	gen       uint64
	destroyed bool
}

func newArena(parent *arena) *arena {
	a := &arena{parent: parent}
	if parent != nil {
		if parent.children == nil {
			parent.children = make(map[*arena]struct{})
		}
		parent.children[a] = struct{}{}
	}
	return a
}

func (a *arena) onCleanup(fn func()) {
	a.cleanups = append(a.cleanups, fn)
}

func (a *arena) clear() {
	for c := range a.children {
		c.destroyInner()
	}
	a.children = nil
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
	a.gen++
}

func (a *arena) destroyInner() {
	if a.destroyed {
		return
	}
	a.clear()
	a.destroyed = true
}

func (a *arena) destroy() {
	if a.destroyed {
		return
	}
	if a.parent != nil && a.parent.children != nil {
		delete(a.parent.children, a)
	}
	a.destroyInner()
}
