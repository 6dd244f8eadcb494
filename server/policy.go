package server

import (
	"errors"
	"fmt"
	"path"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/signadot/raedit/delta"
)

// ErrDenied is returned for a change the commit policy rejects.
var ErrDenied = errors.New("denied by policy")

// Policy decides which paths a commit may change.
type Policy struct {
	src  string
	prog *vm.Program
}

func policyEnv(action, p string, kind delta.NodeKind, author string) map[string]any {
	return map[string]any{
		"action": action,
		"path":   p,
		"kind":   kind.String(),
		"author": author,
	}
}

func policyOpts() []expr.Option {
	return []expr.Option{
		expr.Env(policyEnv("", "", delta.KindNone, "")),
		expr.AsBool(),
		expr.Function("glob", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("glob takes a pattern and a path")
			}
			pattern, ok1 := params[0].(string)
			name, ok2 := params[1].(string)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("glob takes strings")
			}
			return path.Match(pattern, name)
		}),
	}
}

// CompilePolicy compiles an allow expression.
func CompilePolicy(src string) (*Policy, error) {
	prog, err := expr.Compile(src, policyOpts()...)
	if err != nil {
		return nil, err
	}
	return &Policy{src: src, prog: prog}, nil
}

// Allow evaluates the policy for one change.
func (p *Policy) Allow(action, path string, kind delta.NodeKind, author string) (bool, error) {
	out, err := expr.Run(p.prog, policyEnv(action, path, kind, author))
	if err != nil {
		return false, fmt.Errorf("policy %q: %w", p.src, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Editor wraps a commit editor so that changes the policy rejects fail
// the command.
func (p *Policy) Editor(inner delta.Editor, author string) delta.Editor {
	return &policyEditor{Editor: inner, policy: p, author: author}
}

type policyEditor struct {
	delta.Editor
	policy *Policy
	author string
}

func (e *policyEditor) check(action, p string, kind delta.NodeKind) error {
	ok, err := e.policy.Allow(action, p, kind, e.author)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %q: %w", action, p, ErrDenied)
	}
	return nil
}

func (e *policyEditor) DeleteEntry(p string, rev delta.Revnum, parent delta.Baton) error {
	if err := e.check("delete", p, delta.KindUnknown); err != nil {
		return err
	}
	return e.Editor.DeleteEntry(p, rev, parent)
}

func (e *policyEditor) AddDirectory(p string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	if err := e.check("add", p, delta.KindDir); err != nil {
		return nil, err
	}
	return e.Editor.AddDirectory(p, parent, copyPath, copyRev)
}

func (e *policyEditor) AddFile(p string, parent delta.Baton, copyPath string, copyRev delta.Revnum) (delta.Baton, error) {
	if err := e.check("add", p, delta.KindFile); err != nil {
		return nil, err
	}
	return e.Editor.AddFile(p, parent, copyPath, copyRev)
}

func (e *policyEditor) OpenFile(p string, parent delta.Baton, baseRev delta.Revnum) (delta.Baton, error) {
	if err := e.check("modify", p, delta.KindFile); err != nil {
		return nil, err
	}
	return e.Editor.OpenFile(p, parent, baseRev)
}
