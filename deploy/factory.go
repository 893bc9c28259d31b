package deploy

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/coredeploy/vertexd/cmn/xerrors"
)

// ExecutionContext is the handle a Verticle receives instead of reaching
// for a process-wide singleton.
type ExecutionContext struct {
	Deployment *Deployment
	Instance   *VerticleHolder
	CloseHooks []func(context.Context) error
}

// RegisterCloseHook appends a hook run, in registration order, before the
// instance's holder is removed during undeploy.
func (c *ExecutionContext) RegisterCloseHook(fn func(context.Context) error) {
	c.CloseHooks = append(c.CloseHooks, fn)
}

// Verticle is a single instance of deployable user code.
type Verticle interface {
	Start(ctx context.Context, ec *ExecutionContext) error
	Stop(ctx context.Context, ec *ExecutionContext) error
}

// Factory produces a Verticle from a module's main entry point.
type Factory interface {
	CreateVerticle(main string, config map[string]any) (Verticle, error)
}

// FactoryMap is the "langs" property map: extension -> Factory, with an
// optional "default" fallback consulted when the extension is unmapped.
type FactoryMap struct {
	byExt map[string]Factory
}

func NewFactoryMap() *FactoryMap {
	return &FactoryMap{byExt: make(map[string]Factory)}
}

func (m *FactoryMap) Register(ext string, f Factory) {
	m.byExt[ext] = f
}

// Resolve selects a factory by main's extension, falling back to the
// "default" key; returns a Configuration-kind error if neither is present.
func (m *FactoryMap) Resolve(main string) (Factory, error) {
	ext := strings.TrimPrefix(filepath.Ext(main), ".")
	if f, ok := m.byExt[ext]; ok {
		return f, nil
	}
	if f, ok := m.byExt["default"]; ok {
		return f, nil
	}
	return nil, xerrors.New(xerrors.KindConfiguration, "no factory registered for extension: "+ext)
}

// goFactory is a factory whose main names a registered constructor
// function rather than a source file to compile, since a Go module's code
// is already part of the binary.
type goFactory struct {
	constructors map[string]func(config map[string]any) (Verticle, error)
}

// NewGoFactory builds a constructor-table factory; it is consulted only for
// the extension (or "default" key) a caller registers it under in a
// FactoryMap. constructors maps a main entry name (e.g. "worker.go") to a
// function building the Verticle it names.
func NewGoFactory(constructors map[string]func(config map[string]any) (Verticle, error)) Factory {
	return &goFactory{constructors: constructors}
}

func (f *goFactory) CreateVerticle(main string, config map[string]any) (Verticle, error) {
	ctor, ok := f.constructors[main]
	if !ok {
		return nil, xerrors.New(xerrors.KindConfiguration, "no constructor registered for main: "+main)
	}
	return ctor(config)
}
