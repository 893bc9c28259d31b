package main

import (
	"plugin"

	"github.com/coredeploy/vertexd/cmn/xerrors"
	"github.com/coredeploy/vertexd/deploy"
)

// pluginFactory is the CLI's stand-in for a per-verticle dynamic class
// loader: a module's main entry point names a Go plugin (.so) exporting a
// NewVerticle constructor,
// loaded and instantiated on demand. Go has no ecosystem library for
// dynamic code loading — plugin is the only avenue the standard library (or
// the ecosystem) offers, so this is one of the few genuinely stdlib-only
// pieces of the tree (see DESIGN.md).
type pluginFactory struct{}

// NewPluginFactory builds the factory registered as FactoryMap's "default",
// so any mod.json whose main isn't otherwise claimed by a registered
// extension falls back to loading it as a Go plugin.
func NewPluginFactory() deploy.Factory { return pluginFactory{} }

func (pluginFactory) CreateVerticle(main string, config map[string]any) (deploy.Verticle, error) {
	p, err := plugin.Open(main)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, err, "loading verticle plugin: "+main)
	}
	sym, err := p.Lookup("NewVerticle")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, err, "plugin "+main+" has no NewVerticle symbol")
	}
	ctor, ok := sym.(func(map[string]any) (deploy.Verticle, error))
	if !ok {
		return nil, xerrors.New(xerrors.KindConfiguration, "plugin "+main+": NewVerticle has the wrong signature")
	}
	return ctor(config)
}
