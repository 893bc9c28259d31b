package main

import (
	"github.com/coredeploy/vertexd/deploy"
	"github.com/coredeploy/vertexd/redeploy"
	"github.com/coredeploy/vertexd/xlog"
)

// watchEngine is the slice of redeploy.Watcher/redeploy.Poll the launcher
// needs: both start tracking a module's directory tree and both stop.
type watchEngine interface {
	RegisterModule(moduleName, dir string) error
	UnregisterModule(moduleName string)
	Close() error
}

// pollEngine adapts redeploy.Poll, whose RegisterModule has no error
// return, to watchEngine.
type pollEngine struct{ *redeploy.Poll }

func (p pollEngine) RegisterModule(moduleName, dir string) error {
	p.Poll.RegisterModule(moduleName, dir)
	return nil
}

// autoRedeployer composes the Reloader with whichever watch engine the launcher picked, so a
// Runtime's single Redeployer field drives both "remember this module is
// auto-redeploy" bookkeeping and "actually watch this directory"
// side-effects.
type autoRedeployer struct {
	reloader *redeploy.Reloader
	engine   watchEngine
}

func newAutoRedeployer(reloader *redeploy.Reloader, engine watchEngine) *autoRedeployer {
	return &autoRedeployer{reloader: reloader, engine: engine}
}

func (a *autoRedeployer) ModuleDeployed(moduleName, moduleDir string) {
	a.reloader.ModuleDeployed(moduleName, moduleDir)
	if err := a.engine.RegisterModule(moduleName, moduleDir); err != nil {
		xlog.Warningf("redeploy: watching %s: %v", moduleName, err)
	}
}

func (a *autoRedeployer) ModuleUndeployed(moduleName string) {
	a.engine.UnregisterModule(moduleName)
	a.reloader.ModuleUndeployed(moduleName)
}

var _ deploy.Redeployer = (*autoRedeployer)(nil)
