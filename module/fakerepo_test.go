package module_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/coredeploy/vertexd/module"
)

// fakeRepo simulates a remote module registry backed by a second on-disk
// tree ("source root"): Install copies <sourceRoot>/<name> into
// <modRoot>/<name>, exercising the same Repository contract a real HTTP/S3
// backend would.
type fakeRepo struct {
	sourceRoot string
	failNames  map[string]bool
}

func newFakeRepo(sourceRoot string) *fakeRepo {
	return &fakeRepo{sourceRoot: sourceRoot, failNames: map[string]bool{}}
}

func (f *fakeRepo) Name() string { return "fake://" + f.sourceRoot }

func (f *fakeRepo) Install(_ context.Context, name, modRoot string) error {
	if f.failNames[name] {
		return os.ErrNotExist
	}
	src := filepath.Join(f.sourceRoot, name)
	if _, err := os.Stat(src); err != nil {
		return err
	}
	dst := filepath.Join(modRoot, name)
	return copyDir(src, dst)
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func writeManifest(root, name, manifestJSON string) {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mod.json"), []byte(manifestJSON), 0o644); err != nil {
		panic(err)
	}
}

func writeLib(root, name, jarName string, content []byte) {
	dir := filepath.Join(root, name, "lib")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(filepath.Join(dir, jarName), content, 0o644); err != nil {
		panic(err)
	}
}

var _ module.Repository = (*fakeRepo)(nil)
