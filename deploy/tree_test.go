package deploy_test

import (
	"strings"
	"testing"

	"github.com/coredeploy/vertexd/deploy"
)

func newTestTree(t *testing.T) *deploy.Tree {
	t.Helper()
	tree, err := deploy.NewTree()
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	t.Cleanup(func() { _ = tree.Close() })
	return tree
}

func TestTreeInsertAndGet(t *testing.T) {
	tree := newTestTree(t)
	d := &deploy.Deployment{Name: "root"}
	if err := tree.Insert(d); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, ok := tree.Get("root")
	if !ok || got.Name != "root" {
		t.Fatalf("Get returned %+v, %v", got, ok)
	}
}

func TestTreeParentChildLinkage(t *testing.T) {
	tree := newTestTree(t)
	if err := tree.Insert(&deploy.Deployment{Name: "parent"}); err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	if err := tree.Insert(&deploy.Deployment{Name: "child", ParentName: "parent"}); err != nil {
		t.Fatalf("insert child: %v", err)
	}
	parent, _ := tree.Get("parent")
	if len(parent.ChildNames) != 1 || parent.ChildNames[0] != "child" {
		t.Fatalf("parent child names = %v", parent.ChildNames)
	}
}

func TestTreeInsertMissingParentFails(t *testing.T) {
	tree := newTestTree(t)
	err := tree.Insert(&deploy.Deployment{Name: "orphan", ParentName: "nope"})
	if err == nil {
		t.Fatal("expected error for missing parent")
	}
}

func TestTreeRemoveDetachesFromParent(t *testing.T) {
	tree := newTestTree(t)
	_ = tree.Insert(&deploy.Deployment{Name: "parent"})
	_ = tree.Insert(&deploy.Deployment{Name: "child", ParentName: "parent"})

	if err := tree.Remove("child"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := tree.Get("child"); ok {
		t.Fatal("child still present after Remove")
	}
	parent, _ := tree.Get("parent")
	if len(parent.ChildNames) != 0 {
		t.Fatalf("parent still lists child: %v", parent.ChildNames)
	}
}

func TestTreeRemoveIsIdempotent(t *testing.T) {
	tree := newTestTree(t)
	if err := tree.Remove("never-existed"); err != nil {
		t.Fatalf("Remove on absent name should be a no-op, got %v", err)
	}
}

func TestTreePrintIsRootsFirstIndented(t *testing.T) {
	tree := newTestTree(t)
	_ = tree.Insert(&deploy.Deployment{Name: "root"})
	_ = tree.Insert(&deploy.Deployment{Name: "mid", ParentName: "root"})
	_ = tree.Insert(&deploy.Deployment{Name: "leaf", ParentName: "mid"})

	var sb strings.Builder
	tree.Print(&sb)
	out := sb.String()

	rootIdx := strings.Index(out, "root")
	midIdx := strings.Index(out, "mid")
	leafIdx := strings.Index(out, "leaf")
	if !(rootIdx < midIdx && midIdx < leafIdx) {
		t.Fatalf("expected root before mid before leaf, got:\n%s", out)
	}
}

func TestTreeNames(t *testing.T) {
	tree := newTestTree(t)
	_ = tree.Insert(&deploy.Deployment{Name: "b"})
	_ = tree.Insert(&deploy.Deployment{Name: "a"})
	names := tree.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("Names() = %v", names)
	}
}
