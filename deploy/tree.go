package deploy

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/coredeploy/vertexd/cmn/xerrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// treeNode is the buntdb-serializable shape of one tree position: just
// enough to enforce name uniqueness and keep parent/child linkage
// transactionally consistent. It deliberately holds none of a Deployment's
// runtime state (VerticleHolders, Config, ...) — a holder's Verticle field
// is an interface with no stable wire encoding, and round-tripping it
// through JSON would hand callers a disconnected copy instead of the
// object launchInstances is actively populating.
type treeNode struct {
	Name       string
	ParentName string
	ChildNames []string
}

// Tree is the in-memory parent/child tree of live deployments keyed by
// unique name. Lookups are safe from any goroutine;
// mutations are expected to run on the deployment worker thread but are not
// themselves re-guarded here (VerticleRuntime enforces that).
//
// buntdb owns the transactional, concurrency-safe bookkeeping of names and
// parent/child linkage, while `live` holds the actual *Deployment pointer each
// caller mutates in place, so a Get after instances have been launched
// returns the same object a holder was appended to, not a stale snapshot.
type Tree struct {
	db   *buntdb.DB
	mu   sync.RWMutex
	live map[string]*Deployment
}

// NewTree opens an in-memory deployment tree.
func NewTree() (*Tree, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindRuntime, err, "opening deployment tree")
	}
	return &Tree{db: db, live: map[string]*Deployment{}}, nil
}

func (t *Tree) Close() error { return t.db.Close() }

// Insert records d under its name. If d.ParentName is set, d.Name is
// appended to the parent's child list; a missing parent is an error, a
// duplicate append is a warning-free no-op. d itself —
// not a copy — becomes the tree's record of the deployment, so later
// in-place mutation (e.g. appending VerticleHolders as instances launch)
// is visible to every subsequent Get.
func (t *Tree) Insert(d *Deployment) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(d.Name); err == nil {
			return xerrors.New(xerrors.KindValidation, "deployment name already present: "+d.Name)
		}
		if d.ParentName != "" {
			parentNode, err := getNode(tx, d.ParentName)
			if err != nil {
				return xerrors.New(xerrors.KindValidation, "parent deployment missing: "+d.ParentName)
			}
			parent, ok := t.live[d.ParentName]
			if !ok {
				return xerrors.New(xerrors.KindValidation, "parent deployment missing: "+d.ParentName)
			}
			if !containsString(parentNode.ChildNames, d.Name) {
				parentNode.ChildNames = append(parentNode.ChildNames, d.Name)
				parent.ChildNames = append(parent.ChildNames, d.Name)
				if err := setNode(tx, parentNode); err != nil {
					return err
				}
			}
		}
		if err := setNode(tx, &treeNode{Name: d.Name, ParentName: d.ParentName}); err != nil {
			return err
		}
		t.live[d.Name] = d
		return nil
	})
}

// Remove deletes name from the tree. If it had a parent that is still
// present, name is removed from the parent's child list.
func (t *Tree) Remove(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.db.Update(func(tx *buntdb.Tx) error {
		node, err := getNode(tx, name)
		if err != nil {
			return nil // already gone: remove is idempotent
		}
		if node.ParentName != "" {
			if parentNode, err := getNode(tx, node.ParentName); err == nil {
				parentNode.ChildNames = removeString(parentNode.ChildNames, name)
				if err := setNode(tx, parentNode); err != nil {
					return err
				}
			}
			if parent, ok := t.live[node.ParentName]; ok {
				parent.ChildNames = removeString(parent.ChildNames, name)
			}
		}
		delete(t.live, name)
		_, err = tx.Delete(name)
		if err != nil && err != buntdb.ErrNotFound {
			return xerrors.Wrap(xerrors.KindRuntime, err, "removing deployment "+name)
		}
		return nil
	})
}

// Get returns the tree's own *Deployment for name, or (nil, false). The
// returned pointer is the live object — its VerticleHolders reflect every
// instance launched so far, not just the state at Insert time.
func (t *Tree) Get(name string) (*Deployment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.live[name]
	return d, ok
}

// Names returns a snapshot of every deployment name currently present.
func (t *Tree) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.live))
	for name := range t.live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamesForModule returns every deployment name currently bound to
// moduleName, the matching the Redeployer uses to scope a reload to the
// right deployments.
func (t *Tree) NamesForModule(moduleName string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var names []string
	for name, d := range t.live {
		if d.ModuleName == moduleName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Print writes a roots-first indented tree to out.
func (t *Tree) Print(out io.Writer) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var roots []string
	for name, d := range t.live {
		if d.ParentName == "" {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)

	var walk func(name string, depth int)
	walk = func(name string, depth int) {
		d, ok := t.live[name]
		if !ok {
			return
		}
		fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", depth), name)
		children := append([]string(nil), d.ChildNames...)
		sort.Strings(children)
		for _, c := range children {
			walk(c, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
}

func getNode(tx *buntdb.Tx, name string) (*treeNode, error) {
	raw, err := tx.Get(name)
	if err != nil {
		return nil, err
	}
	var n treeNode
	if err := json.UnmarshalFromString(raw, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func setNode(tx *buntdb.Tx, n *treeNode) error {
	raw, err := json.MarshalToString(n)
	if err != nil {
		return xerrors.Wrap(xerrors.KindRuntime, err, "encoding deployment node "+n.Name)
	}
	_, _, err = tx.Set(n.Name, raw, nil)
	return err
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
