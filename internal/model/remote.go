package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vaultsync/internal/pathutil"
	"vaultsync/internal/tree"
)

const RemoteMetaName = "remoteRoot"

var ErrInvalidMeta = errors.New("invalid remote meta")

type LastSync struct {
	By   string `json:"by"`
	Time string `json:"time"`
}

func NewLastSync(by string, at time.Time) *LastSync {
	return &LastSync{By: by, Time: at.UTC().Format(time.RFC3339Nano)}
}

type RemoteFileNode struct {
	Name     string            `json:"name"`
	Size     int64             `json:"size"`
	Type     NodeType          `json:"type"`
	MTime    int64             `json:"mtime"`
	MD5      string            `json:"md5,omitempty"`
	Encrypt  bool              `json:"encrypt,omitempty"`
	Children []*RemoteFileNode `json:"children,omitempty"`
	LastSync *LastSync         `json:"lastSync,omitempty"`
}

func NewRemoteDir(name string) *RemoteFileNode {
	return &RemoteFileNode{
		Name:     name,
		Type:     TypeDirectory,
		MTime:    time.Now().UnixMilli(),
		MD5:      EmptyFileMD5,
		Children: []*RemoteFileNode{},
	}
}

func (n *RemoteFileNode) NodeName() string { return n.Name }
func (n *RemoteFileNode) SetNodeName(name string) { n.Name = name }
func (n *RemoteFileNode) IsDir() bool { return n.Type == TypeDirectory }
func (n *RemoteFileNode) NodeChildren() []*RemoteFileNode { return n.Children }
func (n *RemoteFileNode) SetNodeChildren(c []*RemoteFileNode) { n.Children = c }
func (n *RemoteFileNode) Placeholder(name string) *RemoteFileNode { return NewRemoteDir(name) }

func (n *RemoteFileNode) Upsert(src *RemoteFileNode) {
	if n == src {
		return
	}
	n.Children = src.Children
	n.LastSync = src.LastSync
	n.MD5 = src.MD5
	n.Encrypt = src.Encrypt
	n.MTime = src.MTime
	n.Size = src.Size
}

func (n *RemoteFileNode) MTimeSeconds() int64 {
	return n.MTime / 1000
}

func (n *RemoteFileNode) Clone() *RemoteFileNode {
	if n == nil {
		return nil
	}
	cp := *n
	if n.LastSync != nil {
		ls := *n.LastSync
		cp.LastSync = &ls
	}
	if n.Children != nil {
		cp.Children = make([]*RemoteFileNode, len(n.Children))
		for i, c := range n.Children {
			cp.Children[i] = c.Clone()
		}
	}
	return &cp
}

// RemoteMeta is the root of the persisted remote tree. Its children are the
// top level entries under the remote root.
type RemoteMeta struct {
	Name     string            `json:"name"`
	MD5      string            `json:"md5"`
	Latest   *LastSync         `json:"latest,omitempty"`
	Children []*RemoteFileNode `json:"children"`
}

func NewRemoteMeta() *RemoteMeta {
	return &RemoteMeta{
		Name:     RemoteMetaName,
		MD5:      EmptyFileMD5,
		Children: []*RemoteFileNode{},
	}
}

// ParseRemoteMeta decodes and validates a persisted meta document.
func ParseRemoteMeta(data []byte) (*RemoteMeta, error) {
	var raw struct {
		Name     string          `json:"name"`
		Children json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	if raw.Name != RemoteMetaName {
		return nil, fmt.Errorf("%w: unexpected name %q", ErrInvalidMeta, raw.Name)
	}
	if len(raw.Children) == 0 || raw.Children[0] != '[' {
		return nil, fmt.Errorf("%w: children is not an array", ErrInvalidMeta)
	}

	var meta RemoteMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	return &meta, nil
}

// root exposes the meta as a directory node sharing its child slice.
// Mutations go through with and are written back.
func (m *RemoteMeta) root() *RemoteFileNode {
	return &RemoteFileNode{Name: m.Name, Type: TypeDirectory, Children: m.Children}
}

func (m *RemoteMeta) with(fn func(root *RemoteFileNode)) {
	r := m.root()
	fn(r)
	m.Children = r.Children
}

// Find returns the node at path. The meta root itself is not a file node,
// so the empty path yields nil.
func (m *RemoteMeta) Find(path string) *RemoteFileNode {
	if m == nil || len(pathutil.Split(path)) == 0 {
		return nil
	}
	return tree.Find(m.root(), path)
}

func (m *RemoteMeta) Insert(path string, node *RemoteFileNode) bool {
	var ok bool
	m.with(func(r *RemoteFileNode) { ok = tree.Insert(r, path, node) })
	return ok
}

func (m *RemoteMeta) Remove(path string) *RemoteFileNode {
	var n *RemoteFileNode
	m.with(func(r *RemoteFileNode) { n = tree.Remove(r, path) })
	return n
}

func (m *RemoteMeta) Rename(from, to string) bool {
	var ok bool
	m.with(func(r *RemoteFileNode) { ok = tree.Rename(r, from, to) })
	return ok
}

// Walk visits every remote node depth-first.
func (m *RemoteMeta) Walk(fn func(path string, n *RemoteFileNode) bool) {
	tree.Walk(m.root(), "", fn)
}

// RemoveEmptyDirs drops every directory with no file beneath it and reports
// whether anything was removed.
func (m *RemoteMeta) RemoveEmptyDirs() bool {
	changed := false
	m.with(func(r *RemoteFileNode) { changed = pruneEmpty(r) })
	return changed
}

func pruneEmpty(n *RemoteFileNode) bool {
	changed := false
	kept := n.Children[:0:0]
	for _, c := range n.Children {
		if tree.Empty(c) {
			changed = true
			continue
		}
		if c.IsDir() && pruneEmpty(c) {
			changed = true
		}
		kept = append(kept, c)
	}
	if changed {
		n.Children = kept
	}
	return changed
}

// Contents lists the remote directory at path as local nodes carrying the
// status a missing local copy would have. Subdirectories are converted
// along with their contents.
func (m *RemoteMeta) Contents(path string) []*LocalFileNode {
	children := m.Children
	if path != "" {
		dir := m.Find(path)
		if dir == nil || !dir.IsDir() {
			return nil
		}
		children = dir.Children
	}
	return remoteAsLocal(children)
}

func remoteAsLocal(children []*RemoteFileNode) []*LocalFileNode {
	out := make([]*LocalFileNode, 0, len(children))
	for _, c := range children {
		status := StatusRemoteCreated
		if c.LastSync != nil {
			status = StatusRemoteModified
		}
		n := &LocalFileNode{
			Name:          c.Name,
			Type:          c.Type,
			MD5:           c.MD5,
			Size:          c.Size,
			MTime:         time.UnixMilli(c.MTime),
			SyncStatus:    status,
			RemoteEncrypt: c.Encrypt,
		}
		if c.IsDir() {
			n.Children = remoteAsLocal(c.Children)
		}
		out = append(out, n)
	}
	return out
}

func (m *RemoteMeta) Clone() *RemoteMeta {
	cp := *m
	if m.Latest != nil {
		l := *m.Latest
		cp.Latest = &l
	}
	cp.Children = make([]*RemoteFileNode, len(m.Children))
	for i, c := range m.Children {
		cp.Children[i] = c.Clone()
	}
	return &cp
}
