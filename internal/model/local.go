package model

import "time"

type NodeType string

const (
	TypeFile      NodeType = "file"
	TypeDirectory NodeType = "directory"
)

// EmptyFileMD5 is the md5 of zero bytes, used for directory placeholders.
const EmptyFileMD5 = "d41d8cd98f00b204e9800998ecf8427e"

type LocalFileNode struct {
	Name          string           `json:"name"`
	Type          NodeType         `json:"type"`
	MD5           string           `json:"md5"`
	Size          int64            `json:"size,omitempty"`
	CTime         time.Time        `json:"ctime,omitzero"`
	MTime         time.Time        `json:"mtime,omitzero"`
	SyncStatus    SyncStatus       `json:"syncStatus"`
	LastSyncTime  time.Time        `json:"lastSyncTime,omitzero"`
	Children      []*LocalFileNode `json:"children,omitempty"`
	RemoteEncrypt bool             `json:"remoteEncrypt,omitempty"`
}

func NewLocalDir(name string) *LocalFileNode {
	now := time.Now()
	return &LocalFileNode{
		Name:       name,
		Type:       TypeDirectory,
		MD5:        EmptyFileMD5,
		CTime:      now,
		MTime:      now,
		SyncStatus: StatusUnknown,
		Children:   []*LocalFileNode{},
	}
}

func (n *LocalFileNode) NodeName() string { return n.Name }
func (n *LocalFileNode) SetNodeName(name string) { n.Name = name }
func (n *LocalFileNode) IsDir() bool { return n.Type == TypeDirectory }
func (n *LocalFileNode) NodeChildren() []*LocalFileNode { return n.Children }
func (n *LocalFileNode) SetNodeChildren(c []*LocalFileNode) { n.Children = c }
func (n *LocalFileNode) Placeholder(name string) *LocalFileNode { return NewLocalDir(name) }

func (n *LocalFileNode) Upsert(src *LocalFileNode) {
	if n == src {
		return
	}
	n.Children = src.Children
	n.SyncStatus = src.SyncStatus
	n.MD5 = src.MD5
	n.MTime = src.MTime
	n.Size = src.Size
	n.LastSyncTime = src.LastSyncTime
	n.RemoteEncrypt = src.RemoteEncrypt
}

// MTimeSeconds is the mtime truncated to whole seconds, 0 when unknown.
func (n *LocalFileNode) MTimeSeconds() int64 {
	if n.MTime.IsZero() {
		return 0
	}
	return n.MTime.UnixMilli() / 1000
}

func (n *LocalFileNode) Clone() *LocalFileNode {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Children != nil {
		cp.Children = make([]*LocalFileNode, len(n.Children))
		for i, c := range n.Children {
			cp.Children[i] = c.Clone()
		}
	}
	return &cp
}
