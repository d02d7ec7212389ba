// Package localtree scans the local sync root into a LocalFileNode tree.
package localtree

import (
	"fmt"
	"os"
	"strings"

	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"
	"vaultsync/internal/pipeline"
	"vaultsync/internal/tree"
	"vaultsync/internal/util"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type Options struct {
	// Hash computes md5 for files whose size or mtime differ from Prev.
	Hash bool
	// Prev is an earlier scan whose hashes are reused for unchanged files.
	Prev *model.LocalFileNode
}

// Build scans fs from its root. Every node starts as LocalCreated until it
// is classified against the remote meta.
func Build(fs afero.Fs, opts Options) (*model.LocalFileNode, error) {
	root := model.NewLocalDir("")
	root.SyncStatus = model.StatusLocalCreated

	if err := scan(fs, "", root, opts); err != nil {
		return nil, err
	}
	return root, nil
}

// Scan builds the node at p, including the whole subtree for directories.
func Scan(fs afero.Fs, p string, opts Options) (*model.LocalFileNode, error) {
	node, err := NodeFor(fs, p, nil, opts)
	if err != nil {
		return nil, err
	}
	if node.IsDir() {
		if err := scan(fs, p, node, opts); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func scan(fs afero.Fs, dir string, parent *model.LocalFileNode, opts Options) error {
	infos, err := afero.ReadDir(fs, dirName(dir))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	for _, info := range infos {
		if strings.HasSuffix(info.Name(), util.TempSuffix) {
			continue
		}
		p := pathutil.Join(dir, info.Name())

		node, err := NodeFor(fs, p, info, opts)
		if err != nil {
			logger.Log.Warn("skipping unreadable file", zap.String("path", p), zap.Error(err))
			continue
		}
		parent.Children = append(parent.Children, node)

		if node.IsDir() {
			if err := scan(fs, p, node, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

// NodeFor builds the node for the entry at p. info may be nil.
func NodeFor(fs afero.Fs, p string, info os.FileInfo, opts Options) (*model.LocalFileNode, error) {
	if info == nil {
		var err error
		if info, err = fs.Stat(p); err != nil {
			return nil, err
		}
	}

	if info.IsDir() {
		n := model.NewLocalDir(info.Name())
		n.MTime = info.ModTime()
		n.CTime = info.ModTime()
		n.SyncStatus = model.StatusLocalCreated
		return n, nil
	}

	n := &model.LocalFileNode{
		Name:       info.Name(),
		Type:       model.TypeFile,
		Size:       info.Size(),
		CTime:      info.ModTime(),
		MTime:      info.ModTime(),
		SyncStatus: model.StatusLocalCreated,
	}

	if prev := tree.Find(opts.Prev, p); prev != nil && !prev.IsDir() &&
		prev.Size == n.Size && prev.MTime.Equal(n.MTime) && prev.MD5 != "" {
		n.MD5 = prev.MD5
		n.LastSyncTime = prev.LastSyncTime
		n.RemoteEncrypt = prev.RemoteEncrypt
		return n, nil
	}

	if opts.Hash {
		sum, err := pipeline.Checksum(fs, p)
		if err != nil {
			return nil, err
		}
		n.MD5 = sum
	}
	return n, nil
}

func dirName(p string) string {
	if p == "" {
		return "."
	}
	return p
}
