// Package metastore loads and saves the RemoteMeta document kept on the
// backend at .meta/data.json under the sync root.
package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	Dir  = ".meta"
	File = "data.json"
)

var ErrInvalid = model.ErrInvalidMeta

type Store struct {
	backend cloud.Backend
	path    string
	group   singleflight.Group
}

func New(backend cloud.Backend, remoteRoot string) *Store {
	return &Store{
		backend: backend,
		path:    pathutil.Join(remoteRoot, Dir, File),
	}
}

func (s *Store) Path() string {
	return s.path
}

type loaded struct {
	meta  *model.RemoteMeta
	found bool
}

// Load fetches the persisted meta. A missing or invalid document yields a
// fresh empty meta with found false. Concurrent callers share one fetch.
func (s *Store) Load(ctx context.Context) (*model.RemoteMeta, bool, error) {
	v, err, _ := s.group.Do(s.path, func() (any, error) {
		raw, err := s.backend.DownloadFileAsString(ctx, s.path)
		if errors.Is(err, cloud.ErrNotFound) {
			return loaded{meta: model.NewRemoteMeta()}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load remote meta: %w", err)
		}

		meta, err := model.ParseRemoteMeta([]byte(raw))
		if err != nil {
			logger.Log.Warn("remote meta is invalid, starting fresh",
				zap.String("path", s.path),
				zap.Error(err))
			return loaded{meta: model.NewRemoteMeta()}, nil
		}
		return loaded{meta: meta, found: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	l := v.(loaded)
	// Callers own the result; shared fetches must not alias.
	return l.meta.Clone(), l.found, nil
}

func (s *Store) Save(ctx context.Context, meta *model.RemoteMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode remote meta: %w", err)
	}

	if err := s.backend.UploadContent(ctx, data, s.path, cloud.UploadOptions{MTime: time.Now()}); err != nil {
		return fmt.Errorf("failed to save remote meta: %w", err)
	}

	logger.Log.Debug("remote meta saved", zap.String("path", s.path), zap.Int("size", len(data)))
	return nil
}
