package pipeline

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync"

	"vaultsync/internal/logger"
	"vaultsync/internal/model"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Checksum returns the hex md5 of the file at path.
func Checksum(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}

	defer func(f afero.File) {
		_ = f.Close()
	}(f)

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumFilter drops write events whose content hash did not change.
type ChecksumFilter struct {
	mu    sync.Mutex
	fs    afero.Fs
	cache map[string]string
}

func NewChecksumFilter(fs afero.Fs) *ChecksumFilter {
	return &ChecksumFilter{
		fs:    fs,
		cache: make(map[string]string),
	}
}

// Seed records a known hash so the first event for path can be compared.
func (cf *ChecksumFilter) Seed(path, sum string) {
	cf.mu.Lock()
	cf.cache[path] = sum
	cf.mu.Unlock()
}

func (cf *ChecksumFilter) Run(inCh <-chan model.FileEvent) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		defer close(outCh)

		for event := range inCh {
			if event.Type != model.EventWrite || event.IsDir {
				cf.mu.Lock()
				delete(cf.cache, event.Path)
				if event.OldPath != "" {
					delete(cf.cache, event.OldPath)
				}
				cf.mu.Unlock()
				outCh <- event
				continue
			}

			sum, err := Checksum(cf.fs, event.Path)
			if err != nil {
				logger.Log.Debug("checksum failed, skipping",
					zap.String("path", event.Path),
					zap.Error(err))
				continue
			}

			cf.mu.Lock()
			prev, exists := cf.cache[event.Path]
			changed := !exists || prev != sum
			if changed {
				cf.cache[event.Path] = sum
			}
			cf.mu.Unlock()

			if changed {
				outCh <- event
			} else {
				logger.Log.Debug("checksum unchanged, skipping",
					zap.String("path", event.Path))
			}
		}
	}()

	return outCh
}
