// Package ignore decides which paths are left out of automatic sync.
package ignore

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"

	"github.com/spf13/afero"
)

type Options struct {
	// Pattern is a regular expression matched against the slash path.
	Pattern string
	// Globs are matched against every path segment.
	Globs     []string
	MaxSizeMB int64
	// Fs is consulted for file sizes when set.
	Fs afero.Fs
}

type Matcher struct {
	pattern *regexp.Regexp
	globs   []string
	maxSize int64
	fs      afero.Fs
}

func New(opts Options) (*Matcher, error) {
	m := &Matcher{
		globs:   opts.Globs,
		maxSize: opts.MaxSizeMB * 1024 * 1024,
		fs:      opts.Fs,
	}
	if opts.Pattern != "" {
		re, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile ignore pattern: %w", err)
		}
		m.pattern = re
	}
	return m, nil
}

// Match reports whether path must not be synced automatically. node may be
// nil; its cached size is used when present.
func (m *Matcher) Match(path string, node *model.LocalFileNode) bool {
	if m == nil {
		return false
	}

	p := pathutil.Join(filepath.ToSlash(path))
	if Hidden(p) {
		return true
	}
	if m.pattern != nil && m.pattern.MatchString(p) {
		return true
	}
	if m.matchGlob(p) {
		return true
	}
	return m.tooLarge(p, node)
}

// MatchPath is Match without a cached node.
func (m *Matcher) MatchPath(path string) bool {
	return m.Match(path, nil)
}

// Hidden reports whether any segment of path starts with a dot.
func Hidden(path string) bool {
	for _, part := range pathutil.Split(path) {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (m *Matcher) matchGlob(p string) bool {
	for _, part := range pathutil.Split(p) {
		for _, pattern := range m.globs {
			if ok, err := filepath.Match(pattern, part); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func (m *Matcher) tooLarge(p string, node *model.LocalFileNode) bool {
	if m.maxSize <= 0 {
		return false
	}
	if node != nil && !node.IsDir() && node.Size > m.maxSize {
		return true
	}
	if m.fs == nil {
		return false
	}
	info, err := m.fs.Stat(p)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Size() > m.maxSize
}
