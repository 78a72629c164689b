package adapters

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"package-mirror/internal/ports"
	"package-mirror/internal/types"
)

const stagingPrefix = "package-mirror-staging-"

// StagingDir is a private scratch directory for in-flight downloads. Close
// removes it together with anything left inside.
type StagingDir struct {
	Path string

	mu     sync.Mutex
	closed bool
}

var _ ports.StagingPort = (*StagingDir)(nil)

// NewStagingDir creates a fresh staging directory under parent, or under the
// system temp directory when parent is empty.
func NewStagingDir(parent string) (*StagingDir, error) {
	if strings.TrimSpace(parent) != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("failed to create staging parent %s", parent)).
				WithCause(err)
		}
	}
	path, err := os.MkdirTemp(parent, stagingPrefix+"*")
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("failed to create staging directory").
			WithCause(err)
	}
	return &StagingDir{Path: path}, nil
}

// CreateFile creates a new file, fills it through write and syncs it. The
// hint is used as the file name when free; otherwise a random name is used.
// A partially written file is removed when write fails.
func (s *StagingDir) CreateFile(ctx context.Context, nameHint string, write func(io.Writer) error) (types.StagedFile, error) {
	if err := ctx.Err(); err != nil {
		return types.StagedFile{}, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return types.StagedFile{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("staging directory is closed")
	}

	file, name, err := s.open(nameHint)
	if err != nil {
		return types.StagedFile{}, err
	}
	path := filepath.Join(s.Path, name)
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}
	if err := write(file); err != nil {
		cleanup()
		return types.StagedFile{}, err
	}
	if err := file.Sync(); err != nil {
		cleanup()
		return types.StagedFile{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to flush staged file").
			WithCause(err)
	}
	info, err := file.Stat()
	if err != nil {
		cleanup()
		return types.StagedFile{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to stat staged file").
			WithCause(err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return types.StagedFile{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to close staged file").
			WithCause(err)
	}
	return types.StagedFile{Path: path, Name: name, Size: info.Size()}, nil
}

func (s *StagingDir) open(nameHint string) (*os.File, string, error) {
	hint := filepath.Base(strings.TrimSpace(nameHint))
	if hint != "" && hint != "." && hint != string(filepath.Separator) {
		file, err := os.OpenFile(filepath.Join(s.Path, hint), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return file, hint, nil
		}
		if !os.IsExist(err) {
			return nil, "", errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create staged file").
				WithCause(err)
		}
	}
	name := uuid.NewString() + filepath.Ext(hint)
	file, err := os.OpenFile(filepath.Join(s.Path, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create staged file").
			WithCause(err)
	}
	return file, name, nil
}

// Discard removes a staged file. Missing files are ignored.
func (s *StagingDir) Discard(file types.StagedFile) error {
	if file.Path == "" {
		return nil
	}
	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to remove staged file").
			WithCause(err)
	}
	return nil
}

// Close removes the staging directory. It is safe to call more than once.
func (s *StagingDir) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.Path); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to remove staging directory").
			WithCause(err)
	}
	return nil
}

// SweepOrphans removes staging directories under parent left behind by
// runs that did not exit cleanly and are older than maxAge.
func SweepOrphans(ctx context.Context, parent string, maxAge time.Duration) (int, error) {
	if strings.TrimSpace(parent) == "" {
		parent = os.TempDir()
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read staging parent").
			WithCause(err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(parent, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("failed to remove orphaned staging directory")
			continue
		}
		log.Ctx(ctx).Debug().Str("path", path).Msg("removed orphaned staging directory")
		removed++
	}
	return removed, nil
}
