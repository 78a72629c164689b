package adapters

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

const runLockName = ".package-mirror.lock"

// RunLock guards a local feed against concurrent mirror runs.
type RunLock struct {
	path string
}

// AcquireRunLock creates the lock file inside feedDir. An existing lock is a
// precondition failure; remove the file by hand after a crashed run.
func AcquireRunLock(feedDir string) (*RunLock, error) {
	if err := os.MkdirAll(feedDir, 0755); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("failed to create local feed %s", feedDir)).
			WithCause(err)
	}
	path := filepath.Join(feedDir, runLockName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("local feed is locked by another run (%s)", path))
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create run lock").
			WithCause(err)
	}
	_, _ = file.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write run lock").
			WithCause(err)
	}
	return &RunLock{path: path}, nil
}

func (l *RunLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to release run lock").
			WithCause(err)
	}
	return nil
}
