//go:build !unix

package diskbuffer

import (
	"fmt"
	"os"
	"path/filepath"
)

const lockFileName = "buffer.lock"

// dirLock on platforms without flock only creates the lock file; callers
// must keep a single process per directory themselves.
type dirLock struct {
	f *os.File
}

func lockDir(dir string) (*dirLock, error) {
	f, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return &dirLock{f: f}, nil
}

func (l *dirLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
