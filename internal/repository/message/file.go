package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"secure_drop/internal/model"

	"github.com/gofrs/flock"
)

const (
	fileExt       = ".msg"
	lockDirName   = ".locks"
	lockRetryWait = 10 * time.Millisecond
)

type (
	// FileBackend keeps each slot as <dir>/<recipient>.msg holding the JSON
	// record. Writes go through a temp file and rename.
	FileBackend struct {
		dir     string
		lockDir string
	}
)

func NewFileBackend(dir string) (*FileBackend, error) {
	lockDir := filepath.Join(dir, lockDirName)
	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return nil, fmt.Errorf("create message dir: %w", err)
	}
	return &FileBackend{
		dir:     dir,
		lockDir: lockDir,
	}, nil
}

func (b *FileBackend) path(recipientID string) string {
	return filepath.Join(b.dir, recipientID+fileExt)
}

// LockSlot takes an advisory file lock so separate processes sharing dir
// do not interleave on one slot.
func (b *FileBackend) LockSlot(ctx context.Context, recipientID string) (func(), error) {
	fl := flock.New(filepath.Join(b.lockDir, recipientID+".lock"))
	locked, err := fl.TryLockContext(ctx, lockRetryWait)
	if err != nil {
		return nil, fmt.Errorf("lock slot %s: %w", recipientID, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock slot %s: %w", recipientID, ctx.Err())
	}
	return func() {
		_ = fl.Unlock()
	}, nil
}

func (b *FileBackend) Load(ctx context.Context, recipientID string) (*model.StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.path(recipientID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msg model.StoredMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &msg, nil
}

func (b *FileBackend) Save(ctx context.Context, recipientID string, msg *model.StoredMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, ".tmp-"+recipientID+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, b.path(recipientID))
}

func (b *FileBackend) Remove(ctx context.Context, recipientID string) error {
	err := os.Remove(b.path(recipientID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FileBackend) RemoveAll(ctx context.Context) (int64, error) {
	matches, err := filepath.Glob(filepath.Join(b.dir, "*"+fileExt))
	if err != nil {
		return 0, err
	}

	var n int64
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}

func (b *FileBackend) Close() error {
	return nil
}
