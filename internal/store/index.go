// File: internal/store/index.go
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-sessions/api/schemas"
)

const (
	indexFileName = "index.json"
	indexVersion  = 1
	blobExt       = ".enc"

	dirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
)

// sessionIndex is the single document listing every stored record, in insertion order.
type sessionIndex struct {
	Version  int                     `json:"version"`
	Sessions []schemas.SessionRecord `json:"sessions"`
}

func (idx *sessionIndex) find(id string) int {
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (idx *sessionIndex) hasName(name string) bool {
	for i := range idx.Sessions {
		if idx.Sessions[i].Name == name {
			return true
		}
	}
	return false
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *Store) blobPath(id string) string {
	return filepath.Join(s.dir, id+blobExt)
}

// readIndex loads the index. A missing file is an empty index, not an error.
// Callers must hold s.mu.
func (s *Store) readIndex() (*sessionIndex, error) {
	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		return &sessionIndex{Version: indexVersion}, nil
	}
	if err != nil {
		return nil, newError(CodeIO, err, "failed to read index")
	}

	var idx sessionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, newError(CodeIO, err, "failed to parse index")
	}
	if idx.Version != indexVersion {
		return nil, newError(CodeUnsupportedVersion, nil, "index version %d", idx.Version)
	}
	return &idx, nil
}

// writeIndex replaces the index atomically: the new document is written to a temp file
// in the same directory, synced, and renamed over the old one. Callers must hold s.mu.
func (s *Store) writeIndex(idx *sessionIndex) error {
	idx.Version = indexVersion
	if idx.Sessions == nil {
		idx.Sessions = []schemas.SessionRecord{}
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return newError(CodeIO, err, "failed to encode index")
	}

	tmp, err := os.CreateTemp(s.dir, indexFileName+".*.tmp")
	if err != nil {
		return newError(CodeIO, err, "failed to create temp index")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := writeAndSync(tmp, data); err != nil {
		return newError(CodeIO, err, "failed to write temp index")
	}
	if err := os.Rename(tmpName, s.indexPath()); err != nil {
		return newError(CodeIO, err, "failed to replace index")
	}
	committed = true
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if err := f.Chmod(filePerm); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeBlob creates the encrypted file for a new record. It refuses to overwrite.
func (s *Store) writeBlob(id string, salt, blob []byte) error {
	f, err := os.OpenFile(s.blobPath(id), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	data := make([]byte, 0, len(salt)+len(blob))
	data = append(data, salt...)
	data = append(data, blob...)
	if err := writeAndSync(f, data); err != nil {
		_ = os.Remove(s.blobPath(id))
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}
