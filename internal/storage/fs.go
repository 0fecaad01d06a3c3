package storage

import (
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// FSStore keeps the document in a single local file.
type FSStore struct{ path string }

func NewFSStore(path string) (*FSStore, error) {
	if path == "" {
		path = "quiz_data.json"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create data dir %s", dir)
		}
	}
	return &FSStore{path: path}, nil
}

func (s *FSStore) Path() string { return s.path }

func (s *FSStore) Load() ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, errors.Wrapf(err, "read %s", s.path)
	}
	return b, nil
}

// Save writes to a sibling temp file, syncs it and renames it over the
// target, so readers see either the old or the new document.
func (s *FSStore) Save(data []byte) error {
	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", dir)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "replace %s", s.path)
	}
	glog.V(3).Infof("saved %d bytes to %s", len(data), s.path)
	return nil
}

func (s *FSStore) Quarantine(suffix string) (string, error) {
	dst := s.path + "." + suffix
	if err := os.Rename(s.path, dst); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "quarantine %s", s.path)
	}
	return dst, nil
}
