/*
Emlprobe - email forensics and scoring engine.
Copyright © 2023-2024 emlprobe contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package fs implements a directory-backed blob store.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ynggny/emlprobe/framework/config"
	"github.com/ynggny/emlprobe/framework/module"
)

const modName = "storage.blob.fs"

// FSStore represents a directory on the FS used to store blobs.
type FSStore struct {
	instName string
	root     string
}

func New(_, instName string, _, inlineArgs []string) (module.Module, error) {
	s := &FSStore{instName: instName}
	switch len(inlineArgs) {
	case 0:
	case 1:
		s.root = inlineArgs[0]
	default:
		return nil, fmt.Errorf("%s: 1 or 0 arguments expected", modName)
	}
	return s, nil
}

func (s *FSStore) Name() string {
	return modName
}

func (s *FSStore) InstanceName() string {
	return s.instName
}

func (s *FSStore) Init(cfg *config.Map) error {
	cfg.String("root", false, false, s.root, &s.root)
	if _, err := cfg.Process(); err != nil {
		return err
	}

	if s.root == "" {
		return fmt.Errorf("%s: directory not set", modName)
	}

	return os.MkdirAll(s.root, os.ModeDir|os.ModePerm)
}

// path flattens the key into a single file name. Keys use "/" as a
// logical separator (eml/{id}), which must not create directories.
func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, strings.ReplaceAll(key, "/", "--"))
}

func (s *FSStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, module.ErrNoSuchBlob
		}
		return nil, err
	}
	return f, nil
}

type fsBlob struct {
	f      *os.File
	target string
	synced bool
}

func (b *fsBlob) Write(p []byte) (int, error) {
	return b.f.Write(p)
}

// Sync makes the blob visible under its final name. Until then readers
// cannot observe a partially written object.
func (b *fsBlob) Sync() error {
	if err := b.f.Sync(); err != nil {
		return err
	}
	if err := b.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(b.f.Name(), b.target); err != nil {
		return err
	}
	b.synced = true
	return nil
}

func (b *fsBlob) Close() error {
	if b.synced {
		return nil
	}
	b.f.Close()
	return os.Remove(b.f.Name())
}

func (s *FSStore) Create(_ context.Context, key string, blobSize int64) (module.Blob, error) {
	f, err := os.CreateTemp(s.root, ".tmp-blob-*")
	if err != nil {
		return nil, err
	}
	if blobSize >= 0 {
		if err := f.Truncate(blobSize); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, err
		}
	}
	return &fsBlob{f: f, target: s.path(key)}, nil
}

func (s *FSStore) Delete(_ context.Context, keys []string) error {
	for _, key := range keys {
		if err := os.Remove(s.path(key)); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func init() {
	var _ module.BlobStore = &FSStore{}
	module.Register(modName, New)
}
