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

package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ynggny/emlprobe/framework/module"
	"github.com/ynggny/emlprobe/internal/storage/blob"
)

func TestFS(t *testing.T) {
	blob.TestStore(t, func() module.BlobStore {
		dir, err := os.MkdirTemp("", "emlprobe-fs-test-")
		if err != nil {
			t.Fatal(err)
		}
		return &FSStore{instName: "test", root: dir}
	}, func(store module.BlobStore) {
		os.RemoveAll(store.(*FSStore).root)
	})
}

func TestFS_KeyFlattening(t *testing.T) {
	dir := t.TempDir()
	s := &FSStore{instName: "test", root: dir}

	blob, err := s.Create(context.Background(), "eml/some-id", 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := blob.Write([]byte("test")); err != nil {
		t.Fatal(err)
	}
	if err := blob.Sync(); err != nil {
		t.Fatal(err)
	}
	blob.Close()

	if _, err := os.Stat(filepath.Join(dir, "eml--some-id")); err != nil {
		t.Errorf("expected flattened file name: %v", err)
	}
}
