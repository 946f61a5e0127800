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

// Package blob provides the conformance test suite shared by blob store
// implementations.
package blob

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ynggny/emlprobe/framework/module"
)

// TestStore runs the store conformance suite. newStore is called per
// subtest, cleanStore after each one.
func TestStore(t *testing.T, newStore func() module.BlobStore, cleanStore func(module.BlobStore)) {
	ctx := context.Background()

	write := func(t *testing.T, store module.BlobStore, key string, data []byte) {
		t.Helper()
		blob, err := store.Create(ctx, key, int64(len(data)))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := blob.Write(data); err != nil {
			t.Fatal(err)
		}
		if err := blob.Sync(); err != nil {
			t.Fatal(err)
		}
		if err := blob.Close(); err != nil {
			t.Fatal(err)
		}
	}

	read := func(t *testing.T, store module.BlobStore, key string) []byte {
		t.Helper()
		r, err := store.Open(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	t.Run("roundtrip", func(t *testing.T) {
		store := newStore()
		defer cleanStore(store)

		data := []byte("From: test@example.org\r\n\r\nbody\r\n")
		write(t, store, "eml/roundtrip-id", data)

		if got := read(t, store, "eml/roundtrip-id"); string(got) != string(data) {
			t.Errorf("wrong content: %q", got)
		}
	})

	t.Run("no such blob", func(t *testing.T) {
		store := newStore()
		defer cleanStore(store)

		_, err := store.Open(ctx, "eml/missing")
		if !errors.Is(err, module.ErrNoSuchBlob) {
			t.Errorf("expected ErrNoSuchBlob, got %v", err)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		store := newStore()
		defer cleanStore(store)

		write(t, store, "eml/key", []byte("first"))
		write(t, store, "eml/key", []byte("second"))

		if got := read(t, store, "eml/key"); string(got) != "second" {
			t.Errorf("wrong content after overwrite: %q", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore()
		defer cleanStore(store)

		write(t, store, "eml/del", []byte("x"))
		if err := store.Delete(ctx, []string{"eml/del", "eml/never-existed"}); err != nil {
			t.Fatal(err)
		}

		_, err := store.Open(ctx, "eml/del")
		if !errors.Is(err, module.ErrNoSuchBlob) {
			t.Errorf("expected ErrNoSuchBlob after delete, got %v", err)
		}
	})

	t.Run("close without sync discards", func(t *testing.T) {
		store := newStore()
		defer cleanStore(store)

		blob, err := store.Create(ctx, "eml/aborted", module.UnknownBlobSize)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := blob.Write([]byte("partial")); err != nil {
			t.Fatal(err)
		}
		if err := blob.Close(); err != nil {
			t.Fatal(err)
		}

		if _, err := store.Open(ctx, "eml/aborted"); !errors.Is(err, module.ErrNoSuchBlob) {
			t.Errorf("expected aborted blob to be discarded, got %v", err)
		}
	})
}
