package runstate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"distrod/internal/distroerr"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distrod.json")
	store := NewStore(path)

	rec := Record{Rootfs: "/mnt/distro", InitPID: uint32(os.Getpid())}
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a non-nil record")
	}
	if loaded.Rootfs != rec.Rootfs || loaded.InitPID != rec.InitPID {
		t.Errorf("loaded record = %+v, want %+v", loaded, rec)
	}
}

func TestLoadMissingFileReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	store := NewStore(path)

	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}

func TestLoadStalePidReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distrod.json")
	store := NewStore(path)

	// A pid this large is vanishingly unlikely to be live.
	if err := store.Save(Record{Rootfs: "/x", InitPID: 1 << 30}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected a stale record to load as nil, got %+v", rec)
	}
}

func TestLoadTamperedOwnershipFails(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("chown requires root; this check matters in the deployed root-only environment")
	}
	path := filepath.Join(t.TempDir(), "distrod.json")
	store := NewStore(path)
	if err := store.Save(Record{Rootfs: "/x", InitPID: 1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := os.Chown(path, 1000, 1000); err != nil {
		t.Fatalf("Chown failed: %v", err)
	}

	before, _ := os.ReadFile(path)
	_, err := store.Load()
	if !errors.Is(err, distroerr.ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("Load must not modify a tampered file")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distrod.json")
	store := NewStore(path)
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear on a missing file should be a no-op, got: %v", err)
	}
	if err := store.Save(Record{Rootfs: "/x", InitPID: uint32(os.Getpid())}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected the record file to be gone after Clear")
	}
}

func TestLaunchLockMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distrod.lock")
	a := NewLaunchLock(path)
	b := NewLaunchLock(path)

	ok, err := a.TryLock()
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	defer a.Unlock()

	ok, err = b.TryLock()
	if err != nil {
		t.Fatalf("second TryLock errored: %v", err)
	}
	if ok {
		t.Error("expected the second launch lock attempt to fail while the first holds it")
		b.Unlock()
	}
}
