package fat

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func attachLogger(fs *FS) *slog.Logger {
	fs.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevelTrace,
	}))
	return fs.log
}

// mountFreshVolume formats and mounts a brand new volume of numSectors
// sectors over a MemoryDevice, returning the mounted FS.
func mountFreshVolume(t *testing.T, numSectors uint32) *FS {
	t.Helper()
	var fs FS
	attachLogger(&fs)
	dev := NewMemoryDevice(numSectors)
	if err := fs.Mount(dev, 0, ModeReformat); err != nil {
		t.Fatalf("mount+format: %s", err)
	}
	t.Cleanup(func() {
		if err := fs.Eject(); err != nil {
			t.Errorf("eject: %s", err)
		}
	})
	return &fs
}

func TestMountFormatsFreshVolume(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	if fs.maxCluster < 2 {
		t.Fatalf("unexpected maxCluster %d", fs.maxCluster)
	}
	if fs.freeCount == 0 {
		t.Fatal("expected some free clusters after format")
	}
}

func TestCreateWriteReadFile(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	const (
		filename = "test.txt"
		data     = "abc123"
	)
	var fp File
	err := fs.OpenFile(&fp, filename, ModeRW|ModeCreateNew)
	if err != nil {
		t.Fatalf("open for write: %s", err)
	}
	n, err := fp.Write([]byte(data))
	if err != nil {
		t.Fatalf("write: %s", err)
	}
	if n != len(data) {
		t.Fatalf("short write: %d", n)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	err = fs.OpenFile(&fp, filename, ModeRead)
	if err != nil {
		t.Fatalf("open for read: %s", err)
	}
	got, err := io.ReadAll(&fp)
	if err != nil {
		t.Fatalf("read: %s", err)
	}
	if string(got) != data {
		t.Fatalf("got %q want %q", got, data)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}
}

func TestCreateNewRejectsExisting(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	var fp File
	if err := fs.OpenFile(&fp, "dup.txt", ModeWrite|ModeCreateNew); err != nil {
		t.Fatalf("first create: %s", err)
	}
	fp.Close()
	err := fs.OpenFile(&fp, "dup.txt", ModeWrite|ModeCreateNew)
	if err != InvalidParameter {
		t.Fatalf("want InvalidParameter, got %v", err)
	}
}

func TestOpenMissingFails(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	var fp File
	err := fs.OpenFile(&fp, "missing.txt", ModeRead)
	if err != NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestMkdirAndList(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	if err := fs.Mkdir("sub"); err != nil {
		t.Fatalf("mkdir: %s", err)
	}
	var fp File
	if err := fs.OpenFile(&fp, "sub/nested.txt", ModeWrite|ModeCreateNew); err != nil {
		t.Fatalf("create nested file: %s", err)
	}
	fp.Write([]byte("hi"))
	fp.Close()

	var d Dir
	if err := fs.OpenDir(&d, "sub"); err != nil {
		t.Fatalf("opendir: %s", err)
	}
	var names []string
	err := d.ForEachFile(func(fi *FileInfo) error {
		names = append(names, fi.Name())
		return nil
	})
	if err != nil {
		t.Fatalf("foreachfile: %s", err)
	}
	found := false
	for _, n := range names {
		if n == "." || n == ".." {
			continue
		}
		if n == "nested.txt" || n == "NESTED.TXT" {
			found = true
		}
	}
	if !found {
		t.Fatalf("nested.txt not listed, got %v", names)
	}
}

func TestChangeAttributesRename(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	var fp File
	if err := fs.OpenFile(&fp, "old.txt", ModeRW|ModeCreateNew); err != nil {
		t.Fatalf("create: %s", err)
	}
	// Span multiple clusters: a single-cluster rename wouldn't exercise
	// whether the renamed file's FAT chain beyond its first cluster
	// survives the rename.
	payload := bytes.Repeat([]byte{'y'}, int(fs.bytesPerCluster())*3)
	fp.Write(payload)
	beforeFree := fs.freeCount
	newName := "new.txt"
	if err := fp.ChangeAttributes(fp.res.short.attr, nil, &newName); err != nil {
		t.Fatalf("rename: %s", err)
	}
	fp.Close()

	if fs.freeCount != beforeFree {
		t.Fatalf("rename must not change freeCount: before=%d after=%d", beforeFree, fs.freeCount)
	}

	var other File
	if err := fs.OpenFile(&other, "old.txt", ModeRead); err != NotFound {
		t.Fatalf("old name should be gone, got %v", err)
	}
	if err := fs.OpenFile(&other, "new.txt", ModeRead); err != nil {
		t.Fatalf("open renamed file: %s", err)
	}
	got, _ := io.ReadAll(&other)
	if !bytes.Equal(got, payload) {
		t.Fatalf("renamed file contents changed, got %d bytes want %d", len(got), len(payload))
	}
	other.Close()
}

func TestChangeAttributesRejectsDirectoryToggle(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	var fp File
	if err := fs.OpenFile(&fp, "plain.txt", ModeWrite|ModeCreateNew); err != nil {
		t.Fatalf("create: %s", err)
	}
	err := fp.ChangeAttributes(fp.res.short.attr|attrDirectory, nil, nil)
	if err != InvalidParameter {
		t.Fatalf("want InvalidParameter toggling ATTR_DIRECTORY, got %v", err)
	}
}

func TestChangeAttributesRejectsInvalidTime(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	var fp File
	if err := fs.OpenFile(&fp, "timed.txt", ModeWrite|ModeCreateNew); err != nil {
		t.Fatalf("create: %s", err)
	}
	bad := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	err := fp.ChangeAttributes(fp.res.short.attr, &bad, nil)
	if err != InvalidTime {
		t.Fatalf("want InvalidTime, got %v", err)
	}
}

func TestRemoveFreesChain(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	var fp File
	if err := fs.OpenFile(&fp, "throwaway.txt", ModeWrite|ModeCreateNew); err != nil {
		t.Fatalf("create: %s", err)
	}
	buf := bytes.Repeat([]byte{'x'}, int(fs.bytesPerCluster())*3)
	fp.Write(buf)
	fp.Close()

	before := fs.freeCount
	if err := fs.Remove("throwaway.txt"); err != nil {
		t.Fatalf("remove: %s", err)
	}
	if fs.freeCount <= before {
		t.Fatalf("freeCount did not grow after remove: before=%d after=%d", before, fs.freeCount)
	}
	var again File
	if err := fs.OpenFile(&again, "throwaway.txt", ModeRead); err != NotFound {
		t.Fatalf("want NotFound after remove, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	var fp File
	if err := fs.OpenFile(&fp, "idem.txt", ModeWrite|ModeCreateNew); err != nil {
		t.Fatalf("create: %s", err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("first close: %s", err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %s", err)
	}
}

func TestSizeGrowsMonotonically(t *testing.T) {
	fs := mountFreshVolume(t, 65536)
	var fp File
	if err := fs.OpenFile(&fp, "grow.txt", ModeRW|ModeCreateNew); err != nil {
		t.Fatalf("create: %s", err)
	}
	fp.Write(bytes.Repeat([]byte{'a'}, 1000))
	if fp.res.short.fileSize != 1000 {
		t.Fatalf("size after first write = %d", fp.res.short.fileSize)
	}
	fp.fptr = 100 // rewind and write a short chunk entirely within the file.
	fp.Write([]byte("short"))
	if fp.res.short.fileSize != 1000 {
		t.Fatalf("size should not shrink on a short in-bounds write: %d", fp.res.short.fileSize)
	}
	fp.Close()
}
