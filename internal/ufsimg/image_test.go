package ufsimg

import (
	"os"
	"path/filepath"
	"testing"
)

func smallSizes() SizeRequest {
	return SizeRequest{NumFiles: 4, NumAreas: 4, NumNodes: 8, NumStrBytes: 64}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.ufs")

	img, err := Create(path, smallSizes())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := img.Validate(); err != nil {
		t.Fatalf("Validate after create: %v", err)
	}
	wantLen := img.Len()
	if err := img.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	img2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img2.Release()
	if err := img2.Validate(); err != nil {
		t.Fatalf("Validate after open: %v", err)
	}
	if img2.Len() != wantLen {
		t.Errorf("Len() = %d, want %d", img2.Len(), wantLen)
	}
	if img2.Header().Magic != MagicNumber {
		t.Errorf("Magic = %x, want %x", img2.Header().Magic, MagicNumber)
	}
	if int(img2.StoredLength()) != wantLen {
		t.Errorf("StoredLength() = %d, want %d", img2.StoredLength(), wantLen)
	}
}

func TestCreateSizeTooSmall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.ufs")
	_, err := Create(path, SizeRequest{})
	if err == nil {
		t.Fatal("Create with all-zero sizes: want error, got nil")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.ufs")); err == nil {
		t.Fatal("Open of a missing file: want error, got nil")
	}
}

func TestOpenTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.ufs")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open of a too-small file: want error, got nil")
	}
}

func TestValidateRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.ufs")
	img, err := Create(path, smallSizes())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer img.Release()

	h := img.Header()
	h.Magic = 0xdeadbeef
	putHeader(img.data[headerOffsetFor():], h)
	img.header = h

	if err := img.Validate(); err == nil {
		t.Fatal("Validate with corrupted magic: want error, got nil")
	}
}

func TestValidateRejectsVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.ufs")
	img, err := Create(path, smallSizes())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer img.Release()

	h := img.Header()
	h.Version = Version + 1
	putHeader(img.data[headerOffsetFor():], h)
	img.header = h

	if err := img.Validate(); err == nil {
		t.Fatal("Validate with version mismatch: want error, got nil")
	}
}

func TestAnonymousImage(t *testing.T) {
	img, err := Anonymous(smallSizes())
	if err != nil {
		t.Fatalf("Anonymous: %v", err)
	}
	defer img.Release()
	if err := img.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := img.Sync(); err != nil {
		t.Errorf("Sync on an anonymous image: %v", err)
	}
}

func TestRecordReadWrite(t *testing.T) {
	img, err := Anonymous(smallSizes())
	if err != nil {
		t.Fatalf("Anonymous: %v", err)
	}
	defer img.Release()

	img.WriteArea(0, AreaRecord{InUse: 1, StrOffset: 5})
	got := img.ReadArea(0)
	if got.InUse != 1 || got.StrOffset != 5 {
		t.Errorf("ReadArea(0) = %+v, want InUse=1 StrOffset=5", got)
	}

	img.WriteFile(1, FileRecord{InUse: 1, StrOffset: 9, ParentDir: 3})
	gotFile := img.ReadFile(1)
	if gotFile.InUse != 1 || gotFile.StrOffset != 9 || gotFile.ParentDir != 3 {
		t.Errorf("ReadFile(1) = %+v, want InUse=1 StrOffset=9 ParentDir=3", gotFile)
	}

	img.WriteNode(2, NodeRecord{InUse: 1, NumKeys: 1, Left: -1, Right: -1, Key0: 7})
	gotNode := img.ReadNode(2)
	if gotNode.Key0 != 7 || gotNode.Left != -1 || gotNode.Right != -1 {
		t.Errorf("ReadNode(2) = %+v, want Key0=7 Left=-1 Right=-1", gotNode)
	}
}

func TestCString(t *testing.T) {
	img, err := Anonymous(smallSizes())
	if err != nil {
		t.Fatalf("Anonymous: %v", err)
	}
	defer img.Release()

	img.WriteCString(0, "hello")
	got, err := img.ReadCString(0)
	if err != nil {
		t.Fatalf("ReadCString: %v", err)
	}
	if got != "hello" {
		t.Errorf("ReadCString(0) = %q, want %q", got, "hello")
	}
}
