package packfs_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/packfs/go-packfs/blockdev"
	"github.com/packfs/go-packfs/packfs"
)

func openMemFS(t *testing.T) *packfs.FileSystem {
	t.Helper()
	fs, err := packfs.Open(blockdev.Memory(), packfs.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return fs
}

func TestOpenFreshVolumeHasRoot(t *testing.T) {
	fs := openMemFS(t)
	e, ok := fs.GetEntry("/")
	if !ok {
		t.Fatal("root entry missing after Open")
	}
	if e.Kind != packfs.EntryDirectory {
		t.Errorf("root kind = %v, want directory", e.Kind)
	}
}

func TestCreateFileAndSetGetContent(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateFile("/hello.txt"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	content := []byte("hello, world")
	if err := fs.SetContent("/hello.txt", content); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	got, err := fs.GetContent("/hello.txt")
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("GetContent = %q, want %q", got, content)
	}
}

func TestCreateFileDuplicateFails(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateFile("/a"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	_, err := fs.CreateFile("/a")
	var exists *packfs.AlreadyExistsError
	if !errors.As(err, &exists) {
		t.Errorf("second CreateFile error = %v, want *AlreadyExistsError", err)
	}
}

func TestCreateFileMissingParentFails(t *testing.T) {
	fs := openMemFS(t)
	_, err := fs.CreateFile("/no/such/dir/file")
	var notFound *packfs.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("CreateFile with missing parent error = %v, want *NotFoundError", err)
	}
}

func TestCreateFileUnderFileFails(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateFile("/f"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	_, err := fs.CreateFile("/f/nested")
	var notDir *packfs.NotADirectoryError
	if !errors.As(err, &notDir) {
		t.Errorf("CreateFile under a file error = %v, want *NotADirectoryError", err)
	}
}

func TestDirectoryFullAfterMaxChildren(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateDirectory("/d"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	for i := 0; i < packfs.MaxDirectorySize; i++ {
		name := "/d/" + string(rune('a'+i))
		if _, err := fs.CreateFile(name); err != nil {
			t.Fatalf("CreateFile(%s): %v", name, err)
		}
	}
	_, err := fs.CreateFile("/d/overflow")
	var full *packfs.DirectoryFullError
	if !errors.As(err, &full) {
		t.Errorf("overflowing CreateFile error = %v, want *DirectoryFullError", err)
	}
}

func TestSetContentOnDirectoryFails(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateDirectory("/d"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	err := fs.SetContent("/d", []byte("nope"))
	var notFile *packfs.NotAFileError
	if !errors.As(err, &notFile) {
		t.Errorf("SetContent on directory error = %v, want *NotAFileError", err)
	}
}

func TestRemoveRecursive(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateDirectory("/d"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := fs.CreateFile("/d/a"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := fs.CreateDirectory("/d/sub"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := fs.CreateFile("/d/sub/b"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if err := fs.Remove("/d"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, p := range []string{"/d", "/d/a", "/d/sub", "/d/sub/b"} {
		if fs.IsFileExists(p) {
			t.Errorf("%s still exists after recursive Remove", p)
		}
	}
	entries, err := fs.ListDir("/")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("root has %d children after removing /d, want 0", len(entries))
	}
}

func TestMoveRenamesTreeAndPreservesContent(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateDirectory("/src"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := fs.CreateFile("/src/f"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := fs.SetContent("/src/f", []byte("payload")); err != nil {
		t.Fatalf("SetContent: %v", err)
	}

	if err := fs.Move("/src", "/dst"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if fs.IsFileExists("/src") || fs.IsFileExists("/src/f") {
		t.Error("source paths still exist after Move")
	}
	got, err := fs.GetContent("/dst/f")
	if err != nil {
		t.Fatalf("GetContent(/dst/f): %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("GetContent(/dst/f) = %q, want %q", got, "payload")
	}
}

func TestMoveNestedDirectoryTree(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateDirectory("/x"); err != nil {
		t.Fatalf("CreateDirectory(/x): %v", err)
	}
	if _, err := fs.CreateDirectory("/x/y"); err != nil {
		t.Fatalf("CreateDirectory(/x/y): %v", err)
	}
	if _, err := fs.CreateFile("/x/y/b"); err != nil {
		t.Fatalf("CreateFile(/x/y/b): %v", err)
	}
	if err := fs.SetContent("/x/y/b", []byte("nested")); err != nil {
		t.Fatalf("SetContent: %v", err)
	}

	if err := fs.Move("/x", "/z"); err != nil {
		t.Fatalf("Move(/x, /z): %v", err)
	}
	if !fs.IsFileExists("/z/y/b") {
		t.Fatal("/z/y/b missing after moving a two-level directory tree")
	}
	got, err := fs.GetContent("/z/y/b")
	if err != nil {
		t.Fatalf("GetContent(/z/y/b): %v", err)
	}
	if string(got) != "nested" {
		t.Errorf("GetContent(/z/y/b) = %q, want %q", got, "nested")
	}

	if err := fs.Move("/z", "/x"); err != nil {
		t.Fatalf("Move(/z, /x) back: %v", err)
	}
	if !fs.IsFileExists("/x/y/b") {
		t.Fatal("/x/y/b missing after moving the tree back")
	}
}

func TestMoveIntoOwnDescendantFails(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateDirectory("/d"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	err := fs.Move("/d", "/d/child")
	var recursive *packfs.RecursiveMoveError
	if !errors.As(err, &recursive) {
		t.Errorf("Move into descendant error = %v, want *RecursiveMoveError", err)
	}
}

func TestCopyIsIndependentOfSource(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateFile("/a"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := fs.SetContent("/a", []byte("original")); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	if err := fs.Copy("/a", "/b"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := fs.SetContent("/a", []byte("changed")); err != nil {
		t.Fatalf("SetContent: %v", err)
	}

	got, err := fs.GetContent("/b")
	if err != nil {
		t.Fatalf("GetContent(/b): %v", err)
	}
	if string(got) != "original" {
		t.Errorf("GetContent(/b) = %q, want %q", got, "original")
	}
}

func TestCopyDirectoryRecursively(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateDirectory("/d"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := fs.CreateFile("/d/a"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := fs.Copy("/d", "/e"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if !fs.IsFileExists("/e/a") {
		t.Error("/e/a missing after directory Copy")
	}
}

func TestListTreeOrderedByPath(t *testing.T) {
	fs := openMemFS(t)
	for _, p := range []string{"/c", "/a", "/b"} {
		if _, err := fs.CreateFile(p); err != nil {
			t.Fatalf("CreateFile(%s): %v", p, err)
		}
	}
	tree := fs.ListTree()
	var paths []string
	for _, e := range tree {
		paths = append(paths, e.Path)
	}
	want := []string{"/", "/a", "/b", "/c"}
	if len(paths) != len(want) {
		t.Fatalf("ListTree paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("ListTree()[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestDefragPreservesContent(t *testing.T) {
	fs := openMemFS(t)
	if _, err := fs.CreateFile("/a"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := fs.SetContent("/a", bytes.Repeat([]byte("x"), 100)); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	if _, err := fs.CreateFile("/b"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := fs.Remove("/a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := fs.Defrag(); err != nil {
		t.Fatalf("Defrag: %v", err)
	}
	got, err := fs.GetContent("/b")
	if err != nil {
		t.Fatalf("GetContent(/b) after Defrag: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("GetContent(/b) after Defrag = %q, want empty", got)
	}
}

func TestOpenSurvivesCloseAndReopenOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.img")

	dev, err := blockdev.Create(path)
	if err != nil {
		t.Fatalf("blockdev.Create: %v", err)
	}
	fs, err := packfs.Open(dev, packfs.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fs.CreateFile("/persisted"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := fs.SetContent("/persisted", []byte("durable")); err != nil {
		t.Fatalf("SetContent: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dev2, err := blockdev.Open(path)
	if err != nil {
		t.Fatalf("blockdev.Open: %v", err)
	}
	fs2, err := packfs.Open(dev2, packfs.Options{})
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer fs2.Close()

	got, err := fs2.GetContent("/persisted")
	if err != nil {
		t.Fatalf("GetContent after reopen: %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("GetContent after reopen = %q, want %q", got, "durable")
	}
}

func TestOpenRecoversFromCorruptHeader(t *testing.T) {
	dev := blockdev.Memory()
	fs, err := packfs.Open(dev, packfs.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := fs.CreateDirectory("/d"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := fs.CreateFile("/d/a"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	// Zero the first 4 bytes (the "MYFS" magic) to simulate corruption,
	// without closing fs (which would also close the shared in-memory
	// device and reject further writes).
	if err := dev.Write(0, make([]byte, 4)); err != nil {
		t.Fatalf("corrupt magic: %v", err)
	}

	recovered, err := packfs.Open(dev, packfs.Options{})
	if err != nil {
		t.Fatalf("Open on corrupt volume: %v", err)
	}
	tree := recovered.ListTree()
	if len(tree) != 1 {
		t.Fatalf("ListTree after reformat = %v, want exactly one entry", tree)
	}
	if tree[0].Path != "/" || tree[0].Kind != packfs.EntryDirectory {
		t.Errorf("surviving entry = %+v, want root directory", tree[0])
	}
}

func TestRemoveNonexistentFails(t *testing.T) {
	fs := openMemFS(t)
	err := fs.Remove("/nope")
	var notFound *packfs.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Remove nonexistent error = %v, want *NotFoundError", err)
	}
}
