// Package packfs implements a self-contained, single-volume user-space
// filesystem layered over a fixed-size block device image: an on-disk
// FAT-style directory table, a block-aligned address allocator with
// coalescing and defrag, and directory-tree semantics (create, remove,
// move, copy, list) built on top.
//
// Grounded throughout on original_source/src/myfs.cpp (the C++ program this
// package's semantics are distilled from) and on
// github.com/diskfs/go-diskfs's filesystem/fat32 package for Go idiom:
// flat []byte (de)serialization, a small top-level error taxonomy, and
// save-on-every-mutation.
package packfs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/packfs/go-packfs/blockdev"
)

// FileSystem is a single mounted volume: the in-memory entry set, the
// address allocator, and the on-disk volume they are persisted to. Exactly
// one FileSystem should be active per backing device, per spec §5.
type FileSystem struct {
	mu      sync.Mutex
	device  *blockdev.Device
	vol     *volume
	alloc   *addressAllocator
	entries map[string]Entry
	id      uuid.UUID
	log     *logrus.Entry
}

// Open loads the volume on device, reformatting it automatically if the
// header or entry table is corrupt (spec §7's chosen recovery policy), and
// returns a ready-to-use FileSystem. FileSystem.Close also closes device,
// so callers do not Close it separately after FileSystem.Close.
func Open(device *blockdev.Device, opts Options) (*FileSystem, error) {
	id := uuid.New()
	log := opts.logger().WithField("packfs_instance", id)

	vol := newVolume(device, opts.blockSize(), log)
	entries, err := vol.load()

	alloc := newAddressAllocator(FatSize, device.Size(), 0, log)

	if err != nil {
		log.WithError(err).Warn("volume corrupt, reformatting")
		if ferr := vol.format(); ferr != nil {
			return nil, fmt.Errorf("packfs: format after corrupt load: %w", ferr)
		}
		alloc.blockSize = uint64(vol.blockSize)
		alloc.initialize(nil)

		rootAddr, aerr := alloc.allocate(0)
		if aerr != nil {
			return nil, fmt.Errorf("packfs: allocate root directory: %w", aerr)
		}
		entries = []Entry{{Path: "/", Kind: EntryDirectory, Size: 0, Address: rootAddr}}
		if serr := vol.save(entries); serr != nil {
			return nil, fmt.Errorf("packfs: save fresh volume: %w", serr)
		}
	} else {
		alloc.blockSize = uint64(vol.blockSize)
		alloc.initialize(entries)
		entries, err = alloc.defrag(entries, device)
		if err != nil {
			return nil, fmt.Errorf("packfs: initial defrag: %w", err)
		}
		if err := vol.save(entries); err != nil {
			return nil, fmt.Errorf("packfs: save after initial defrag: %w", err)
		}
	}

	fs := &FileSystem{
		device:  device,
		vol:     vol,
		alloc:   alloc,
		entries: make(map[string]Entry, len(entries)),
		id:      id,
		log:     log,
	}
	for _, e := range entries {
		fs.entries[e.Path] = e
	}
	return fs, nil
}

// sortedEntries returns the current entries ordered by path, the
// deterministic order spec §3.1 requires for save and defrag.
func (fs *FileSystem) sortedEntries() []Entry {
	out := make([]Entry, 0, len(fs.entries))
	for _, e := range fs.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (fs *FileSystem) save() error {
	return fs.vol.save(fs.sortedEntries())
}

// GetEntry looks up an entry by exact path match.
func (fs *FileSystem) GetEntry(path string) (Entry, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[path]
	return e, ok
}

// IsFileExists reports whether an entry (file or directory) exists at path.
func (fs *FileSystem) IsFileExists(path string) bool {
	_, ok := fs.GetEntry(path)
	return ok
}

func validPath(path string) bool {
	return path != "" && path[0] == '/'
}

// addTableEntry allocates space for a brand-new entry, inserts it, and
// persists the table.
func (fs *FileSystem) addTableEntry(e Entry) (Entry, error) {
	addr, err := fs.alloc.allocate(e.Size)
	if err != nil {
		return Entry{}, err
	}
	e.Address = addr
	fs.entries[e.Path] = e
	if err := fs.save(); err != nil {
		delete(fs.entries, e.Path)
		fs.alloc.deallocate(e)
		return Entry{}, err
	}
	return e, nil
}

// removeTableEntry deallocates and forgets an entry, persisting the table.
func (fs *FileSystem) removeTableEntry(path string) error {
	e, ok := fs.entries[path]
	if !ok {
		return newNotFoundError(path)
	}
	fs.alloc.deallocate(e)
	delete(fs.entries, path)
	return fs.save()
}

// setContentEntry reallocates an entry's extent (if its size changed),
// writes bytes to the device, and persists the table. It does not check
// Kind, so it can also be used to rewrite a directory's child-list content.
func (fs *FileSystem) setContentEntry(path string, content []byte) (Entry, error) {
	e, ok := fs.entries[path]
	if !ok {
		return Entry{}, newNotFoundError(path)
	}
	delete(fs.entries, path)
	if err := fs.alloc.reallocate(&e, uint64(len(content))); err != nil {
		fs.entries[path] = e
		return Entry{}, err
	}
	if len(content) > 0 {
		if err := fs.device.Write(e.Address, content); err != nil {
			fs.entries[path] = e
			return Entry{}, fmt.Errorf("packfs: write content: %w", err)
		}
	}
	fs.entries[path] = e
	if err := fs.save(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (fs *FileSystem) getContentEntry(e Entry) ([]byte, error) {
	buf := make([]byte, e.Size)
	if e.Size == 0 {
		return buf, nil
	}
	if err := fs.device.Read(e.Address, e.Size, buf); err != nil {
		return nil, fmt.Errorf("packfs: read content: %w", err)
	}
	return buf, nil
}

func (fs *FileSystem) readChildren(dir Entry) ([]string, error) {
	content, err := fs.getContentEntry(dir)
	if err != nil {
		return nil, err
	}
	return decodeChildren(content), nil
}

func (fs *FileSystem) writeChildren(dirPath string, children []string) error {
	if len(children) > MaxDirectorySize {
		return newDirectoryFullError(dirPath)
	}
	_, err := fs.setContentEntry(dirPath, encodeChildren(children))
	return err
}

// addChildToDirectory links name into dirPath's child list.
func (fs *FileSystem) addChildToDirectory(dirPath, name string) error {
	dir, ok := fs.entries[dirPath]
	if !ok {
		return newNotFoundError(dirPath)
	}
	if dir.Kind != EntryDirectory {
		return newNotADirectoryError(dirPath)
	}
	if !isValidChildName(name) {
		return newInvalidPathError(name)
	}
	children, err := fs.readChildren(dir)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c == name {
			return newAlreadyExistsError(addCurrentDir(name, dirPath))
		}
	}
	if len(children) >= MaxDirectorySize {
		return newDirectoryFullError(dirPath)
	}
	children = append(children, name)
	return fs.writeChildren(dirPath, children)
}

// removeChildFromDirectory unlinks name from dirPath's child list.
// Missing parent is tolerated only when dirPath is "/", per spec §4.5.8's
// note that a root remove's final unlink step has nowhere to go.
func (fs *FileSystem) removeChildFromDirectory(dirPath, name string) error {
	dir, ok := fs.entries[dirPath]
	if !ok {
		if dirPath == "/" {
			return nil
		}
		return newNotFoundError(dirPath)
	}
	if dir.Kind != EntryDirectory {
		return newNotADirectoryError(dirPath)
	}
	children, err := fs.readChildren(dir)
	if err != nil {
		return err
	}
	idx := -1
	for i, c := range children {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return newNotFoundError(addCurrentDir(name, dirPath))
	}
	children = append(children[:idx], children[idx+1:]...)
	return fs.writeChildren(dirPath, children)
}

func (fs *FileSystem) createEntry(path string, kind EntryKind) (Entry, error) {
	if !validPath(path) {
		return Entry{}, newInvalidPathError(path)
	}
	if len(path) > MaxPathLength {
		return Entry{}, newMaxPathLengthError(path)
	}
	if _, ok := fs.entries[path]; ok {
		return Entry{}, newAlreadyExistsError(path)
	}

	dir, base := splitPath(path)
	if err := fs.addChildToDirectory(dir, base); err != nil {
		return Entry{}, err
	}

	entry := Entry{Path: path, Kind: kind, Size: 0}
	created, err := fs.addTableEntry(entry)
	if err != nil {
		_ = fs.removeChildFromDirectory(dir, base)
		return Entry{}, err
	}
	return created, nil
}

// CreateFile creates an empty file at path.
func (fs *FileSystem) CreateFile(path string) (Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.createEntry(path, EntryFile)
}

// CreateDirectory creates an empty directory at path.
func (fs *FileSystem) CreateDirectory(path string) (Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.createEntry(path, EntryDirectory)
}

// SetContent replaces the content of the file at path, reallocating its
// extent if the new size differs from the old. Fails with *NotAFileError
// if path names a directory: directory content is internal bookkeeping,
// per spec §9's Open Question resolution.
func (fs *FileSystem) SetContent(path string, content []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[path]
	if !ok {
		return newNotFoundError(path)
	}
	if e.Kind != EntryFile {
		return newNotAFileError(path)
	}
	_, err := fs.setContentEntry(path, content)
	return err
}

// GetContent returns the full content of the file or directory at path.
func (fs *FileSystem) GetContent(path string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[path]
	if !ok {
		return nil, newNotFoundError(path)
	}
	return fs.getContentEntry(e)
}

// Remove deletes the entry at path, recursively removing a directory's
// children first. The root directory itself is never deleted; removing
// "/" only clears its children.
func (fs *FileSystem) Remove(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.remove(path)
}

func (fs *FileSystem) remove(path string) error {
	e, ok := fs.entries[path]
	if !ok {
		return newNotFoundError(path)
	}

	if e.Kind == EntryDirectory {
		children, err := fs.readChildren(e)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := fs.remove(addCurrentDir(child, path)); err != nil {
				return err
			}
		}
	}

	if path == "/" {
		return nil
	}
	if err := fs.removeTableEntry(path); err != nil {
		return err
	}

	dir, base := splitPath(path)
	return fs.removeChildFromDirectory(dir, base)
}

// Move renames src to dst. Only path strings and directory listings
// change; the data region is untouched.
func (fs *FileSystem) Move(src, dst string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, ok := fs.entries[src]
	if !ok {
		return newNotFoundError(src)
	}
	if _, ok := fs.entries[dst]; ok {
		return newAlreadyExistsError(dst)
	}
	if src == "/" || dst == "/" {
		return ErrForbiddenRootOp
	}
	if strings.HasPrefix(dst, src+"/") {
		return newRecursiveMoveError(src, dst)
	}
	if len(dst) > MaxPathLength {
		return newMaxPathLengthError(dst)
	}

	return fs.move(e, src, dst)
}

// move unlinks src from its parent's child list, rewrites the Path of e and
// (for a directory) every descendant of e, then links dst into its new
// parent's child list. Only the top-level moved node's parent directory is
// ever unlinked/relinked: original_source/src/myfs.cpp's MyFs::move
// recurses into children first and renames each one via the same
// addFileToDirectory/removeFileFromDirectory pair used for the top-level
// move, but a descendant's "parent" is the very directory being renamed out
// from under it, so that lookup fails for anything nested more than one
// level deep. renameTree instead only ever touches Path fields for
// descendants, leaving move(a, b); move(b, a) idempotent on nested trees.
func (fs *FileSystem) move(e Entry, src, dst string) error {
	srcDir, srcBase := splitPath(src)
	if err := fs.removeChildFromDirectory(srcDir, srcBase); err != nil {
		return err
	}

	if err := fs.renameTree(e, src, dst); err != nil {
		return err
	}
	if err := fs.save(); err != nil {
		return err
	}

	dstDir, dstBase := splitPath(dst)
	return fs.addChildToDirectory(dstDir, dstBase)
}

// renameTree rewrites e's Path from src to dst and, for a directory,
// recursively does the same for every descendant, found by walking the
// child list read-only (never unlinking or relinking it: a move does not
// change which basenames belong to which parent, only the path prefix they
// hang off of).
func (fs *FileSystem) renameTree(e Entry, src, dst string) error {
	delete(fs.entries, src)
	e.Path = dst
	fs.entries[dst] = e

	if e.Kind != EntryDirectory {
		return nil
	}
	children, err := fs.readChildren(e)
	if err != nil {
		return err
	}
	for _, child := range children {
		childSrc := addCurrentDir(child, src)
		childEntry, ok := fs.entries[childSrc]
		if !ok {
			continue
		}
		if err := fs.renameTree(childEntry, childSrc, addCurrentDir(child, dst)); err != nil {
			return err
		}
	}
	return nil
}

// Copy creates an independent copy of src at dst; modifying src afterward
// does not affect dst.
func (fs *FileSystem) Copy(src, dst string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, ok := fs.entries[src]
	if !ok {
		return newNotFoundError(src)
	}
	if _, ok := fs.entries[dst]; ok {
		return newAlreadyExistsError(dst)
	}
	if src == "/" || strings.HasPrefix(dst, src+"/") {
		return newRecursiveCopyError(src, dst)
	}

	return fs.copy(e, src, dst)
}

func (fs *FileSystem) copy(e Entry, src, dst string) error {
	switch e.Kind {
	case EntryFile:
		if _, err := fs.createEntry(dst, EntryFile); err != nil {
			return err
		}
		content, err := fs.getContentEntry(e)
		if err != nil {
			return err
		}
		_, err = fs.setContentEntry(dst, content)
		return err
	case EntryDirectory:
		if _, err := fs.createEntry(dst, EntryDirectory); err != nil {
			return err
		}
		children, err := fs.readChildren(e)
		if err != nil {
			return err
		}
		for _, child := range children {
			childEntry, ok := fs.entries[addCurrentDir(child, src)]
			if !ok {
				continue
			}
			if err := fs.copy(childEntry, addCurrentDir(child, src), addCurrentDir(child, dst)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("packfs: unknown entry kind %v", e.Kind)
	}
}

// ListDir returns the resolved entries of path's children, in directory
// listing order.
func (fs *FileSystem) ListDir(path string) ([]Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, ok := fs.entries[path]
	if !ok {
		return nil, newNotFoundError(path)
	}
	if dir.Kind != EntryDirectory {
		return nil, newNotADirectoryError(path)
	}
	children, err := fs.readChildren(dir)
	if err != nil {
		return nil, err
	}
	result := make([]Entry, 0, len(children))
	for _, child := range children {
		if e, ok := fs.entries[addCurrentDir(child, path)]; ok {
			result = append(result, e)
		}
	}
	return result, nil
}

// ListTree returns every entry in path order.
func (fs *FileSystem) ListTree() []Entry {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.sortedEntries()
}

// Defrag compacts the data region, relocating every live extent to its low
// end, and persists the resulting addresses.
func (fs *FileSystem) Defrag() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	defragged, err := fs.alloc.defrag(fs.sortedEntries(), fs.device)
	if err != nil {
		return err
	}
	fs.entries = make(map[string]Entry, len(defragged))
	for _, e := range defragged {
		fs.entries[e.Path] = e
	}
	return fs.save()
}

// Close attempts a final best-effort save and releases the underlying
// device's lock. Errors are returned, not swallowed, unlike the C++
// destructor this behavior is modeled on: Go has no implicit destructors,
// so callers that want "best effort, ignore failure" can do so explicitly.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	saveErr := fs.save()
	fs.mu.Unlock()

	closeErr := fs.device.Close()
	if saveErr != nil {
		return saveErr
	}
	return closeErr
}
