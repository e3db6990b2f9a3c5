package fat

import (
	"encoding/binary"
	"time"

	"github.com/soypat/fatfs/internal/utf16x"
)

// Mode controls how OpenFile resolves and creates a path, and which
// operations a resulting File permits.
type Mode uint16

const (
	ModeRead Mode = 1 << iota
	ModeWrite
	// ModeCreateNew creates the file, failing if it already exists.
	ModeCreateNew
	// ModeCreateAlways creates the file, truncating it if it already exists.
	ModeCreateAlways
	// ModeOpenAppend seeks to the end of an existing file after opening.
	ModeOpenAppend
	// ModeReformat, passed to Mount, formats the target partition before
	// mounting it.
	ModeReformat

	// ModeOpenExisting is the zero value: open an existing path, failing
	// with NotFound if it is absent. Named for symmetry with
	// ModeCreateNew/ModeCreateAlways; OR-ing it into a mode is a no-op.
	ModeOpenExisting Mode = 0
)

// ModeRW opens a file for both reading and writing.
const ModeRW = ModeRead | ModeWrite

// OpenFile resolves path (a "/"-separated sequence of directory entries
// rooted at the volume root) according to mode, optionally creating it,
// and populates f with the resulting handle.
func (fs *FS) OpenFile(f *File, path string, mode Mode) error {
	if !fs.mounted {
		return Fail
	}
	parentCluster, name, err := fs.resolvePath(path)
	if err != nil {
		return err
	}
	res, serr := fs.searchDir(parentCluster, name)
	exists := serr == nil
	if serr != nil && serr != NotFound {
		return serr
	}

	switch {
	case mode&ModeCreateNew != 0:
		if exists {
			return InvalidParameter
		}
		res, err = fs.createDir(parentCluster, name, attrArchive, time.Time{})
		if err != nil {
			return err
		}
	case mode&ModeCreateAlways != 0:
		if exists {
			if cl := res.short.firstCluster(); cl != 0 {
				if err := fs.freeChain(cl); err != nil {
					return err
				}
			}
			res.short.fstClusHI, res.short.fstClusLO, res.short.fileSize = 0, 0, 0
			if err := fs.writeShortBack(res); err != nil {
				return err
			}
		} else {
			res, err = fs.createDir(parentCluster, name, attrArchive, time.Time{})
			if err != nil {
				return err
			}
		}
	default:
		if !exists {
			return NotFound
		}
	}

	*f = File{
		fs:            fs,
		parentCluster: parentCluster,
		res:           res,
		name:          name,
		mode:          mode,
	}
	if mode&ModeOpenAppend != 0 {
		f.fptr = int64(res.short.fileSize)
	}
	return nil
}

// Mkdir creates a new, empty subdirectory at path.
func (fs *FS) Mkdir(path string) error {
	if !fs.mounted {
		return Fail
	}
	parentCluster, name, err := fs.resolvePath(path)
	if err != nil {
		return err
	}
	if _, err := fs.searchDir(parentCluster, name); err == nil {
		return InvalidParameter
	} else if err != NotFound {
		return err
	}
	_, err = fs.createDir(parentCluster, name, attrDirectory, time.Time{})
	return err
}

// Remove deletes the file or directory named by path. A directory is not
// checked for emptiness: only its own cluster chain is freed.
func (fs *FS) Remove(path string) error {
	if !fs.mounted {
		return Fail
	}
	parentCluster, name, err := fs.resolvePath(path)
	if err != nil {
		return err
	}
	return fs.removeDir(parentCluster, name)
}

// Dir is an open handle to a directory, usable to enumerate its entries.
type Dir struct {
	fs      *FS
	cluster uint32
}

// OpenDir resolves path as a directory and populates d with a handle to
// it. An empty path, or "/", names the volume root.
func (fs *FS) OpenDir(d *Dir, path string) error {
	if !fs.mounted {
		return Fail
	}
	cluster := fs.rootClus
	if path != "" && path != "/" {
		parentCluster, name, err := fs.resolvePath(path)
		if err != nil {
			return err
		}
		res, err := fs.searchDir(parentCluster, name)
		if err != nil {
			return err
		}
		if res.short.attr&attrDirectory == 0 {
			return InvalidParameter
		}
		cluster = res.short.firstCluster()
	}
	*d = Dir{fs: fs, cluster: cluster}
	return nil
}

// FileInfo describes one entry returned by Dir.ForEachFile.
type FileInfo struct {
	fsize   uint32
	fattrib byte
	name    string
	modTime time.Time
}

// Name returns the long name recovered from the entry's Long-entry
// chain, falling back to its Short 8.3 name if it has none.
func (fi *FileInfo) Name() string { return fi.name }

// Size returns the file's size in bytes. Directories report 0.
func (fi *FileInfo) Size() int64 { return int64(fi.fsize) }

// ModTime returns the entry's last-write timestamp.
func (fi *FileInfo) ModTime() time.Time { return fi.modTime }

// IsDir reports whether the entry is a subdirectory.
func (fi *FileInfo) IsDir() bool { return fi.fattrib&attrDirectory != 0 }

// ForEachFile walks every live entry in the directory, calling callback
// with its information in on-disk order. Iteration stops early if
// callback returns an error, which ForEachFile then returns unchanged.
func (d *Dir) ForEachFile(callback func(*FileInfo) error) error {
	cur := d.fs.newDirCursor(d.cluster)
	var pendingName []byte
	for {
		sector, secOff, _, ok, err := cur.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		var raw [sizeDirEntry]byte
		if _, err := d.fs.cache.Read(raw[:], sector, secOff, sizeDirEntry); err != nil {
			return wrap(ReadFail, err)
		}
		switch raw[0] {
		case restFreeEntry:
			return nil
		case freeEntry:
			pendingName = nil
			continue
		}
		if raw[dirAttrOff] == attrLongName {
			pendingName = prependLongFragment(pendingName, raw[:])
			continue
		}
		short := decodeShortEntryData(raw[:])
		if short.attr&attrVolumeID != 0 {
			pendingName = nil
			continue
		}
		name := string(pendingName)
		if name == "" {
			name = shortEntryDisplayName(short.name)
		}
		pendingName = nil
		fi := FileInfo{
			fsize:   short.fileSize,
			fattrib: short.attr,
			name:    name,
			modTime: datetime{date: short.wrtDate, time: short.wrtTime}.Time(),
		}
		if err := callback(&fi); err != nil {
			return err
		}
	}
}

// prependLongFragment decodes one Long entry's 13 UCS-2 characters and
// prepends them to the name accumulated so far: entries are stored from
// the highest fragment ordinal down to the lowest, so the chain is read
// back to front relative to the name it spells.
func prependLongFragment(acc []byte, raw []byte) []byte {
	var chunk [26]byte
	copy(chunk[0:10], raw[ldirName1Off:ldirName1Off+10])
	copy(chunk[10:22], raw[ldirName2Off:ldirName2Off+12])
	copy(chunk[22:26], raw[ldirName3Off:ldirName3Off+4])

	n := len(chunk)
	for i := 0; i+1 < len(chunk); i += 2 {
		if chunk[i] == 0 && chunk[i+1] == 0 {
			n = i
			break
		}
	}
	utf8buf := make([]byte, n*2)
	written, _ := utf16x.ToUTF8(utf8buf, chunk[:n], binary.LittleEndian)
	return append(append([]byte{}, utf8buf[:written]...), acc...)
}

func shortEntryDisplayName(name [11]byte) string {
	base := trimTrailingSpace(name[0:8])
	ext := trimTrailingSpace(name[8:11])
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func trimTrailingSpace(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}
