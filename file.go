package fat

import (
	"io"
	"strings"
	"time"
)

// clusterIO translates a (cluster, byte-offset-within-cluster, length)
// request into sector-cache Read/Write calls. It never crosses a cluster
// boundary: callers are responsible for chunking across clusters (§4.6).
func (fs *FS) clusterIO(cluster uint32, clusterOff int, buf []byte, write bool) error {
	base := fs.sectorOf(cluster)
	secSize := int(fs.bytsPerSec)
	secIdx := clusterOff / secSize
	secOff := clusterOff % secSize
	remaining := len(buf)
	total := 0
	for remaining > 0 {
		n := remaining
		if avail := secSize - secOff; n > avail {
			n = avail
		}
		sector := base + uint32(secIdx)
		var err error
		if write {
			_, err = fs.cache.Write(buf[total:total+n], sector, secOff, n)
		} else {
			_, err = fs.cache.Read(buf[total:total+n], sector, secOff, n)
		}
		if err != nil {
			if write {
				return wrap(WriteFail, err)
			}
			return wrap(ReadFail, err)
		}
		total += n
		remaining -= n
		secOff = 0
		secIdx++
	}
	return nil
}

// readFile implements §4.5 read(): walk to the starting cluster, then copy
// bytes cluster by cluster until len is satisfied, size is reached, or the
// chain ends.
func (fs *FS) readFile(head uint32, size uint32, buf []byte, offset int64) (int, error) {
	if offset > int64(size) {
		return 0, nil
	}
	bpc := int64(fs.bytesPerCluster())
	clusterIdx := offset / bpc
	clusterOff := int(offset % bpc)

	cluster := head
	for i := int64(0); i < clusterIdx; i++ {
		if cluster == 0 {
			return 0, nil
		}
		next, err := fs.fatEntry(cluster)
		if err != nil {
			return 0, err
		}
		if next >= fatEOC {
			return 0, nil
		}
		cluster = next
	}

	total := 0
	remaining := len(buf)
	absOff := offset
	for remaining > 0 && cluster != 0 && cluster < fatEOC && absOff < int64(size) {
		n := remaining
		if avail := int(bpc) - clusterOff; n > avail {
			n = avail
		}
		if avail := int(int64(size) - absOff); n > avail {
			n = avail
		}
		if n <= 0 {
			break
		}
		if err := fs.clusterIO(cluster, clusterOff, buf[total:total+n], false); err != nil {
			return total, err
		}
		total += n
		remaining -= n
		absOff += int64(n)
		clusterOff = 0
		next, err := fs.fatEntry(cluster)
		if err != nil {
			return total, err
		}
		if next >= fatEOC {
			break
		}
		cluster = next
	}
	return total, nil
}

// writeFile implements §4.5 write(): walk to the starting cluster,
// extending the chain via allocate as writing crosses into unallocated
// territory, capped so the resulting offset never exceeds MAX_FILE_SIZE.
// It returns the bytes written and the file's first cluster (which may
// have just been allocated, if head was 0).
func (fs *FS) writeFile(head uint32, buf []byte, offset int64) (written int, newHead uint32, err error) {
	if offset > maxFileSize {
		return 0, head, nil
	}
	if head == 0 {
		nc, err := fs.allocate(0)
		if err != nil {
			return 0, 0, err
		}
		if nc == 0 {
			return 0, 0, wrap(Fail, nil)
		}
		head = nc
	}

	bpc := int64(fs.bytesPerCluster())
	clusterIdx := offset / bpc
	clusterOff := int(offset % bpc)

	cluster := head
	for i := int64(0); i < clusterIdx; i++ {
		next, err := fs.fatEntry(cluster)
		if err != nil {
			return 0, head, err
		}
		if next >= fatEOC {
			nc, err := fs.allocate(cluster)
			if err != nil {
				return 0, head, err
			}
			if nc == 0 {
				return 0, head, nil
			}
			next = nc
		}
		cluster = next
	}

	remaining := len(buf)
	maxLen := int64(maxFileSize) - offset
	if int64(remaining) > maxLen {
		remaining = int(maxLen)
	}

	total := 0
	for remaining > 0 {
		n := remaining
		if avail := int(bpc) - clusterOff; n > avail {
			n = avail
		}
		if err := fs.clusterIO(cluster, clusterOff, buf[total:total+n], true); err != nil {
			return total, head, err
		}
		total += n
		remaining -= n
		clusterOff = 0
		if remaining > 0 {
			next, err := fs.fatEntry(cluster)
			if err != nil {
				return total, head, err
			}
			if next >= fatEOC {
				nc, err := fs.allocate(cluster)
				if err != nil {
					return total, head, err
				}
				if nc == 0 {
					break
				}
				next = nc
			}
			cluster = next
		}
	}
	return total, head, nil
}

func (fs *FS) writeShortBack(res dirResult) error {
	var raw [sizeDirEntry]byte
	copy(raw[dirNameOff:dirNameOff+dirNameLen], res.short.name[:])
	raw[dirAttrOff] = res.short.attr
	putU16(raw[dirCrtTimeOff:], res.short.crtTime)
	putU16(raw[dirCrtDateOff:], res.short.crtDate)
	putU16(raw[dirLstAccDateOff:], res.short.crtDate)
	putU16(raw[dirFstClusHIOff:], res.short.fstClusHI)
	putU16(raw[dirWrtTimeOff:], res.short.wrtTime)
	putU16(raw[dirWrtDateOff:], res.short.wrtDate)
	putU16(raw[dirFstClusLOOff:], res.short.fstClusLO)
	putU32(raw[dirFileSizeOff:], res.short.fileSize)
	if _, err := fs.cache.Write(raw[:], res.sector, res.secOffset, sizeDirEntry); err != nil {
		return wrap(WriteFail, err)
	}
	return nil
}

// restampLongChecksums rewrites the checksum field of every Long entry
// immediately preceding res's Short entry, after a rename changes the
// Short name (and therefore its checksum).
func (fs *FS) restampLongChecksums(parentCluster uint32, res dirResult) error {
	chk := checksum(res.short.name)
	backOffset := res.dirOffset
	for backOffset >= sizeDirEntry {
		backOffset -= sizeDirEntry
		sector, secOff, err := fs.seekOffset(parentCluster, backOffset)
		if err != nil {
			break
		}
		var attrB [1]byte
		if _, err := fs.cache.Read(attrB[:], sector, secOff+dirAttrOff, 1); err != nil {
			return wrap(ReadFail, err)
		}
		if attrB[0] != attrLongName {
			break
		}
		if _, err := fs.cache.Write([]byte{chk}, sector, secOff+ldirChksumOff, 1); err != nil {
			return wrap(WriteFail, err)
		}
	}
	return nil
}

// resolvePath splits a "/"-separated path into the cluster of its parent
// directory (walking intermediate segments, which must already exist and
// be directories) and the final path segment's name.
func (fs *FS) resolvePath(path string) (parent uint32, name string, err error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return 0, "", InvalidParameter
	}
	segments := strings.Split(path, "/")
	cluster := fs.rootClus
	for _, seg := range segments[:len(segments)-1] {
		res, err := fs.searchDir(cluster, seg)
		if err != nil {
			return 0, "", err
		}
		if res.short.attr&attrDirectory == 0 {
			return 0, "", InvalidParameter
		}
		cluster = res.short.firstCluster()
	}
	return cluster, segments[len(segments)-1], nil
}

// File is an open handle to a regular file: a copy of its Short directory
// entry plus enough context to flush changes back to their stored offset
// on Close. It does not hold a live pointer into the cache.
type File struct {
	fs            *FS
	parentCluster uint32 // non-owning reference to the parent directory.
	res           dirResult
	name          string // name this handle was opened or created with.
	mode          Mode
	fptr          int64
	dirty         bool
	closed        bool
}

// Mode reports the mode the file was opened with.
func (f *File) Mode() Mode { return f.mode }

// Read implements io.Reader, advancing the file's cursor.
func (f *File) Read(p []byte) (int, error) {
	if f.mode&ModeRead == 0 {
		return 0, wrap(InvalidParameter, nil)
	}
	if f.fptr >= int64(f.res.short.fileSize) {
		return 0, io.EOF
	}
	n, err := f.fs.readFile(f.res.short.firstCluster(), f.res.short.fileSize, p, f.fptr)
	f.fptr += int64(n)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer, advancing the file's cursor and growing
// DIR_FileSize if the write extends past the current size (§8 property 6:
// size becomes max(old_size, offset+k), never larger).
func (f *File) Write(p []byte) (int, error) {
	if f.mode&ModeWrite == 0 {
		return 0, wrap(InvalidParameter, nil)
	}
	head := f.res.short.firstCluster()
	n, newHead, err := f.fs.writeFile(head, p, f.fptr)
	if newHead != head {
		f.res.short.fstClusHI = uint16(newHead >> 16)
		f.res.short.fstClusLO = uint16(newHead)
	}
	end := f.fptr + int64(n)
	if end > int64(f.res.short.fileSize) {
		f.res.short.fileSize = uint32(end)
	}
	f.fptr += int64(n)
	if n > 0 {
		f.dirty = true
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

// Sync flushes the file handle's Short entry to its stored directory
// offset without closing it.
func (f *File) Sync() error {
	if !f.dirty {
		return nil
	}
	if err := f.fs.writeShortBack(f.res); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// Close implements §4.7: equivalent to ChangeAttributes with no changes.
// Calling Close twice on an unchanged handle is a no-op (§8 property 7).
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	if err := f.Sync(); err != nil {
		return err
	}
	f.closed = true
	return nil
}

// ChangeAttributes implements §4.6. ATTR_DIRECTORY may never be toggled;
// an invalid calendar time yields InvalidTime; a name collision (checked
// via directory search) yields InvalidParameter.
func (f *File) ChangeAttributes(flags byte, t *time.Time, newName *string) error {
	if (flags^f.res.short.attr)&attrDirectory != 0 {
		return InvalidParameter
	}
	if t != nil {
		if !validCalendarTime(*t) {
			return InvalidTime
		}
		dt := newDatetime(*t)
		f.res.short.wrtTime, f.res.short.wrtDate = dt.time, dt.date
	}
	f.res.short.attr = flags

	if newName != nil && *newName != f.currentName() {
		if _, err := f.fs.searchDir(f.parentCluster, *newName); err == nil {
			return InvalidParameter
		} else if err != NotFound {
			return err
		}
		oldHead := f.res.short.firstCluster()
		oldSize := f.res.short.fileSize
		oldAttr := f.res.short.attr
		oldWrtTime, oldWrtDate := f.res.short.wrtTime, f.res.short.wrtDate

		// removeDirEntry, not removeDir: rename must preserve oldHead's FAT
		// chain (§4.6), so only the directory slots are freed here.
		if _, err := f.fs.removeDirEntry(f.parentCluster, f.currentName()); err != nil {
			return err
		}
		res, err := f.fs.createDir(f.parentCluster, *newName, oldAttr, time.Time{})
		if err != nil {
			return err
		}
		res.short.fstClusHI = uint16(oldHead >> 16)
		res.short.fstClusLO = uint16(oldHead)
		res.short.fileSize = oldSize
		res.short.wrtTime, res.short.wrtDate = oldWrtTime, oldWrtDate
		f.res = res
		f.name = *newName
		f.dirty = true
		return f.fs.writeShortBack(f.res)
	}

	f.dirty = true
	return nil
}

func (f *File) currentName() string {
	// The stub Short name is not a faithful copy of the original; the
	// handle's own bookkeeping is the source of truth for the name it was
	// opened or created with. See OpenFile, which stashes the resolved
	// name on the File it returns.
	return f.name
}
