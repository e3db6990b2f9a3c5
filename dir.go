package fat

import (
	"encoding/binary"
	"time"

	"github.com/soypat/fatfs/internal/utf16x"
)

// shortEntryData is a decoded copy of a Short directory entry's fields.
type shortEntryData struct {
	name     [11]byte
	attr     byte
	crtDate  uint16
	crtTime  uint16
	wrtDate  uint16
	wrtTime  uint16
	fstClusHI uint16
	fstClusLO uint16
	fileSize uint32
}

func decodeShortEntryData(raw []byte) shortEntryData {
	var s shortEntryData
	copy(s.name[:], raw[dirNameOff:dirNameOff+dirNameLen])
	s.attr = raw[dirAttrOff]
	s.crtTime = getU16(raw[dirCrtTimeOff:])
	s.crtDate = getU16(raw[dirCrtDateOff:])
	s.fstClusHI = getU16(raw[dirFstClusHIOff:])
	s.wrtTime = getU16(raw[dirWrtTimeOff:])
	s.wrtDate = getU16(raw[dirWrtDateOff:])
	s.fstClusLO = getU16(raw[dirFstClusLOOff:])
	s.fileSize = getU32(raw[dirFileSizeOff:])
	return s
}

// firstCluster reassembles the 32-bit cluster number from its split
// high/low 16-bit halves using an explicit uint32 accumulator, per the
// numeric bit packing design note: (HI as u32) << 16 | (LO as u32).
func (s shortEntryData) firstCluster() uint32 {
	return uint32(s.fstClusHI)<<16 | uint32(s.fstClusLO)
}

func checksum(name [11]byte) byte {
	var sum byte
	for _, b := range name {
		sum = (sum>>1 | sum<<7) + b
	}
	return sum
}

func longEntryCount(nameLen int) int {
	return (nameLen + 12) / 13
}

// dirCursor walks 32-byte slots of a directory's cluster chain in order.
// When extend is true, hitting the end of the chain allocates and links a
// fresh cluster instead of signalling exhaustion; this is how directory
// creation grows a directory that has run out of free slots.
type dirCursor struct {
	fs      *FS
	cluster uint32
	secIdx  int
	slotOff int
	offset  uint32
	done    bool
	extend  bool
}

func (fs *FS) newDirCursor(firstCluster uint32) *dirCursor {
	return &dirCursor{fs: fs, cluster: firstCluster}
}

func (c *dirCursor) next() (sector uint32, secOff int, offset uint32, ok bool, err error) {
	if c.done {
		return 0, 0, 0, false, nil
	}
	sector = c.fs.sectorOf(c.cluster) + uint32(c.secIdx)
	secOff = c.slotOff
	offset = c.offset
	ok = true

	c.slotOff += sizeDirEntry
	c.offset += sizeDirEntry
	if c.slotOff >= SectorSize {
		c.slotOff = 0
		c.secIdx++
		if c.secIdx >= int(c.fs.secPerClus) {
			c.secIdx = 0
			var next uint32
			next, err = c.fs.fatEntry(c.cluster)
			if err != nil {
				return
			}
			if next >= fatEOC {
				if !c.extend {
					c.done = true
					return
				}
				var newClust uint32
				newClust, err = c.fs.allocate(c.cluster)
				if err != nil {
					return
				}
				if newClust == 0 {
					err = wrap(Fail, nil)
					return
				}
				if err = c.fs.zeroCluster(newClust); err != nil {
					return
				}
				c.cluster = newClust
			} else {
				c.cluster = next
			}
		}
	}
	return
}

func (fs *FS) zeroCluster(cluster uint32) error {
	var zero [SectorSize]byte
	base := fs.sectorOf(cluster)
	for i := 0; i < int(fs.secPerClus); i++ {
		if _, err := fs.cache.Write(zero[:], base+uint32(i), 0, SectorSize); err != nil {
			return wrap(WriteFail, err)
		}
	}
	return nil
}

// seekOffset returns the sector and in-sector byte offset of the slot at
// byteOffset within firstCluster's directory, by walking from the start.
func (fs *FS) seekOffset(firstCluster uint32, byteOffset uint32) (uint32, int, error) {
	cur := fs.newDirCursor(firstCluster)
	for {
		sector, secOff, offset, ok, err := cur.next()
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			return 0, 0, NotFound
		}
		if offset == byteOffset {
			return sector, secOff, nil
		}
	}
}

// specialShortName returns the literal 11-byte Short name used for "." and
// "..", and whether name was one of those two literals.
func specialShortName(name string) ([11]byte, bool) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	switch name {
	case ".":
		out[0] = '.'
		return out, true
	case "..":
		out[0], out[1] = '.', '.'
		return out, true
	}
	return out, false
}

// fitShort83 attempts to render name as a plain 8.3 short name: uppercase
// ASCII, at most 8 base characters, at most one '.', at most 3 extension
// characters. It returns ok=false if name cannot be represented exactly.
func fitShort83(name string) (out [11]byte, ok bool) {
	for i := range out {
		out[i] = ' '
	}
	base := name
	ext := ""
	if i := lastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return out, false
	}
	for i := 0; i < len(base); i++ {
		c := base[i]
		if c == '.' {
			return out, false
		}
		out[i] = upperASCII(c)
	}
	for i := 0; i < len(ext); i++ {
		out[8+i] = upperASCII(ext[i])
	}
	return out, true
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// shortNameStub derives a Short-entry name used to back a file that also
// carries Long entries. It need not be unique or reversible. searchDir also
// compares a searched name's 8.3 form against Short entries, so a name whose
// 8.3 form equals a stub resolves to the file behind that stub.
func shortNameStub(name string) [11]byte {
	if s, ok := fitShort83(name); ok {
		return s
	}
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	n := 0
	for i := 0; i < len(name) && n < 8; i++ {
		c := name[i]
		if c == '.' || c == ' ' {
			continue
		}
		out[n] = upperASCII(c)
		n++
	}
	if n == 0 {
		out[0] = '_'
	}
	return out
}

// encodeNameUTF16 renders an ASCII/UTF-8 name as little-endian UTF-16 code
// units, reusing the surrogate-aware codec kept from the long-entry
// encoding this format requires.
func encodeNameUTF16(name string) []byte {
	buf := make([]byte, 2*len(name))
	n, _ := utf16x.FromUTF8(buf, []byte(name), binary.LittleEndian)
	return buf[:n]
}

// longChunkMatches reports whether raw's three UCS-2 name runs equal the
// idx'th 13-character window of nameUTF16 (idx is 0-based, §4.4).
func longChunkMatches(raw []byte, nameUTF16 []byte, idx, nameLen int) bool {
	start := idx * 26
	want := make([]byte, 26)
	for i := range want {
		want[i] = 0xFF
	}
	if start < len(nameUTF16) {
		end := start + 26
		if end > len(nameUTF16) {
			end = len(nameUTF16)
		}
		n := copy(want, nameUTF16[start:end])
		if end == len(nameUTF16) && n < 26 {
			want[n], want[n+1] = 0, 0
		}
	}
	var got [26]byte
	copy(got[0:10], raw[ldirName1Off:ldirName1Off+10])
	copy(got[10:22], raw[ldirName2Off:ldirName2Off+12])
	copy(got[22:26], raw[ldirName3Off:ldirName3Off+4])
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// dirResult is the outcome of a directory search or creation: a copy of
// the Short entry and where it lives on disk.
type dirResult struct {
	short     shortEntryData
	sector    uint32
	secOffset int
	dirOffset uint32 // byte offset of the Short entry from directory start.
	nameLen   int
}

// searchDir implements the §4.4 scan-time name matcher against a
// caller-supplied ASCII name, starting at firstCluster's slot 0.
func (fs *FS) searchDir(firstCluster uint32, name string) (dirResult, error) {
	if len(name) == 0 || len(name) > 255 {
		return dirResult{}, InvalidParameter
	}
	special11, isSpecial := specialShortName(name)
	count := longEntryCount(len(name))
	nameUTF16 := encodeNameUTF16(name)

	atTop := true
	awaitingShort := false
	expectedOrd := count

	cur := fs.newDirCursor(firstCluster)
	for {
		sector, secOff, offset, ok, err := cur.next()
		if err != nil {
			return dirResult{}, err
		}
		if !ok {
			return dirResult{}, NotFound
		}
		var raw [sizeDirEntry]byte
		if _, err := fs.cache.Read(raw[:], sector, secOff, sizeDirEntry); err != nil {
			return dirResult{}, wrap(ReadFail, err)
		}

		switch raw[0] {
		case restFreeEntry:
			return dirResult{}, NotFound
		case freeEntry:
			atTop, awaitingShort, expectedOrd = true, false, count
			continue
		}

		isLong := raw[dirAttrOff] == attrLongName

		if awaitingShort {
			awaitingShort = false
			if !isLong {
				return dirResult{
					short:     decodeShortEntryData(raw[:]),
					sector:    sector,
					secOffset: secOff,
					dirOffset: offset,
					nameLen:   len(name),
				}, nil
			}
			atTop = true
		}

		if atTop {
			if !isLong {
				if !isSpecial {
					if s, ok := fitShort83(name); ok && s == [11]byte(raw[:11]) {
						return dirResult{
							short:     decodeShortEntryData(raw[:]),
							sector:    sector,
							secOffset: secOff,
							dirOffset: offset,
							nameLen:   len(name),
						}, nil
					}
				} else if special11 == [11]byte(raw[:11]) {
					return dirResult{
						short:     decodeShortEntryData(raw[:]),
						sector:    sector,
						secOffset: secOff,
						dirOffset: offset,
						nameLen:   len(name),
					}, nil
				}
				continue
			}
			ord := raw[ldirOrdOff]
			isLast := ord&lastLongEntry != 0
			ordVal := int(ord & ordMask)
			if count > 0 && isLast && ordVal == count && longChunkMatches(raw[:], nameUTF16, count-1, len(name)) {
				expectedOrd = count - 1
				if expectedOrd == 0 {
					awaitingShort = true
				} else {
					atTop = false
				}
			}
			continue
		}

		// Mid-chain: expect the next lower fragment, no LAST bit.
		ord := raw[ldirOrdOff]
		isLast := ord&lastLongEntry != 0
		ordVal := int(ord & ordMask)
		if isLong && !isLast && ordVal == expectedOrd && longChunkMatches(raw[:], nameUTF16, expectedOrd-1, len(name)) {
			expectedOrd--
			if expectedOrd == 0 {
				awaitingShort = true
				atTop = true
			}
			continue
		}
		atTop, awaitingShort, expectedOrd = true, false, count
	}
}

// createDir implements §4.4 create(): writes the Long-entry run and a
// Short entry for name into the directory rooted at firstCluster. If attr
// includes ATTR_DIRECTORY, it also allocates the new directory's first
// cluster and populates the synthetic "." and ".." entries; ".." points at
// firstCluster, or 0 if firstCluster is the root.
func (fs *FS) createDir(firstCluster uint32, name string, attr byte, t time.Time) (dirResult, error) {
	if len(name) == 0 || len(name) > 255 {
		return dirResult{}, InvalidParameter
	}
	count := longEntryCount(len(name))
	nameUTF16 := encodeNameUTF16(name)
	short11, isSpecial := specialShortName(name)
	if !isSpecial {
		short11 = shortNameStub(name)
	}

	cur := fs.newDirCursor(firstCluster)
	cur.extend = true

	var firstSector uint32
	var firstSecOff int
	for {
		sector, secOff, _, ok, err := cur.next()
		if err != nil {
			return dirResult{}, err
		}
		if !ok {
			return dirResult{}, wrap(Fail, nil)
		}
		var b [1]byte
		if _, err := fs.cache.Read(b[:], sector, secOff, 1); err != nil {
			return dirResult{}, wrap(ReadFail, err)
		}
		if b[0] == restFreeEntry {
			firstSector, firstSecOff = sector, secOff
			break
		}
	}

	type loc struct {
		sector uint32
		secOff int
	}
	longLocs := make([]loc, count)

	sector, secOff := firstSector, firstSecOff
	for i := 0; i < count; i++ {
		ord := byte(count - i)
		if i == 0 {
			ord |= lastLongEntry
		}
		chunkIdx := count - 1 - i

		var raw [sizeDirEntry]byte
		raw[ldirOrdOff] = ord
		raw[ldirAttrOff] = attrLongName
		raw[ldirTypeOff] = 0
		raw[ldirChksumOff] = 0
		putU16(raw[ldirFstClusLOOff:], 0)

		start := chunkIdx * 26
		var chunk [26]byte
		for j := range chunk {
			chunk[j] = 0xFF
		}
		if start < len(nameUTF16) {
			end := start + 26
			if end > len(nameUTF16) {
				end = len(nameUTF16)
			}
			n := copy(chunk[:], nameUTF16[start:end])
			if end == len(nameUTF16) && n+2 <= 26 {
				chunk[n], chunk[n+1] = 0, 0
			}
		}
		copy(raw[ldirName1Off:ldirName1Off+10], chunk[0:10])
		copy(raw[ldirName2Off:ldirName2Off+12], chunk[10:22])
		copy(raw[ldirName3Off:ldirName3Off+4], chunk[22:26])

		if _, err := fs.cache.Write(raw[:], sector, secOff, sizeDirEntry); err != nil {
			return dirResult{}, wrap(WriteFail, err)
		}
		longLocs[i] = loc{sector, secOff}

		if i < count-1 {
			s, so, _, ok, err := cur.next()
			if err != nil {
				return dirResult{}, err
			}
			if !ok {
				return dirResult{}, wrap(Fail, nil)
			}
			sector, secOff = s, so
		}
	}

	var shortSector uint32
	var shortSecOff int
	var shortOffset uint32
	if count > 0 {
		s, so, off, ok, err := cur.next()
		if err != nil {
			return dirResult{}, err
		}
		if !ok {
			return dirResult{}, wrap(Fail, nil)
		}
		shortSector, shortSecOff, shortOffset = s, so, off
	} else {
		shortSector, shortSecOff = firstSector, firstSecOff
	}

	dt := newDatetime(t)
	var sraw [sizeDirEntry]byte
	copy(sraw[dirNameOff:dirNameOff+dirNameLen], short11[:])
	sraw[dirAttrOff] = attr
	putU16(sraw[dirCrtTimeOff:], dt.time)
	putU16(sraw[dirCrtDateOff:], dt.date)
	putU16(sraw[dirLstAccDateOff:], dt.date)
	putU16(sraw[dirWrtTimeOff:], dt.time)
	putU16(sraw[dirWrtDateOff:], dt.date)
	putU16(sraw[dirFstClusHIOff:], 0)
	putU16(sraw[dirFstClusLOOff:], 0)
	putU32(sraw[dirFileSizeOff:], 0)

	if _, err := fs.cache.Write(sraw[:], shortSector, shortSecOff, sizeDirEntry); err != nil {
		return dirResult{}, wrap(WriteFail, err)
	}

	chk := checksum(short11)
	for _, l := range longLocs {
		if _, err := fs.cache.Write([]byte{chk}, l.sector, l.secOff+ldirChksumOff, 1); err != nil {
			return dirResult{}, wrap(WriteFail, err)
		}
	}

	if attr&attrDirectory != 0 {
		dirClus, err := fs.allocate(0)
		if err != nil {
			return dirResult{}, err
		}
		if dirClus == 0 {
			return dirResult{}, wrap(Fail, nil)
		}
		if err := fs.zeroCluster(dirClus); err != nil {
			return dirResult{}, err
		}
		dotdotClus := firstCluster
		if firstCluster == fs.rootClus {
			dotdotClus = 0
		}
		if err := fs.writeDotEntries(dirClus, dotdotClus, dt); err != nil {
			return dirResult{}, err
		}
		putU16(sraw[dirFstClusHIOff:], uint16(dirClus>>16))
		putU16(sraw[dirFstClusLOOff:], uint16(dirClus))
		if _, err := fs.cache.Write(sraw[:], shortSector, shortSecOff, sizeDirEntry); err != nil {
			return dirResult{}, wrap(WriteFail, err)
		}
	}

	result := dirResult{
		short:     decodeShortEntryData(sraw[:]),
		sector:    shortSector,
		secOffset: shortSecOff,
		dirOffset: shortOffset,
		nameLen:   len(name),
	}
	return result, nil
}

// writeDotEntries populates slots 0 and 1 of a freshly allocated, zeroed
// directory cluster with the synthetic "." (self) and ".." (parent, or 0
// if the parent is the root) Short entries §4.4 create() requires.
func (fs *FS) writeDotEntries(selfClus, parentClus uint32, dt datetime) error {
	write := func(slot int, name [11]byte, cluster uint32) error {
		var raw [sizeDirEntry]byte
		copy(raw[dirNameOff:dirNameOff+dirNameLen], name[:])
		raw[dirAttrOff] = attrDirectory
		putU16(raw[dirCrtTimeOff:], dt.time)
		putU16(raw[dirCrtDateOff:], dt.date)
		putU16(raw[dirLstAccDateOff:], dt.date)
		putU16(raw[dirWrtTimeOff:], dt.time)
		putU16(raw[dirWrtDateOff:], dt.date)
		putU16(raw[dirFstClusHIOff:], uint16(cluster>>16))
		putU16(raw[dirFstClusLOOff:], uint16(cluster))
		putU32(raw[dirFileSizeOff:], 0)
		sector := fs.sectorOf(selfClus)
		if _, err := fs.cache.Write(raw[:], sector, slot*sizeDirEntry, sizeDirEntry); err != nil {
			return wrap(WriteFail, err)
		}
		return nil
	}
	dot, _ := specialShortName(".")
	dotdot, _ := specialShortName("..")
	if err := write(0, dot, selfClus); err != nil {
		return err
	}
	return write(1, dotdot, parentClus)
}

// removeDirEntry frees name's Short entry and its preceding run of Long
// entries within firstCluster's directory, without touching the FAT chain
// the Short entry points at. It is the slot-only half of remove(), used by
// rename (§4.6), which must preserve the renamed file's first cluster.
// searchDir skips free slots, so a name with no live entry (including one
// already removed) returns NotFound.
func (fs *FS) removeDirEntry(firstCluster uint32, name string) (dirResult, error) {
	res, err := fs.searchDir(firstCluster, name)
	if err != nil {
		return dirResult{}, err
	}
	var head [1]byte
	if _, err := fs.cache.Read(head[:], res.sector, res.secOffset, 1); err != nil {
		return dirResult{}, wrap(ReadFail, err)
	}
	if head[0] == freeEntry {
		return dirResult{}, NotExist
	}

	if _, err := fs.cache.Write([]byte{freeEntry}, res.sector, res.secOffset, 1); err != nil {
		return dirResult{}, wrap(WriteFail, err)
	}

	backOffset := res.dirOffset
	for backOffset >= sizeDirEntry {
		backOffset -= sizeDirEntry
		sector, secOff, err := fs.seekOffset(firstCluster, backOffset)
		if err != nil {
			break
		}
		var attrB [1]byte
		if _, err := fs.cache.Read(attrB[:], sector, secOff+dirAttrOff, 1); err != nil {
			return dirResult{}, wrap(ReadFail, err)
		}
		if attrB[0] != attrLongName {
			break
		}
		if _, err := fs.cache.Write([]byte{freeEntry}, sector, secOff, 1); err != nil {
			return dirResult{}, wrap(WriteFail, err)
		}
	}
	return res, nil
}

// removeDir implements §4.4 remove(): frees the Short entry, walks
// backward freeing preceding Long entries, and frees the file's cluster
// chain if it has one. A name with no live entry (including one already
// removed) returns NotFound.
func (fs *FS) removeDir(firstCluster uint32, name string) error {
	res, err := fs.removeDirEntry(firstCluster, name)
	if err != nil {
		return err
	}
	if cl := res.short.firstCluster(); cl != 0 {
		if err := fs.freeChain(cl); err != nil {
			return err
		}
	}
	return nil
}
