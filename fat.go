// Package fat implements a read/write FAT32 file system over a sector
// cache backed by an MBR-partitioned BlockDevice. The file system never
// touches the block device directly: every sector access is mediated by
// the internal/cache package, which owns clock replacement and pinning of
// the boot sector.
package fat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soypat/fatfs/internal/cache"
	"github.com/soypat/fatfs/internal/mbr"
)

// slogLevelTrace is below slog.LevelDebug; enable it for byte-level sector
// and FAT-entry tracing during development.
const slogLevelTrace = slog.LevelDebug - 4

// FS is a single FAT32 file system instance: the sector cache, the parsed
// volume geometry, and the block device it was mounted over. There is no
// package-level state; everything needed by an operation hangs off an *FS.
type FS struct {
	dev   BlockDevice
	cache *cache.Cache
	log   *slog.Logger

	mounted bool

	// Volume geometry, all absolute LBAs unless noted otherwise.
	partStart  uint32 // start LBA of the mounted partition.
	bsLBA      uint32 // boot sector LBA, equal to partStart; kept pinned.
	fsInfoLBA  uint32
	bytsPerSec uint16
	secPerClus uint8
	rsvdSecCnt uint16
	numFATs    uint8
	fatSz      uint32 // sectors per FAT copy.
	rootClus   uint32
	fatBase    uint32 // LBA of FAT copy 0.
	dataBase   uint32 // LBA of cluster 2.
	maxCluster uint32 // PAR_Max_Cluster.
	totSec     uint32

	freeCount uint32
	nextFree  uint32
}

func (fs *FS) trace(msg string, args ...any) { fs.log.Log(context.Background(), slogLevelTrace, msg, args...) }
func (fs *FS) debug(msg string, args ...any) { fs.log.Debug(msg, args...) }
func (fs *FS) info(msg string, args ...any)  { fs.log.Info(msg, args...) }
func (fs *FS) warn(msg string, args ...any)  { fs.log.Warn(msg, args...) }

func (fs *FS) bytesPerCluster() uint32 {
	return uint32(fs.bytsPerSec) * uint32(fs.secPerClus)
}

// Mount opens partitionIndex (0..3) of dev as a FAT32 volume. If mode
// includes ModeReformat the partition is formatted first, using the first
// element of cfg if one is given (or FormatConfig's zero value otherwise).
// Mounting twice without an intervening Eject returns AlreadyInit.
func (fs *FS) Mount(dev BlockDevice, partitionIndex int, mode Mode, cfg ...FormatConfig) error {
	var fcfg FormatConfig
	if len(cfg) > 0 {
		fcfg = cfg[0]
	}
	if fs.mounted {
		return AlreadyInit
	}
	if fs.log == nil {
		fs.log = slog.Default()
	}
	if err := dev.Init(nil); err != nil {
		return wrap(HardwareFail, err)
	}
	c, err := cache.Init(cacheDevice{dev}, 8*SectorSize, SectorSize)
	if err != nil {
		return wrap(MemoryTableFail, err)
	}
	fs.dev = dev
	fs.cache = c

	mbrBuf, err := fs.cache.Load(0)
	if err != nil {
		return wrap(ReadFail, err)
	}
	bsec, err := mbr.ToBootSector(mbrBuf[:])
	if err != nil {
		return wrap(InvalidDevice, err)
	}
	if bsec.BootSignature() != mbrSignatureValue {
		return InvalidDevice
	}
	if partitionIndex < 0 || partitionIndex > 3 {
		return InvalidParameter
	}
	pte := bsec.PartitionTable(partitionIndex)
	reformat := mode&ModeReformat != 0
	if pte.NumberOfLBA() == 0 {
		return IncorrectFormat
	}
	if !reformat {
		switch pte.PartitionType() {
		case mbr.PartitionTypeFAT32CHS, mbr.PartitionTypeFAT32LBA:
		default:
			return IncorrectFormat
		}
	}

	fs.partStart = pte.StartLBA()
	fs.bsLBA = fs.partStart

	if reformat {
		if err := fs.formatVolume(pte.StartLBA(), pte.NumberOfLBA(), fcfg); err != nil {
			return err
		}
	}

	bsBuf, err := fs.cache.Pin(fs.bsLBA)
	if err != nil {
		return wrap(MemoryTableFail, err)
	}
	if err := fs.loadGeometry(bsBuf[:]); err != nil {
		return err
	}

	fsiBuf, err := fs.cache.Load(fs.fsInfoLBA)
	if err != nil {
		return wrap(ReadFail, err)
	}
	fsi, err := decodeFSInfo(fsiBuf[:])
	if err == nil && fsi.valid() {
		fs.freeCount = fsi.FreeCount
		fs.nextFree = fsi.NxtFree
	}

	fs.mounted = true
	fs.debug("mounted volume", "partition", partitionIndex, "maxCluster", fs.maxCluster)
	return nil
}

// loadGeometry parses the BIOS Parameter Block fields needed for FAT
// arithmetic and directory traversal out of the pinned boot sector frame.
func (fs *FS) loadGeometry(raw []byte) error {
	bs, err := decodeBootSector(raw)
	if err != nil {
		return wrap(InvalidDevice, err)
	}
	if bs.BytsPerSec != SectorSize {
		return IncorrectFormat
	}
	fs.bytsPerSec = bs.BytsPerSec
	fs.secPerClus = bs.SecPerClus
	fs.rsvdSecCnt = bs.RsvdSecCnt
	fs.numFATs = bs.NumFATs
	fs.fatSz = bs.FATSz32
	fs.rootClus = bs.RootClus32
	fs.totSec = bs.TotSec32
	fs.fatBase = fs.partStart + uint32(fs.rsvdSecCnt)
	fs.dataBase = fs.fatBase + uint32(fs.numFATs)*fs.fatSz
	fs.fsInfoLBA = fs.partStart + uint32(bs.FSInfo32)
	if fs.secPerClus == 0 {
		return IncorrectFormat
	}
	fs.maxCluster = (fs.totSec - uint32(fs.numFATs)*fs.fatSz - uint32(fs.rsvdSecCnt)) / uint32(fs.secPerClus)
	return nil
}

// Eject flushes the cache and finalizes the block device. Both failures
// are reported; the cache is flushed first so a device eject failure does
// not lose buffered writes.
func (fs *FS) Eject() error {
	if !fs.mounted {
		return Fail
	}
	fs.syncFSInfo()
	if err := fs.cache.Flush(); err != nil {
		return wrap(WriteFail, err)
	}
	if err := fs.dev.Eject(nil); err != nil {
		return wrap(HardwareFail, err)
	}
	fs.mounted = false
	return nil
}

func (fs *FS) syncFSInfo() {
	buf, err := fs.cache.Load(fs.fsInfoLBA)
	if err != nil {
		fs.warn("fsinfo sync load failed", "err", err)
		return
	}
	putU32(buf[fsiFreeCountOff:], fs.freeCount)
	putU32(buf[fsiNxtFreeOff:], fs.nextFree)
	fs.cache.Write(buf[fsiFreeCountOff:fsiFreeCountOff+4], fs.fsInfoLBA, fsiFreeCountOff, 4)
	fs.cache.Write(buf[fsiNxtFreeOff:fsiNxtFreeOff+4], fs.fsInfoLBA, fsiNxtFreeOff, 4)
}

// --- FAT arithmetic (spec §4.3) ---

// fatSectorOffset returns the absolute LBA of FAT copy fatIndex holding
// cluster's entry, and the byte offset within that sector.
func (fs *FS) fatSectorOffset(fatIndex int, cluster uint32) (uint32, int) {
	byteOff := cluster * fatEntrySize
	sector := fs.fatBase + uint32(fatIndex)*fs.fatSz + byteOff/uint32(fs.bytsPerSec)
	offset := int(byteOff % uint32(fs.bytsPerSec))
	return sector, offset
}

// fatEntry reads cluster's FAT entry (low 28 bits) from FAT copy 0.
func (fs *FS) fatEntry(cluster uint32) (uint32, error) {
	if cluster < 2 || cluster > fs.maxCluster {
		return 0, InvalidParameter
	}
	sector, off := fs.fatSectorOffset(0, cluster)
	var buf [4]byte
	if _, err := fs.cache.Read(buf[:], sector, off, 4); err != nil {
		return 0, wrap(ReadFail, err)
	}
	return getU32(buf[:]) & fatEntryMask, nil
}

// fatUpdate writes value into cluster's FAT entry across every FAT copy,
// preserving the top 4 reserved bits of each copy's existing entry.
func (fs *FS) fatUpdate(cluster, value uint32) error {
	if cluster < 2 || cluster > fs.maxCluster {
		return InvalidParameter
	}
	for i := 0; i < int(fs.numFATs); i++ {
		sector, off := fs.fatSectorOffset(i, cluster)
		var buf [4]byte
		if _, err := fs.cache.Read(buf[:], sector, off, 4); err != nil {
			return wrap(ReadFail, err)
		}
		existing := getU32(buf[:])
		merged := (existing &^ fatEntryMask) | (value & fatEntryMask)
		putU32(buf[:], merged)
		if _, err := fs.cache.Write(buf[:], sector, off, 4); err != nil {
			return wrap(WriteFail, err)
		}
	}
	return nil
}

// sectorOf returns the first LBA of cluster's data region.
func (fs *FS) sectorOf(cluster uint32) uint32 {
	return fs.dataBase + (cluster-2)*uint32(fs.secPerClus)
}

// allocate links from (if non-zero, and only if it currently points to
// EOC) to a free cluster found via the next-free hint, and returns the
// newly allocated cluster. It returns 0 on failure (no free clusters, or
// from does not point to EOC).
func (fs *FS) allocate(from uint32) (uint32, error) {
	if from != 0 {
		entry, err := fs.fatEntry(from)
		if err != nil {
			return 0, err
		}
		if entry < fatEOC {
			return 0, nil
		}
	}
	if fs.freeCount == 0 {
		return 0, nil
	}
	newClust := fs.nextFree
	if newClust < 2 || newClust > fs.maxCluster {
		found, err := fs.scanFreeCluster(2)
		if err != nil {
			return 0, err
		}
		if found == 0 {
			return 0, nil
		}
		newClust = found
	}

	if from != 0 {
		if err := fs.fatUpdate(from, newClust); err != nil {
			return 0, err
		}
	}
	if err := fs.fatUpdate(newClust, fatEOC); err != nil {
		return 0, err
	}
	fs.freeCount--

	next, err := fs.scanFreeCluster(newClust + 1)
	if err != nil {
		return 0, err
	}
	fs.nextFree = next
	return newClust, nil
}

// scanFreeCluster performs the linear scan allocate's hint advance needs:
// starting at start, wrapping at maxCluster back to 2, until an entry
// reading as FAT_FREE is found. Returns 0 if the whole table is scanned
// without finding one (should not happen while freeCount > 0).
func (fs *FS) scanFreeCluster(start uint32) (uint32, error) {
	if start > fs.maxCluster {
		start = 2
	}
	c := start
	for i := uint32(0); i < fs.maxCluster-1; i++ {
		entry, err := fs.fatEntry(c)
		if err != nil {
			return 0, err
		}
		if entry == fatFree {
			return c, nil
		}
		c++
		if c > fs.maxCluster {
			c = 2
		}
	}
	return 0, nil
}

// freeChain walks head's next-pointers, marking each cluster FAT_FREE and
// incrementing the free-cluster count, stopping at EOC.
func (fs *FS) freeChain(head uint32) error {
	cluster := head
	for cluster != 0 && cluster < fatEOC {
		next, err := fs.fatEntry(cluster)
		if err != nil {
			return err
		}
		if err := fs.fatUpdate(cluster, fatFree); err != nil {
			return err
		}
		fs.freeCount++
		cluster = next
	}
	return nil
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func (fs *FS) String() string {
	return fmt.Sprintf("fat32 volume at LBA %d, %d free of %d clusters", fs.partStart, fs.freeCount, fs.maxCluster-1)
}
