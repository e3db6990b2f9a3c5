package fat

import "github.com/soypat/fatfs/internal/cache"

// SectorSize is the fixed block size of every BlockDevice this package
// consumes.
const SectorSize = cache.SectorSize

// BlockDevice is the only lower interface the core consumes: an
// addressable, fixed-sector-size store reachable one partial-sector
// transfer at a time. Implementations may be an SD card over SPI, a RAM
// disk, or (in tests) a plain byte slice.
type BlockDevice interface {
	// Init prepares the underlying hardware for use.
	Init(args any) error
	// Eject finalizes the hardware, e.g. idling an SPI bus.
	Eject(args any) error
	// ReadBlock reads up to length bytes starting at offset within sector,
	// never crossing into the next sector, and returns bytes actually read.
	ReadBlock(dst []byte, sector uint32, offset, length int) (int, error)
	// WriteBlock is the symmetric write.
	WriteBlock(src []byte, sector uint32, offset, length int) (int, error)
}

// cacheDevice adapts a BlockDevice to the internal/cache.Device interface;
// the two are structurally identical but kept as distinct named interfaces
// so the cache package has no import-time dependency on this one.
type cacheDevice struct {
	BlockDevice
}
