// Package cache implements a fixed-size sector cache with clock (second-chance)
// replacement and frame pinning, sitting between a FAT file system and a
// block device. It is the in-RAM analog of a classic "memory table": a bounded
// number of sector-sized frames, each either free, resident-clean, or
// resident-dirty, evicted in clock order while skipping pinned frames.
package cache

import (
	"github.com/pkg/errors"
)

// SectorSize is the fixed block size this cache operates on.
const SectorSize = 512

// Device is the external capability the cache consumes. It never sees
// anything above sector granularity: offset/len addressing of bytes within
// a single sector is the cache's job, not the device's.
type Device interface {
	Init(args any) error
	Eject(args any) error
	ReadBlock(dst []byte, sector uint32, offset, length int) (int, error)
	WriteBlock(src []byte, sector uint32, offset, length int) (int, error)
}

// frame is one cache line: a resident copy of a device sector plus the
// metadata the clock algorithm and write-back logic need.
type frame struct {
	sector   uint32
	buf      [SectorSize]byte
	allocated bool
	dirty    bool // dirty-written: needs write-back before reuse or on flush.
	clockRef bool // recently-used bit consulted by the clock hand.
	pinned   bool
}

// Cache is a bounded pool of sector frames owned by exactly one FAT
// filesystem instance; it is not a package-level singleton.
type Cache struct {
	dev    Device
	frames []frame
	hand   int
}

// Init partitions totalBytes into fixed sectorSize frames, all unallocated.
// It returns an error if totalBytes is smaller than a single sector.
func Init(dev Device, totalBytes, sectorSize int) (*Cache, error) {
	if sectorSize <= 0 || totalBytes < sectorSize {
		return nil, errors.New("cache: totalBytes smaller than sector size")
	}
	n := totalBytes / sectorSize
	c := &Cache{
		dev:    dev,
		frames: make([]frame, n),
	}
	for i := range c.frames {
		c.frames[i].clockRef = true
	}
	return c, nil
}

// NumFrames returns the number of sector-sized frames in the cache.
func (c *Cache) NumFrames() int { return len(c.frames) }

func (c *Cache) findResident(sector uint32) int {
	for i := range c.frames {
		if c.frames[i].allocated && c.frames[i].sector == sector {
			return i
		}
	}
	return -1
}

func (c *Cache) writeBack(i int) error {
	f := &c.frames[i]
	if !f.dirty {
		return nil
	}
	_, err := c.dev.WriteBlock(f.buf[:], f.sector, 0, SectorSize)
	if err != nil {
		return errors.Wrapf(err, "cache: write back sector %d", f.sector)
	}
	f.dirty = false
	return nil
}

// Flush writes back every dirty frame via the device, in frame order. It
// stops and reports the first underlying write error.
func (c *Cache) Flush() error {
	for i := range c.frames {
		if err := c.writeBack(i); err != nil {
			return err
		}
	}
	return nil
}

// Load returns a reference to the frame holding sector's contents, fetching
// it via the device and evicting a victim frame if necessary. A resident
// frame has its clock-ref bit cleared (marking it recently used). Eviction
// runs the clock algorithm: starting at the hand, frames with clockRef set
// are skipped and their bit cleared; pinned frames are always skipped;
// the first unpinned, unset candidate is evicted (written back first if
// dirty). If two full sweeps find no candidate, every frame is pinned and
// Load fails with a cache-exhausted error.
func (c *Cache) Load(sector uint32) (*[SectorSize]byte, error) {
	if i := c.findResident(sector); i >= 0 {
		c.frames[i].clockRef = false
		return &c.frames[i].buf, nil
	}

	n := len(c.frames)
	victim := -1
	for sweep := 0; sweep < 2 && victim < 0; sweep++ {
		for j := 0; j < n; j++ {
			i := c.hand
			c.hand = (c.hand + 1) % n
			f := &c.frames[i]
			if !f.allocated {
				victim = i
				break
			}
			if f.pinned {
				continue
			}
			if f.clockRef {
				f.clockRef = false
				continue
			}
			victim = i
			break
		}
	}
	if victim < 0 {
		return nil, errors.New("cache: exhausted, all frames pinned")
	}

	f := &c.frames[victim]
	if f.allocated {
		if err := c.writeBack(victim); err != nil {
			return nil, err
		}
	}
	_, err := c.dev.ReadBlock(f.buf[:], sector, 0, SectorSize)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: read sector %d", sector)
	}
	f.sector = sector
	f.allocated = true
	f.dirty = false
	f.pinned = false
	f.clockRef = false
	return &f.buf, nil
}

// Pin ensures sector is resident, marks it pinned and dirty (the caller is
// expected to mutate it in place), and returns its frame. Pinned frames
// survive eviction until Unpin is called.
func (c *Cache) Pin(sector uint32) (*[SectorSize]byte, error) {
	buf, err := c.Load(sector)
	if err != nil {
		return nil, err
	}
	i := c.findResident(sector)
	c.frames[i].pinned = true
	c.frames[i].dirty = true
	return buf, nil
}

// Unpin clears the pinned bit for sector's resident frame, if any. It is a
// no-op if sector is not resident.
func (c *Cache) Unpin(sector uint32) {
	if i := c.findResident(sector); i >= 0 {
		c.frames[i].pinned = false
	}
}

func clampRange(offset, length int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset >= SectorSize {
		return offset, 0
	}
	if offset+length > SectorSize {
		length = SectorSize - offset
	}
	if length < 0 {
		length = 0
	}
	return offset, length
}

// Read loads sector and copies up to len(buf) bytes starting at offset,
// clamped to stay within the sector. It returns the number of bytes copied.
func (c *Cache) Read(buf []byte, sector uint32, offset, length int) (int, error) {
	offset, length = clampRange(offset, length)
	if length == 0 {
		return 0, nil
	}
	frm, err := c.Load(sector)
	if err != nil {
		return 0, err
	}
	n := copy(buf[:length], frm[offset:offset+length])
	return n, nil
}

// Write loads sector, copies up to len(buf) bytes into it starting at
// offset, marks the frame dirty, and returns the number of bytes copied.
func (c *Cache) Write(buf []byte, sector uint32, offset, length int) (int, error) {
	offset, length = clampRange(offset, length)
	if length == 0 {
		return 0, nil
	}
	frm, err := c.Load(sector)
	if err != nil {
		return 0, err
	}
	n := copy(frm[offset:offset+length], buf[:length])
	i := c.findResident(sector)
	c.frames[i].dirty = true
	return n, nil
}
