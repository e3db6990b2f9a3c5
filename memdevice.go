package fat

import (
	"errors"

	"github.com/soypat/fatfs/internal/mbr"
)

// MemoryDevice is a BlockDevice backed by a plain byte slice: a RAM disk
// useful for tests, examples, and small embedded volumes that fit in
// memory. A freshly constructed MemoryDevice already carries a single MBR
// partition spanning every sector but the first, formatted as
// PartitionTypeFAT32LBA, so it can be mounted immediately with
// ModeReformat.
type MemoryDevice struct {
	buf []byte
}

// NewMemoryDevice allocates a MemoryDevice of numSectors sectors.
func NewMemoryDevice(numSectors uint32) *MemoryDevice {
	d := &MemoryDevice{buf: make([]byte, uint64(numSectors)*SectorSize)}
	bsec, err := mbr.ToBootSector(d.buf[:512])
	if err != nil {
		panic(err) // numSectors too small to hold even the MBR.
	}
	pte := mbr.MakePTE(0, mbr.PartitionTypeFAT32LBA, 1, numSectors-1, mbr.NewCHS(0, 0, 0), mbr.NewCHS(0, 0, 0))
	bsec.SetPartitionTable(0, pte)
	d.buf[bsSignatureOff], d.buf[bsSignatureOff+1] = 0x55, 0xAA
	return d
}

func (d *MemoryDevice) Init(args any) error  { return nil }
func (d *MemoryDevice) Eject(args any) error { return nil }

func (d *MemoryDevice) ReadBlock(dst []byte, sector uint32, offset, length int) (int, error) {
	base := int64(sector)*SectorSize + int64(offset)
	if base < 0 || base+int64(length) > int64(len(d.buf)) {
		return 0, errors.New("fat: read past end of device")
	}
	return copy(dst[:length], d.buf[base:base+int64(length)]), nil
}

func (d *MemoryDevice) WriteBlock(src []byte, sector uint32, offset, length int) (int, error) {
	base := int64(sector)*SectorSize + int64(offset)
	if base < 0 || base+int64(length) > int64(len(d.buf)) {
		return 0, errors.New("fat: write past end of device")
	}
	return copy(d.buf[base:base+int64(length)], src[:length]), nil
}
