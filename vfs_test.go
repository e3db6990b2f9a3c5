package fat

import (
	"errors"
	"testing"

	"github.com/soypat/fatfs/internal/mbr"
)

// sparseDevice is a map-backed BlockDevice: sectors that have never been
// written read back as zero, so a large sparse volume (e.g. an 8GB test
// image) does not require allocating its full byte size up front. It
// mirrors the byte-slice-backed MemoryDevice's MBR bootstrap so it can be
// mounted immediately with ModeReformat.
type sparseDevice struct {
	numSectors uint32
	sectors    map[uint32][SectorSize]byte
}

func newSparseDevice(numSectors uint32) *sparseDevice {
	d := &sparseDevice{numSectors: numSectors, sectors: make(map[uint32][SectorSize]byte)}
	var mbrSec [SectorSize]byte
	bsec, err := mbr.ToBootSector(mbrSec[:])
	if err != nil {
		panic(err)
	}
	pte := mbr.MakePTE(0, mbr.PartitionTypeFAT32LBA, 1, numSectors-1, mbr.NewCHS(0, 0, 0), mbr.NewCHS(0, 0, 0))
	bsec.SetPartitionTable(0, pte)
	mbrSec[bsSignatureOff], mbrSec[bsSignatureOff+1] = 0x55, 0xAA
	d.sectors[0] = mbrSec
	return d
}

func (d *sparseDevice) Init(args any) error  { return nil }
func (d *sparseDevice) Eject(args any) error { return nil }

func (d *sparseDevice) ReadBlock(dst []byte, sector uint32, offset, length int) (int, error) {
	if sector >= d.numSectors {
		return 0, errors.New("sparseDevice: sector out of range")
	}
	sec := d.sectors[sector] // zero value if never written.
	return copy(dst[:length], sec[offset:offset+length]), nil
}

func (d *sparseDevice) WriteBlock(src []byte, sector uint32, offset, length int) (int, error) {
	if sector >= d.numSectors {
		return 0, errors.New("sparseDevice: sector out of range")
	}
	sec := d.sectors[sector]
	n := copy(sec[offset:offset+length], src[:length])
	d.sectors[sector] = sec
	return n, nil
}

func TestSparseDeviceMountAndFormatLargeVolume(t *testing.T) {
	t.Parallel()
	const numSectors = 2 * 1024 * 1024 // 1GiB at 512B/sector.
	dev := newSparseDevice(numSectors)
	var fs FS
	attachLogger(&fs)
	if err := fs.Mount(dev, 0, ModeReformat); err != nil {
		t.Fatalf("mount+format sparse device: %s", err)
	}
	var fp File
	if err := fs.OpenFile(&fp, "a.txt", ModeWrite|ModeCreateNew); err != nil {
		t.Fatalf("create: %s", err)
	}
	if _, err := fp.Write([]byte("sparse ok")); err != nil {
		t.Fatalf("write: %s", err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}
	if err := fs.Eject(); err != nil {
		t.Fatalf("eject: %s", err)
	}
	if touched := len(dev.sectors); touched > numSectors/100 {
		t.Fatalf("expected a sparsely populated map (<%%1 of %d sectors), got %d sectors touched", numSectors, touched)
	}
}
