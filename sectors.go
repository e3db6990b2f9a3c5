package fat

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-restruct/restruct"
)

// bootSectorRecord is the FAT32 subset of the Boot Sector / BIOS Parameter
// Block, decoded once at mount for validation and diagnostics. Hot-path
// field mutations (format, free-count updates) bypass this struct and
// write directly into cached sectors at the tables.go offsets,
// since restruct round-tripping an entire sector on every field write
// would be wasteful for a record mutated in place many times per session.
type bootSectorRecord struct {
	JmpBoot      [3]byte
	OEMName      [8]byte
	BytsPerSec   uint16
	SecPerClus   byte
	RsvdSecCnt   uint16
	NumFATs      byte
	RootEntCnt   uint16
	TotSec16     uint16
	Media        byte
	FATSz16      uint16
	SecPerTrk    uint16
	NumHeads     uint16
	HiddSec      uint32
	TotSec32     uint32
	FATSz32      uint32
	ExtFlags     uint16
	FSVer32      uint16
	RootClus32   uint32
	FSInfo32     uint16
	BkBootSec32  uint16
	Reserved12   [12]byte
	DrvNum32     byte
	Reserved1    byte
	BootSig32    byte
	VolID32      uint32
	VolLab32     [11]byte
	FilSysType32 [8]byte
}

func decodeBootSector(raw []byte) (bootSectorRecord, error) {
	var b bootSectorRecord
	err := restruct.Unpack(raw[:90], binary.LittleEndian, &b)
	if err != nil {
		return bootSectorRecord{}, fmt.Errorf("decode boot sector: %w", err)
	}
	return b, nil
}

// String renders a human-readable summary of the boot sector, using
// go-humanize for byte-count formatting rather than hand-rolled suffixing.
func (b bootSectorRecord) String() string {
	bytesPerClus := uint64(b.BytsPerSec) * uint64(b.SecPerClus)
	total := uint64(b.TotSec32) * uint64(b.BytsPerSec)
	return fmt.Sprintf("FAT32 volume: %s total, %d bytes/cluster, %d FAT copies, root cluster %d",
		humanize.Bytes(total), bytesPerClus, b.NumFATs, b.RootClus32)
}

// fsInfoRecord is the FSInfo sector: free-cluster count and the
// next-free-cluster allocation hint, persisted across eject/mount cycles.
type fsInfoRecord struct {
	LeadSig   uint32
	Reserved1 [480]byte
	StrucSig  uint32
	FreeCount uint32
	NxtFree   uint32
	Reserved2 [12]byte
	TrailSig  uint32
}

func decodeFSInfo(raw []byte) (fsInfoRecord, error) {
	var f fsInfoRecord
	err := restruct.Unpack(raw[:512], binary.LittleEndian, &f)
	if err != nil {
		return fsInfoRecord{}, fmt.Errorf("decode fsinfo: %w", err)
	}
	return f, nil
}

func (f fsInfoRecord) valid() bool {
	return f.LeadSig == fsiLeadSigValue && f.StrucSig == fsiStrucSigVal && f.TrailSig == fsiTrailSigVal
}

// datetime packs/unpacks the FAT date+time bit fields.
type datetime struct {
	date uint16
	time uint16
}

func newDatetime(t time.Time) datetime {
	if t.IsZero() {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	year := t.Year()
	if year < 1980 {
		year = 1980
	}
	date := uint16((year-1980)<<9) | uint16(t.Month())<<5 | uint16(t.Day())
	clk := uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return datetime{date: date, time: clk}
}

func (d datetime) Time() time.Time {
	year := 1980 + int(d.date>>9)
	month := int((d.date >> 5) & 0xF)
	day := int(d.date & 0x1F)
	hour := int(d.time >> 11)
	min := int((d.time >> 5) & 0x3F)
	sec := int(d.time&0x1F) * 2
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

// isLeapYear applies the exact rule governing FAT calendar validation:
// ordinary Gregorian leap years, with y==2100 carved out explicitly.
func isLeapYear(year int) bool {
	return year%4 == 0 && year != 2100
}

func daysInMonth(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	case 2:
		if isLeapYear(year) {
			return 29
		}
		return 28
	default:
		return 0
	}
}

func validCalendarTime(t time.Time) bool {
	year, month, day := t.Year(), int(t.Month()), t.Day()
	if year < 1980 || year > 2107 {
		return false
	}
	if month < 1 || month > 12 {
		return false
	}
	if day < 1 || day > daysInMonth(year, month) {
		return false
	}
	return true
}
