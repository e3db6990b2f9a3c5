package fat

// On-disk byte offsets, little-endian, matching §6 of the format this
// package implements. Names mirror the FAT32 field names they encode.

// Master Boot Record (LBA 0).
const (
	mbrBootstrapOff   = 0
	mbrBootstrapLen   = 440
	mbrDiskSigOff     = 440
	mbrPartTableOff   = 446
	mbrPartEntryLen   = 16
	mbrSignatureOff   = 510
	mbrSignatureValue = 0xAA55 // bytes 0x55, 0xAA at offset 510, read little-endian.
)

// Partition table entry, relative to its own 16 bytes.
const (
	pteBootIndOff  = 0
	pteCHSStartOff = 1
	pteOSTypeOff   = 4
	pteCHSEndOff   = 5
	pteStartLBAOff = 8
	pteNumLBAOff   = 12
)

// Boot Sector / BIOS Parameter Block.
const (
	bsJmpBootOff      = 0
	bsOEMNameOff      = 3
	bsOEMNameLen      = 8
	bpbBytsPerSecOff  = 11
	bpbSecPerClusOff  = 13
	bpbRsvdSecCntOff  = 14
	bpbNumFATsOff     = 16
	bpbRootEntCntOff  = 17
	bpbTotSec16Off    = 19
	bpbMediaOff       = 21
	bpbFATSz16Off     = 22
	bpbSecPerTrkOff   = 24
	bpbNumHeadsOff    = 26
	bpbHiddSecOff     = 28
	bpbTotSec32Off    = 32
	bpbFATSz32Off     = 36
	bpbExtFlagsOff    = 40
	bpbFSVer32Off     = 42
	bpbRootClus32Off  = 44
	bpbFSInfo32Off    = 48
	bpbBkBootSec32Off = 50
	bsDrvNum32Off     = 64
	bsBootSig32Off    = 66
	bsVolID32Off      = 67
	bsVolLab32Off     = 71
	bsVolLabLen       = 11
	bsFilSysType32Off = 82
	bsFilSysTypeLen   = 8
	bsSignatureOff    = 510
)

// FSInfo sector.
const (
	fsiLeadSigOff   = 0
	fsiLeadSigValue = 0x41615252
	fsiStrucSigOff  = 484
	fsiStrucSigVal  = 0x61417272
	fsiFreeCountOff = 488
	fsiNxtFreeOff   = 492
	fsiTrailSigOff  = 508
	fsiTrailSigVal  = 0xAA550000
)

// Directory entry, 32 bytes.
const (
	sizeDirEntry = 32

	dirNameOff         = 0
	dirNameLen         = 11
	dirAttrOff         = 11
	dirNTResOff        = 12
	dirCrtTimeTenthOff = 13
	dirCrtTimeOff      = 14
	dirCrtDateOff      = 16
	dirLstAccDateOff   = 18
	dirFstClusHIOff    = 20
	dirWrtTimeOff      = 22
	dirWrtDateOff      = 24
	dirFstClusLOOff    = 26
	dirFileSizeOff     = 28

	// Long (VFAT) directory entry, same 32 bytes.
	ldirOrdOff       = 0
	ldirName1Off     = 1
	ldirName1Chars   = 5
	ldirAttrOff      = 11
	ldirTypeOff      = 12
	ldirChksumOff    = 13
	ldirName2Off     = 14
	ldirName2Chars   = 6
	ldirFstClusLOOff = 26
	ldirName3Off     = 28
	ldirName3Chars   = 2

	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLongName  = attrReadOnly | attrHidden | attrSystem | attrVolumeID

	freeEntry     = 0xE5 // First byte of a free (removed) directory entry.
	restFreeEntry = 0x00 // First byte meaning "no further entries".

	lastLongEntry = 0x40 // LDIR_Ord bit marking the top fragment of a name.
	ordMask       = 0x3F // Low bits of LDIR_Ord: fragment sequence number.
)

// FAT entry geometry.
const (
	fatEntrySize = 4
	fatEntryMask = 0x0FFFFFFF
	fatFree      = 0x00000000
	fatEOC       = 0x0FFFFFF8
	fatDefective = 0x0FFFFFF7
	maxFileSize  = 0xFFFFFFFF
)
