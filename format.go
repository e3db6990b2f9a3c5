package fat

// FormatConfig describes the parameters of a fresh FAT32 volume. Zero
// values pick the thresholds spec.md §4.2 describes; a zero Label formats
// the volume as "NO NAME".
type FormatConfig struct {
	Label string
}

// volumeLabel renders cfg.Label as an 11-byte, space-padded, upper-cased
// FAT volume label, falling back to "NO NAME" when cfg.Label is empty.
func (cfg FormatConfig) volumeLabel() [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	name := cfg.Label
	if name == "" {
		name = "NO NAME"
	}
	if len(name) > 11 {
		name = name[:11]
	}
	for i := 0; i < len(name); i++ {
		out[i] = upperASCII(name[i])
	}
	return out
}

// formatVolume lays down a fresh FAT32 volume occupying [startLBA,
// startLBA+numLBA) of fs.dev, routed entirely through fs.cache. It is
// called from Mount when ModeReformat is set, before the boot sector is
// pinned, so it addresses sectors directly by absolute LBA.
func (fs *FS) formatVolume(startLBA, numLBA uint32, cfg FormatConfig) error {
	const bytsPerSec = SectorSize
	const media = 0xF8

	partitionBytes := uint64(numLBA) * bytsPerSec
	var secPerClus uint8
	switch {
	case partitionBytes < 9*1024*1024:
		secPerClus = 16
	case partitionBytes < 1025*1024*1024:
		secPerClus = 32
	default:
		secPerClus = 64
	}
	for uint32(secPerClus)*bytsPerSec > 32*1024 {
		secPerClus /= 2
	}

	const rsvdSecCnt = 32
	const numFATs = 2

	// Standard FAT32 FAT-size formula (Microsoft's FAT32 app note): solve
	// for the smallest FATSz such that the data region described by it
	// still fits within the partition.
	tmp1 := numLBA - rsvdSecCnt
	tmp2 := uint32(256)*uint32(secPerClus) + numFATs
	tmp2 /= 2
	fatSz := (tmp1 + tmp2 - 1) / tmp2

	fatBase := startLBA + rsvdSecCnt
	dataBase := fatBase + numFATs*fatSz
	maxCluster := (numLBA - numFATs*fatSz - rsvdSecCnt) / uint32(secPerClus)

	// Zero every FAT sector across both copies.
	var zero [SectorSize]byte
	for i := uint32(0); i < numFATs*fatSz; i++ {
		if _, err := fs.cache.Write(zero[:], fatBase+i, 0, SectorSize); err != nil {
			return wrap(WriteFail, err)
		}
	}
	fs.fatBase, fs.fatSz, fs.numFATs, fs.dataBase = fatBase, fatSz, numFATs, dataBase

	if err := fs.fatUpdateAt(startLBA, fatBase, fatSz, numFATs, 0, uint32(media)|0x0FFFFF00); err != nil {
		return err
	}
	if err := fs.fatUpdateAt(startLBA, fatBase, fatSz, numFATs, 1, fatEOC); err != nil {
		return err
	}
	if err := fs.fatUpdateAt(startLBA, fatBase, fatSz, numFATs, 2, fatEOC); err != nil {
		return err
	}

	// Zero the root directory's single cluster.
	rootSector := dataBase
	for i := uint8(0); i < secPerClus; i++ {
		if _, err := fs.cache.Write(zero[:], rootSector+uint32(i), 0, SectorSize); err != nil {
			return wrap(WriteFail, err)
		}
	}

	var bs [SectorSize]byte
	bs[bsJmpBootOff], bs[bsJmpBootOff+1], bs[bsJmpBootOff+2] = 0xEB, 0x58, 0x90
	copy(bs[bsOEMNameOff:bsOEMNameOff+bsOEMNameLen], "FATFS1.0")
	putU16(bs[bpbBytsPerSecOff:], bytsPerSec)
	bs[bpbSecPerClusOff] = secPerClus
	putU16(bs[bpbRsvdSecCntOff:], rsvdSecCnt)
	bs[bpbNumFATsOff] = numFATs
	putU16(bs[bpbRootEntCntOff:], 0)
	putU16(bs[bpbTotSec16Off:], 0)
	bs[bpbMediaOff] = media
	putU16(bs[bpbFATSz16Off:], 0)
	putU16(bs[bpbSecPerTrkOff:], 63)
	putU16(bs[bpbNumHeadsOff:], 255)
	putU32(bs[bpbHiddSecOff:], startLBA)
	putU32(bs[bpbTotSec32Off:], numLBA)
	putU32(bs[bpbFATSz32Off:], fatSz)
	putU16(bs[bpbExtFlagsOff:], 0)
	putU16(bs[bpbFSVer32Off:], 0)
	putU32(bs[bpbRootClus32Off:], 2)
	putU16(bs[bpbFSInfo32Off:], 1)
	putU16(bs[bpbBkBootSec32Off:], 6)
	bs[bsDrvNum32Off] = 0x80
	bs[bsBootSig32Off] = 0x29
	putU32(bs[bsVolID32Off:], 0x12345678)
	label := cfg.volumeLabel()
	copy(bs[bsVolLab32Off:bsVolLab32Off+bsVolLabLen], label[:])
	copy(bs[bsFilSysType32Off:bsFilSysType32Off+bsFilSysTypeLen], "FAT32   ")
	putU16(bs[bsSignatureOff:], mbrSignatureValue)
	if _, err := fs.cache.Write(bs[:], startLBA, 0, SectorSize); err != nil {
		return wrap(WriteFail, err)
	}

	var fsi [SectorSize]byte
	putU32(fsi[fsiLeadSigOff:], fsiLeadSigValue)
	putU32(fsi[fsiStrucSigOff:], fsiStrucSigVal)
	putU32(fsi[fsiFreeCountOff:], maxCluster-2)
	putU32(fsi[fsiNxtFreeOff:], 3)
	putU32(fsi[fsiTrailSigOff:], fsiTrailSigVal)
	if _, err := fs.cache.Write(fsi[:], startLBA+1, 0, SectorSize); err != nil {
		return wrap(WriteFail, err)
	}

	fs.maxCluster = maxCluster
	fs.freeCount = maxCluster - 2
	fs.nextFree = 3
	return nil
}

// fatUpdateAt writes a raw FAT entry across all FAT copies using explicit
// geometry, for use during formatting before fs's geometry fields are
// fully populated.
func (fs *FS) fatUpdateAt(partStart, fatBase, fatSz, numFATs, cluster, value uint32) error {
	_ = partStart
	for i := uint32(0); i < numFATs; i++ {
		byteOff := cluster * fatEntrySize
		sector := fatBase + i*fatSz + byteOff/SectorSize
		off := int(byteOff % SectorSize)
		var buf [4]byte
		putU32(buf[:], value&fatEntryMask)
		if _, err := fs.cache.Write(buf[:], sector, off, 4); err != nil {
			return wrap(WriteFail, err)
		}
	}
	return nil
}
