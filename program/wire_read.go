package program

import (
	"encoding/binary"
	"fmt"
)

// Readers return plain errors; decoders attach the code that fits the data
// being read (instruction bytes vs account bytes).

func readU8(b []byte, off *int) (uint8, error) {
	if *off+1 > len(b) {
		return 0, fmt.Errorf("unexpected EOF (u8)")
	}
	v := b[*off]
	*off++
	return v, nil
}

func readU32le(b []byte, off *int) (uint32, error) {
	if *off+4 > len(b) {
		return 0, fmt.Errorf("unexpected EOF (u32le)")
	}
	v := binary.LittleEndian.Uint32(b[*off : *off+4])
	*off += 4
	return v, nil
}

func readU64le(b []byte, off *int) (uint64, error) {
	if *off+8 > len(b) {
		return 0, fmt.Errorf("unexpected EOF (u64le)")
	}
	v := binary.LittleEndian.Uint64(b[*off : *off+8])
	*off += 8
	return v, nil
}

func readBytes(b []byte, off *int, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative length")
	}
	if *off+n > len(b) {
		return nil, fmt.Errorf("unexpected EOF (bytes)")
	}
	v := b[*off : *off+n]
	*off += n
	return v, nil
}

// readVarBytes reads a CompactSize length prefix followed by that many bytes,
// refusing lengths above max.
func readVarBytes(b []byte, off *int, max int, name string) ([]byte, error) {
	if *off > len(b) {
		return nil, fmt.Errorf("unexpected EOF (%s len)", name)
	}
	n, used, err := DecodeCompactSize(b[*off:])
	if err != nil {
		return nil, fmt.Errorf("%s len: %w", name, err)
	}
	if uint64(n) > uint64(max) {
		return nil, fmt.Errorf("%s too long: %d > %d", name, n, max)
	}
	*off += used
	// #nosec G115 -- n is bounded by max above.
	return readBytes(b, off, int(n))
}
