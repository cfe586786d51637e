package program

import "encoding/binary"

func appendU32le(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func appendU64le(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func appendVarBytes(dst []byte, v []byte) []byte {
	dst = append(dst, CompactSize(len(v)).Encode()...)
	return append(dst, v...)
}
