package protocol

import "hash/crc32"

// crc8 is CRC-8/SMBUS (poly 0x07, init 0x00), used over the length field.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// crc32IEEE covers the payload (type through data).
func crc32IEEE(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
