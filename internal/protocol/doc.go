// Package protocol implements the strap's binary wire protocol.
//
// A frame on the wire is laid out as:
//
//	0xAA | length u16 LE | crc8(length) | type | seq | cmd | data... | crc32(type..data) LE
//
// The declared length covers the 4 header bytes plus the payload (type, seq, cmd, data),
// so a complete frame always occupies length+4 bytes counted from the marker.
//
// Extraction (Next, SplitAll, Accumulator) only looks at the header and never checks
// the checksums. Parse validates a complete frame, and DecodeHistory / DecodeMetadata
// interpret the data of validated frames.
package protocol
