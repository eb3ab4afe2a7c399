// Package compress gates payload compression by size so small messages,
// where framing overhead dominates, never pay the CPU cost.
package compress

import "github.com/golang/snappy"

// Threshold is the serialized payload size above which compression is
// attempted. Below it the raw payload always ships.
const Threshold = 1024

// IfBeneficial returns a snappy-compressed copy of payload and true when
// the payload exceeds Threshold and compression actually shrinks it.
// Otherwise it returns nil and false and the caller sends the raw bytes.
func IfBeneficial(payload []byte) ([]byte, bool) {
	if len(payload) <= Threshold {
		return nil, false
	}
	packed := snappy.Encode(nil, payload)
	if len(packed) >= len(payload) {
		return nil, false
	}
	return packed, true
}

// Decode expands a snappy-compressed payload.
func Decode(packed []byte) ([]byte, error) {
	return snappy.Decode(nil, packed)
}
