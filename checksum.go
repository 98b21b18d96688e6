// Fletcher-32 checksum, used by every codec in this package to protect the
// header, whole-history, and revision-record formats (§4.1). No library in
// the retrieval pack implements Fletcher-32 — xxh3/blake2b/fnv cover general
// hashing but not this specific checksum algorithm the wire format mandates
// — so it is hand-written here against the well-known two-accumulator
// 16-bit-word definition. See DESIGN.md for the standard-library
// justification.
package onion

// fletcher32 computes the Fletcher-32 checksum over data, treated as a
// sequence of little-endian 16-bit words. An odd trailing byte is padded
// with a zero high byte, matching the reference algorithm.
func fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32 = 0xffff, 0xffff
	n := len(data)

	for i := 0; i < n; i += 2 {
		var word uint32
		if i+1 < n {
			word = uint32(data[i]) | uint32(data[i+1])<<8
		} else {
			word = uint32(data[i])
		}
		sum1 = (sum1 + word) % 65535
		sum2 = (sum2 + sum1) % 65535
	}

	return (sum2 << 16) | sum1
}
