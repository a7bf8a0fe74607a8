package conntrack

import "math/bits"

// Jenkins lookup3 as used for 3-word keys, matching the kernel's
// jhash_3words so bucket placement is stable across restarts.
const jhashInitval = 0xdeadbeef

func jhash3(a, b, c uint32) uint32 {
	a += jhashInitval + (3 << 2)
	b += jhashInitval + (3 << 2)
	c += jhashInitval + (3 << 2)

	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return c
}
