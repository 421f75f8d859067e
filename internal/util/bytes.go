package util

// WipeBytes zeroes a byte slice holding sensitive material.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
