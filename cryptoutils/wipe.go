package cryptoutils

// Wipe overwrites the buffer with zeros. Every buffer that held key
// material must be wiped before it goes out of scope, including on error
// paths.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
