package keys

// Buffer is a fixed-capacity key scratch buffer holding "the current key"
// while key blocks are decoded. Decoding into a Buffer never allocates.
// A Buffer must not be shared between goroutines.
type Buffer struct {
	buf [MaxKeySize]byte
	n   int
}

// Reset empties the buffer. Call it at every block boundary so that prefix
// chains never cross blocks.
func (b *Buffer) Reset() {
	b.n = 0
}

// Len returns the length of the current key.
func (b *Buffer) Len() int {
	return b.n
}

// Bytes returns the current key. The slice aliases the buffer and is
// overwritten by the next Decode or Set.
func (b *Buffer) Bytes() []byte {
	return b.buf[:b.n]
}

// Copy returns an owned copy of the current key.
func (b *Buffer) Copy() []byte {
	out := make([]byte, b.n)
	copy(out, b.buf[:b.n])
	return out
}

// Set replaces the current key.
// REQUIRES: len(key) <= MaxKeySize.
func (b *Buffer) Set(key []byte) {
	b.n = copy(b.buf[:], key)
}

// Compare compares the current key with key.
func (b *Buffer) Compare(cmp Comparator, key []byte) int {
	return cmp(b.buf[:b.n], key)
}

// CompareBuffer compares the current key with another buffer's key.
func (b *Buffer) CompareBuffer(cmp Comparator, other *Buffer) int {
	return cmp(b.buf[:b.n], other.buf[:other.n])
}

// Decode rebuilds the next key from its length field and src, which starts at
// the stored key bytes. The current contents of the buffer are taken as the
// previous key. It returns the number of bytes consumed from src.
func (b *Buffer) Decode(field uint16, src []byte) (int, error) {
	prefix, suffix, compressed, err := DecodeField(field)
	if err != nil {
		return 0, err
	}
	if compressed && prefix > b.n {
		return 0, ErrInvalidField
	}
	if prefix+suffix > MaxKeySize {
		return 0, ErrInvalidField
	}
	if len(src) < suffix {
		return 0, ErrShortBuffer
	}
	copy(b.buf[prefix:], src[:suffix])
	b.n = prefix + suffix
	return suffix, nil
}
