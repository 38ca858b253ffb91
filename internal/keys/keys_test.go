package keys

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeFieldChoosesForm(t *testing.T) {
	long := bytes.Repeat([]byte("a"), 200)
	tests := []struct {
		name           string
		prev, key      []byte
		wantCompressed bool
		wantPrefix     int
	}{
		{"block start", nil, []byte("mykey"), false, 0},
		{"no shared prefix", []byte("abc"), []byte("xyz"), false, 0},
		{"shared prefix", []byte("mykey"), []byte("mykey2"), true, 5},
		{"partial prefix", []byte("mykey2"), []byte("mykey3"), true, 5},
		{"prefix too long", long, append(bytes.Repeat([]byte("a"), 200), 'b'), false, 0},
		{"prefix at width", long[:127], append(bytes.Repeat([]byte("a"), 127), 'b'), true, 127},
		{"suffix too long", []byte("k"), append([]byte("k"), bytes.Repeat([]byte("z"), 256)...), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, stored := EncodeField(tt.prev, tt.key)
			compressed := field&CompressedBit != 0
			if compressed != tt.wantCompressed {
				t.Fatalf("compressed = %v, want %v (field %#x)", compressed, tt.wantCompressed, field)
			}
			prefix, suffix, _, err := DecodeField(field)
			if err != nil {
				t.Fatalf("DecodeField(%#x) error = %v", field, err)
			}
			if prefix != tt.wantPrefix {
				t.Errorf("prefix = %d, want %d", prefix, tt.wantPrefix)
			}
			if suffix != len(stored) {
				t.Errorf("suffix = %d, stored %d bytes", suffix, len(stored))
			}
		})
	}
}

func TestEncodeFieldNeverEmitsSentinel(t *testing.T) {
	prev := bytes.Repeat([]byte("p"), 127)
	key := append(bytes.Repeat([]byte("p"), 127), bytes.Repeat([]byte("q"), 255)...)
	field, stored := EncodeField(prev, key)
	if field == EndOfBlock {
		t.Fatal("EncodeField produced the end-of-block sentinel")
	}
	if field&CompressedBit != 0 {
		t.Fatalf("expected plain fallback, got %#x", field)
	}
	if !bytes.Equal(stored, key) {
		t.Error("plain form must store the full key")
	}
}

func TestPrefixCompressionRoundTrip(t *testing.T) {
	sequence := [][]byte{
		[]byte("a"),
		[]byte("ab"),
		[]byte("abc"),
		[]byte("abd"),
		[]byte("b"),
		[]byte("mykey"),
		[]byte("mykey2"),
		[]byte("mykey3"),
		bytes.Repeat([]byte("x"), MaxKeySize),
		append(bytes.Repeat([]byte("x"), 130), 'y'),
		append(bytes.Repeat([]byte("x"), 127), bytes.Repeat([]byte("y"), 255)...),
		[]byte("z"),
	}

	var buf Buffer
	var prev []byte
	for i, key := range sequence {
		field, stored := EncodeField(prev, key)
		n, err := buf.Decode(field, stored)
		if err != nil {
			t.Fatalf("[%d] Decode error = %v", i, err)
		}
		if n != len(stored) {
			t.Errorf("[%d] consumed %d, want %d", i, n, len(stored))
		}
		if !bytes.Equal(buf.Bytes(), key) {
			t.Fatalf("[%d] decoded %q, want %q", i, buf.Bytes(), key)
		}
		prev = key
	}
}

func TestDecodeFieldRejects(t *testing.T) {
	tests := []struct {
		name  string
		field uint16
	}{
		{"sentinel", EndOfBlock},
		{"zero length", 0},
		{"too long", MaxKeySize + 1},
		{"empty suffix", CompressedBit | 3<<8},
	}
	for _, tt := range tests {
		if _, _, _, err := DecodeField(tt.field); !errors.Is(err, ErrInvalidField) {
			t.Errorf("%s: DecodeField(%#x) error = %v, want ErrInvalidField", tt.name, tt.field, err)
		}
	}
}

func TestBufferDecodeErrors(t *testing.T) {
	var buf Buffer

	// A compressed field at a block boundary refers to bytes that do not exist.
	if _, err := buf.Decode(CompressedBit|2<<8|1, []byte("x")); !errors.Is(err, ErrInvalidField) {
		t.Errorf("prefix past previous key: error = %v, want ErrInvalidField", err)
	}

	if _, err := buf.Decode(5, []byte("abc")); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("truncated key: error = %v, want ErrShortBuffer", err)
	}

	buf.Set(bytes.Repeat([]byte("k"), MaxKeySize))
	if _, err := buf.Decode(CompressedBit|MaxPrefixLen<<8|1, []byte("z")); err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if buf.Len() != MaxPrefixLen+1 {
		t.Errorf("Len = %d, want %d", buf.Len(), MaxPrefixLen+1)
	}
}

func TestBufferCompareAndCopy(t *testing.T) {
	var a, b Buffer
	a.Set([]byte("apple"))
	b.Set([]byte("banana"))

	if a.Compare(Bytewise, []byte("apple")) != 0 {
		t.Error("Compare equal key != 0")
	}
	if a.Compare(Bytewise, []byte("b")) >= 0 {
		t.Error("apple should sort before b")
	}
	if a.CompareBuffer(Bytewise, &b) >= 0 {
		t.Error("apple should sort before banana")
	}

	c := a.Copy()
	a.Set([]byte("zzz"))
	if string(c) != "apple" {
		t.Errorf("Copy aliased the buffer: %q", c)
	}

	a.Reset()
	if a.Len() != 0 {
		t.Errorf("Len after Reset = %d", a.Len())
	}
}

func TestValid(t *testing.T) {
	if Valid(nil) || Valid([]byte{}) {
		t.Error("empty key should be invalid")
	}
	if !Valid([]byte("k")) || !Valid(make([]byte, MaxKeySize)) {
		t.Error("keys of length 1..MaxKeySize should be valid")
	}
	if Valid(make([]byte, MaxKeySize+1)) {
		t.Error("oversized key should be invalid")
	}
}

func TestOrBytewise(t *testing.T) {
	reverse := func(a, b []byte) int { return bytes.Compare(b, a) }
	if OrBytewise(nil)([]byte("a"), []byte("b")) >= 0 {
		t.Error("nil comparator should default to bytewise")
	}
	if OrBytewise(reverse)([]byte("a"), []byte("b")) <= 0 {
		t.Error("custom comparator should be kept")
	}
}
