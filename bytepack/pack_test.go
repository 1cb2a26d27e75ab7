package bytepack

import "testing"

func TestPackUnpackLERoundTrip(t *testing.T) {
	cases := []struct {
		n   int
		val uint64
	}{
		{1, 0xAB},
		{2, 0xBEEF},
		{3, 0xABCDEF},
		{4, 0xDEADBEEF},
		{8, 0x0102030405060708},
	}
	for _, c := range cases {
		buf := make([]byte, c.n)
		if err := PackLE(buf, c.val, c.n); err != nil {
			t.Fatalf("PackLE(%d): %v", c.n, err)
		}
		got, err := UnpackLE(buf, c.n)
		if err != nil {
			t.Fatalf("UnpackLE(%d): %v", c.n, err)
		}
		if got != c.val {
			t.Errorf("n=%d: got %x, want %x", c.n, got, c.val)
		}
	}
}

func TestPackUnpackBERoundTrip(t *testing.T) {
	cases := []struct {
		n   int
		val uint64
	}{
		{1, 0xAB},
		{2, 0xBEEF},
		{3, 0xABCDEF},
		{4, 0xDEADBEEF},
		{8, 0x0102030405060708},
	}
	for _, c := range cases {
		buf := make([]byte, c.n)
		if err := PackBE(buf, c.val, c.n); err != nil {
			t.Fatalf("PackBE(%d): %v", c.n, err)
		}
		got, err := UnpackBE(buf, c.n)
		if err != nil {
			t.Fatalf("UnpackBE(%d): %v", c.n, err)
		}
		if got != c.val {
			t.Errorf("n=%d: got %x, want %x", c.n, got, c.val)
		}
	}
}

func TestShortBuffer(t *testing.T) {
	buf := make([]byte, 1)
	if err := PackLE(buf, 1, 4); err != ErrShortBuffer {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
	if _, err := UnpackBE(buf, 4); err != ErrShortBuffer {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}
