package numheader

import "testing"

func TestRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 0x7F, 0x80, 66, 0xFFFF, 0x7FFFFFFF}
	for _, l := range lengths {
		buf := make([]byte, 4)
		n := Encode(buf, l)
		if n == 0 {
			t.Fatalf("Encode(%d) failed", l)
		}
		got, consumed, res := Decode(buf[:n])
		if res != OK {
			t.Fatalf("Decode(%d): got Incomplete", l)
		}
		if got != l || consumed != n {
			t.Errorf("Decode(%d): got (%d, %d), want (%d, %d)", l, got, consumed, l, n)
		}
	}
}

func TestGreetingFraming(t *testing.T) {
	greeting := "RMFP/1.0\nMessage-Format: 32\n\n"
	if len(greeting) != 29 {
		t.Fatalf("fixture length changed: %d", len(greeting))
	}
	buf := make([]byte, 1)
	n := Encode(buf, len(greeting))
	if n != 1 || buf[0] != 29 {
		t.Fatalf("got n=%d buf=%v, want n=1 buf=[29]", n, buf)
	}
}

func TestIncomplete(t *testing.T) {
	if _, _, res := Decode(nil); res != Incomplete {
		t.Errorf("empty buf: expected Incomplete")
	}
	if _, _, res := Decode([]byte{0x80, 0x00, 0x00}); res != Incomplete {
		t.Errorf("3-byte long-form prefix: expected Incomplete")
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	buf := make([]byte, 4)
	if n := Encode(buf, -1); n != 0 {
		t.Errorf("negative length should fail, got n=%d", n)
	}
	if n := Encode(buf, MaxLength+1); n != 0 {
		t.Errorf("over-max length should fail, got n=%d", n)
	}
}
