package connection

import (
	"bytes"
	"testing"
)

func TestBuildGreetingScenario1(t *testing.T) {
	// spec.md §8 scenario 1: "Client sends the 30-byte framed greeting
	// (numheader=29, "RMFP/1.0\nMessage-Format: 32\n\n")."
	got := BuildGreeting(false)
	want := append([]byte{29}, []byte("RMFP/1.0\nMessage-Format: 32\n\n")...)
	if !bytes.Equal(got, want) {
		t.Errorf("BuildGreeting(false) = % x, want % x", got, want)
	}
	if len(got) != 30 {
		t.Errorf("len(BuildGreeting(false)) = %d, want 30", len(got))
	}
}

func TestBuildGreetingMonitor(t *testing.T) {
	got := BuildGreeting(true)
	text := "RMFP/1.0\nMessage-Format: 32\nConnection-Type: Monitor\n\n"
	want := append([]byte{byte(len(text))}, []byte(text)...)
	if !bytes.Equal(got, want) {
		t.Errorf("BuildGreeting(true) = % x, want % x", got, want)
	}
}

func TestParseGreetingRoundTrip(t *testing.T) {
	g, err := ParseGreeting(greetingText(false))
	if err != nil {
		t.Fatalf("ParseGreeting: %v", err)
	}
	if g.MessageFormat != 32 || g.Monitor {
		t.Errorf("ParseGreeting = %+v, want {32 false}", g)
	}

	g, err = ParseGreeting(greetingText(true))
	if err != nil {
		t.Fatalf("ParseGreeting(monitor): %v", err)
	}
	if !g.Monitor {
		t.Error("Monitor = false, want true")
	}
}

func TestParseGreetingRejectsBadProtocolLine(t *testing.T) {
	_, err := ParseGreeting("BOGUS/1.0\nMessage-Format: 32\n\n")
	if err == nil {
		t.Fatal("expected error for bad protocol line")
	}
}

func TestParseGreetingRejectsMissingFormat(t *testing.T) {
	_, err := ParseGreeting("RMFP/1.0\n\n")
	if err == nil {
		t.Fatal("expected error for missing Message-Format")
	}
}

func TestParseGreetingRejectsWrongFormat(t *testing.T) {
	_, err := ParseGreeting("RMFP/1.0\nMessage-Format: 16\n\n")
	if err == nil {
		t.Fatal("expected error for unsupported Message-Format")
	}
}

func TestTryConsumeGreetingIncomplete(t *testing.T) {
	full := BuildGreeting(false)
	_, consumed, ok, err := tryConsumeGreeting(full[:10])
	if ok || err != nil || consumed != 0 {
		t.Fatalf("partial frame: consumed=%d ok=%v err=%v, want 0 false nil", consumed, ok, err)
	}
}

func TestTryConsumeGreetingWithTrailingBytes(t *testing.T) {
	full := BuildGreeting(false)
	buf := append(append([]byte(nil), full...), []byte{0xAA, 0xBB}...)
	g, consumed, ok, err := tryConsumeGreeting(buf)
	if err != nil || !ok {
		t.Fatalf("tryConsumeGreeting: ok=%v err=%v", ok, err)
	}
	if consumed != len(full) {
		t.Errorf("consumed = %d, want %d", consumed, len(full))
	}
	if g.MessageFormat != 32 {
		t.Errorf("MessageFormat = %d, want 32", g.MessageFormat)
	}
}
