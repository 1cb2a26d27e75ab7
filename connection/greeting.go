package connection

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cogu/apx-go/numheader"
)

// protocolLine is the fixed first line of every greeting (spec.md §6).
const protocolLine = "RMFP/1.0"

// messageFormatBits is the only numheader width this implementation
// speaks; a greeting declaring anything else is rejected.
const messageFormatBits = 32

// Greeting is the parsed content of a peer's greeting text.
type Greeting struct {
	MessageFormat int
	Monitor       bool
}

// ErrBadGreeting is returned by ParseGreeting for any malformed or
// unsupported greeting.
var ErrBadGreeting = errors.New("connection: malformed greeting")

// greetingText renders the greeting body (without NumHeader framing) for
// this side, optionally declaring itself a monitor connection.
func greetingText(monitor bool) string {
	var b strings.Builder
	b.WriteString(protocolLine)
	b.WriteByte('\n')
	b.WriteString("Message-Format: ")
	b.WriteString(strconv.Itoa(messageFormatBits))
	b.WriteByte('\n')
	if monitor {
		b.WriteString("Connection-Type: Monitor\n")
	}
	b.WriteByte('\n')
	return b.String()
}

// BuildGreeting returns the NumHeader-framed greeting packet for this side.
func BuildGreeting(monitor bool) []byte {
	text := greetingText(monitor)
	out := make([]byte, numheader.EncodedLen(len(text))+len(text))
	n := numheader.Encode(out, len(text))
	copy(out[n:], text)
	return out
}

// ParseGreeting parses a greeting's text body (with the NumHeader framing
// already stripped).
func ParseGreeting(text string) (Greeting, error) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || lines[0] != protocolLine {
		return Greeting{}, ErrBadGreeting
	}
	var g Greeting
	sawFormat := false
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return Greeting{}, ErrBadGreeting
		}
		switch key {
		case "Message-Format":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Greeting{}, errors.Wrap(ErrBadGreeting, err.Error())
			}
			g.MessageFormat = n
			sawFormat = true
		case "Connection-Type":
			g.Monitor = value == "Monitor"
		}
	}
	if !sawFormat || g.MessageFormat != messageFormatBits {
		return Greeting{}, ErrBadGreeting
	}
	return g, nil
}

// tryConsumeGreeting attempts to decode one NumHeader-framed greeting from
// the head of buf, returning the parsed Greeting and the number of bytes
// consumed. ok is false if buf does not yet hold a complete frame.
func tryConsumeGreeting(buf []byte) (g Greeting, consumed int, ok bool, err error) {
	length, hdrLen, result := numheader.Decode(buf)
	if result != numheader.OK {
		return Greeting{}, 0, false, nil
	}
	total := hdrLen + length
	if len(buf) < total {
		return Greeting{}, 0, false, nil
	}
	g, err = ParseGreeting(string(buf[hdrLen:total]))
	if err != nil {
		return Greeting{}, total, true, err
	}
	return g, total, true, nil
}
