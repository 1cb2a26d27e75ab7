package connection

import (
	"github.com/pkg/errors"

	"github.com/cogu/apx-go/logging"
)

// Option parameter errors.
var (
	ErrChunkSize    = errors.New("connection: chunk size must be positive")
	ErrRingCapacity = errors.New("connection: ring capacity must be positive")
)

// Option configures a Connection at construction time, grounded on
// protocol/rtmp/options.go's functional-options pattern.
type Option func(*Connection) error

// WithMonitor marks this side's greeting as a monitor connection
// (spec.md §6 "Connection-Type: Monitor").
func WithMonitor() Option {
	return func(c *Connection) error {
		c.monitor = true
		return nil
	}
}

// WithLog sets the logging.Func the Connection and its Worker report
// through. The default is logging.Discard.
func WithLog(log logging.Func) Option {
	return func(c *Connection) error {
		c.log = log
		return nil
	}
}

// WithChunkSize changes the chunk size SEND_COMPLETE_FILE splits a file's
// contents into. The default is 1024 bytes.
func WithChunkSize(n int) Option {
	return func(c *Connection) error {
		if n <= 0 {
			return ErrChunkSize
		}
		c.chunkSize = n
		return nil
	}
}

// WithRingCapacity changes the Worker's outbound ring capacity. The
// default is 64 messages.
func WithRingCapacity(n int) Option {
	return func(c *Connection) error {
		if n <= 0 {
			return ErrRingCapacity
		}
		c.ringCapacity = n
		return nil
	}
}
