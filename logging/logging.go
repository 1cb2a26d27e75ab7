// Package logging provides the ambient logging facility shared across the
// APX stack: a plain function value threaded into connections and nodes,
// plus a file-backed implementation with rotation.
//
// Grounded on protocol/rtmp/conn.go and protocol/rtcp/client.go, both of
// which define their own `Log func(level int8, message string, params
// ...interface{})` field rather than depending on an injected logger
// interface; a FileLogger built on gopkg.in/natefinch/lumberjack.v2 mirrors
// cmd/rv/main.go's logging setup.
package logging

import (
	"fmt"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels, matching the teacher's rtmp.Log convention.
const (
	DebugLevel int8 = -1
	InfoLevel  int8 = 0
	WarnLevel  int8 = 1
	ErrorLevel int8 = 2
	FatalLevel int8 = 5
)

// Func is the ambient logging signature threaded through connections, file
// managers and nodes. Calling a nil Func panics; NewWorker and
// apxdef.NewWatcher substitute Discard when given nil.
type Func func(level int8, message string, params ...interface{})

// Discard is a Func that drops all messages.
func Discard(int8, string, ...interface{}) {}

func levelName(level int8) string {
	switch level {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "LOG"
	}
}

// FileLogger writes log messages to a rotating file via lumberjack,
// formatting level and params the way the teacher's netsender logger does.
type FileLogger struct {
	out   *lumberjack.Logger
	std   *log.Logger
	level int8 // suppress messages below this level
}

// NewFileLogger opens (creating if needed) path for rotating log output.
// maxSizeMB, maxBackups and maxAgeDays configure lumberjack directly;
// minLevel suppresses messages below that severity.
func NewFileLogger(path string, maxSizeMB, maxBackups, maxAgeDays int, minLevel int8) *FileLogger {
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	return &FileLogger{out: out, std: log.New(out, "", log.LstdFlags), level: minLevel}
}

// Log implements Func.
func (l *FileLogger) Log(level int8, message string, params ...interface{}) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("[%s] %s", levelName(level), message)
	for i := 0; i+1 < len(params); i += 2 {
		line += fmt.Sprintf(" %v=%v", params[i], params[i+1])
	}
	l.std.Println(line)
}

// Close flushes and closes the underlying rotated file.
func (l *FileLogger) Close() error {
	return l.out.Close()
}
