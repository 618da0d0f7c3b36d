package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the timestamp layout used by the console appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender writes tab separated entries to a writer such as stdout.
type ConsoleAppender struct {
	out io.Writer
}

// NewStdoutAppender creates a new appender that outputs to stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// Write outputs the log entry to the underlying file.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	const maxLength = 10
	toPrint := make([]string, 0, maxLength)
	toPrint = append(toPrint, entry.Time.Format(DefaultTimeFormatStr))
	toPrint = append(toPrint, strings.ToUpper(entry.Level.String()))
	toPrint = append(toPrint, entry.LoggerName)
	if entry.Caller.Defined {
		toPrint = append(toPrint, callerToString(&entry.Caller))
	}
	toPrint = append(toPrint, entry.Message)
	if len(fields) > 0 {
		encoded, err := encodeFields(fields)
		if err != nil {
			return err
		}
		toPrint = append(toPrint, encoded)
	}

	_, err := fmt.Fprintln(appender.out, strings.Join(toPrint, "\t"))
	return err
}

// Sync flushes the underlying writer if it buffers.
func (appender ConsoleAppender) Sync() error {
	if syncer, ok := appender.out.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

// Defaults for FileAppender rotation.
const (
	DefaultLogFileMaxSizeMB  = 100
	DefaultLogFileMaxBackups = 3
)

// FileAppender writes console formatted entries to a log file that is rotated by size. Old
// files are compressed.
type FileAppender struct {
	ConsoleAppender
	file *lumberjack.Logger
}

// NewFileAppender returns an appender writing to filename, rotating it every maxSizeMB.
func NewFileAppender(filename string, maxSizeMB int) *FileAppender {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultLogFileMaxSizeMB
	}
	file := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: DefaultLogFileMaxBackups,
		Compress:   true,
	}
	return &FileAppender{ConsoleAppender: ConsoleAppender{out: file}, file: file}
}

// Rotate closes the current file, renames it with a timestamp and opens a fresh one.
func (appender *FileAppender) Rotate() error {
	return appender.file.Rotate()
}

// Close closes the log file. Later writes reopen it.
func (appender *FileAppender) Close() error {
	return appender.file.Close()
}

// encodeFields uses zap's json encoder so fields come out in call order. It is called with an empty
// Entry so only the fields become "map-ified".
func encodeFields(fields []zapcore.Field) (string, error) {
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return "", err
	}
	defer buf.Free()
	return buf.String(), nil
}

// callerToString returns e.g. "recording/writer.go:112".
func callerToString(caller *zapcore.EntryCaller) string {
	file := caller.File
	// Keep the last directory and the file name.
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		if prev := strings.LastIndexByte(file[:idx], '/'); prev >= 0 {
			file = file[prev+1:]
		}
	}
	return fmt.Sprintf("%s:%d", file, caller.Line)
}
