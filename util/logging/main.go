package logging

import (
	"io"
	"os"
	"path"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the configuration of the zerolog logger and writers
type Config struct {
	// WithConsoleLog enables console logging
	WithConsoleLog bool

	// WithColor enables console logging coloring
	WithColor bool

	// WithLogFile makes the framework log to a rolling file
	// the fields below can be skipped if this value is false!
	WithLogFile bool

	// Directory to log to when filelogging is enabled
	Directory string

	// Filename is the name of the logfile which will be placed inside the directory
	Filename string

	// MaxSize the max size in MB of the logfile before it's rolled
	MaxSize int

	// MaxBackups the max number of rolled files to keep
	MaxBackups int

	// MaxAge the max age in days to keep a logfile
	MaxAge int
}

// Logger is the blkcache specific zerolog logger
type Logger struct {
	*zerolog.Logger
}

const (
	TimeFormat = "15:04:05.000"
)

var (
	consoleWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: TimeFormat}
)

// Configure sets up the logging framework
func Configure(config Config) *Logger {
	var writers []io.Writer

	if config.WithConsoleLog {
		consoleWriter.NoColor = !config.WithColor
		writers = append(writers, consoleWriter)
	}
	if config.WithLogFile {
		if fileWriter, err := newRollingFile(config); err == nil {
			writers = append(writers, fileWriter)
		}
	}
	mw := io.MultiWriter(writers...)
	logger := log.Output(mw)
	return &Logger{
		Logger: &logger,
	}
}

func newRollingFile(config Config) (io.Writer, error) {
	if err := os.MkdirAll(config.Directory, 0744); err != nil {
		log.Error().Err(err).Str("path", config.Directory).Msg("can't create log directory")
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path.Join(config.Directory, config.Filename),
		MaxBackups: config.MaxBackups, // files
		MaxSize:    config.MaxSize,    // megabytes
		MaxAge:     config.MaxAge,     // days
	}, nil
}
