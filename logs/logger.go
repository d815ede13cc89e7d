package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"aster-volume-bot/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// fileHook mirrors every log entry to a rotated file with a plain formatter.
type fileHook struct {
	formatter logrus.Formatter
	writer    io.Writer
}

func (h *fileHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *fileHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(b)
	return err
}

var (
	log      *logrus.Logger
	hookInst *fileHook
)

// Init initializes the logging system: colored console output plus a
// lumberjack-rotated file.
func Init(cfg *config.LogConfig, logFilePath string) error {
	log = logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:            true,
		FullTimestamp:          true,
		TimestampFormat:        "2006-01-02 15:04:05",
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	log.SetOutput(os.Stdout)

	// Silence the global logrus instance so stray calls from dependencies
	// produce no output.
	logrus.SetOutput(io.Discard)
	logrus.StandardLogger().Hooks = make(logrus.LevelHooks)

	logDir := filepath.Dir(logFilePath)
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	hookInst = &fileHook{
		writer: &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
		formatter: &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
	}
	log.AddHook(hookInst)

	Infof("Logging system initialized.")
	return nil
}

// Close closes the file hook's underlying writer.
func Close() {
	if hookInst != nil {
		if closer, ok := hookInst.writer.(io.Closer); ok {
			closer.Close()
		}
	}
}

// Wrapper functions to expose the logger. Tests may run without Init.
func ensure() *logrus.Logger {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return log
}

func Debug(args ...interface{})                 { ensure().Debug(args...) }
func Debugf(format string, args ...interface{}) { ensure().Debugf(format, args...) }
func Info(args ...interface{})                  { ensure().Info(args...) }
func Infof(format string, args ...interface{})  { ensure().Infof(format, args...) }
func Warn(args ...interface{})                  { ensure().Warn(args...) }
func Warnf(format string, args ...interface{})  { ensure().Warnf(format, args...) }
func Error(args ...interface{})                 { ensure().Error(args...) }
func Errorf(format string, args ...interface{}) { ensure().Errorf(format, args...) }
func Fatal(args ...interface{})                 { ensure().Fatal(args...) }
func Fatalf(format string, args ...interface{}) { ensure().Fatalf(format, args...) }
