// Package log provides the FieldedLogger used across every actor package,
// with the log.Start/log.NewFieldedLogger/log.Stop convention the pipeline
// and export packages build on. Output fans out to
// stdout, a rotated logfile (lestrrat-go/file-rotatelogs) and, optionally, an
// Elasticsearch index via internetarchive/elogrus.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/internetarchive/elogrus"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

// Fields is the base field set attached to every entry a FieldedLogger
// produces, e.g. &log.Fields{"component": "archiver"}.
type Fields map[string]interface{}

// LogfileConfig describes the rotated logfile sink.
type LogfileConfig struct {
	Dir    string
	Prefix string
}

// ElasticsearchConfig describes the optional Elasticsearch sink. A nil
// *ElasticsearchConfig on Config disables it entirely.
type ElasticsearchConfig struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string
	Level       logrus.Level
}

// Config controls where logged entries go and at what level.
type Config struct {
	FileConfig    *LogfileConfig
	FileLevel     logrus.Level
	StdoutEnabled bool
	StdoutLevel   logrus.Level

	RotateLogFile bool

	ElasticsearchConfig *ElasticsearchConfig
}

// DefaultConfig logs to stdout at info level and nothing else.
func DefaultConfig() Config {
	return Config{
		StdoutEnabled: true,
		StdoutLevel:   logrus.InfoLevel,
		FileLevel:     logrus.DebugLevel,
		RotateLogFile: true,
	}
}

var (
	mu         sync.Mutex
	cfg        = DefaultConfig()
	started    bool
	base       = logrus.New()
	fileWriter *rotatelogs.RotateLogs
	esHook     *elogrus.ElasticHook
)

// Configure sets the configuration used by the next Start call. It must be
// called before Start to have any effect.
func Configure(c Config) {
	mu.Lock()
	defer mu.Unlock()
	cfg = c
}

// Start wires up the configured sinks. It is idempotent: repeated calls
// (the pipeline and export packages each call it on their own startup path)
// are no-ops once logging is already running.
func Start() error {
	mu.Lock()
	defer mu.Unlock()

	if started {
		return nil
	}

	// Configure the existing base logger in place rather than replacing the
	// pointer: FieldedLoggers built before Start runs (e.g. package-level
	// `var logger = log.NewFieldedLogger(...)` declarations) hold a
	// *logrus.Entry pointing at this same *logrus.Logger, and must pick up
	// the real sinks once Start wires them.
	base.Hooks = make(logrus.LevelHooks)

	if cfg.StdoutEnabled {
		base.SetOutput(os.Stdout)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		base.SetLevel(cfg.StdoutLevel)
	} else {
		base.SetOutput(io.Discard)
	}

	if cfg.FileConfig != nil {
		if err := os.MkdirAll(cfg.FileConfig.Dir, 0o755); err != nil {
			return fmt.Errorf("log: creating logfile dir: %w", err)
		}

		pattern := filepath.Join(cfg.FileConfig.Dir, cfg.FileConfig.Prefix+".%Y%m%d%H%M.log")
		opts := []rotatelogs.Option{rotatelogs.WithLinkName(filepath.Join(cfg.FileConfig.Dir, cfg.FileConfig.Prefix+".log"))}
		if cfg.RotateLogFile {
			opts = append(opts, rotatelogs.WithRotationTime(24*time.Hour), rotatelogs.WithMaxAge(7*24*time.Hour))
		}

		w, err := rotatelogs.New(pattern, opts...)
		if err != nil {
			return fmt.Errorf("log: opening rotated logfile: %w", err)
		}
		fileWriter = w
		base.AddHook(&writerHook{writer: w, level: cfg.FileLevel, formatter: &logrus.JSONFormatter{}})
	}

	if cfg.ElasticsearchConfig != nil {
		client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: cfg.ElasticsearchConfig.Addresses,
			Username:  cfg.ElasticsearchConfig.Username,
			Password:  cfg.ElasticsearchConfig.Password,
		})
		if err != nil {
			return fmt.Errorf("log: building elasticsearch client: %w", err)
		}

		hostname, _ := os.Hostname()
		hook, err := elogrus.NewElasticHook(client, hostname, cfg.ElasticsearchConfig.Level, cfg.ElasticsearchConfig.IndexPrefix)
		if err != nil {
			return fmt.Errorf("log: building elasticsearch hook: %w", err)
		}
		esHook = hook
		base.AddHook(hook)
	}

	started = true
	return nil
}

// Stop flushes and closes every sink. Safe to call even if Start was never
// called.
func Stop() {
	mu.Lock()
	defer mu.Unlock()

	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
	if esHook != nil {
		esHook.Cancel()
		esHook = nil
	}
	started = false
}

// writerHook sends entries at or above level to writer, formatted
// independently of the base logger's own formatter/level.
type writerHook struct {
	writer    io.Writer
	level     logrus.Level
	formatter logrus.Formatter
}

func (h *writerHook) Levels() []logrus.Level {
	return logrus.AllLevels[:h.level+1]
}

func (h *writerHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

// FieldedLogger is a logrus entry pre-populated with a fixed set of base
// fields, with Debug/Info/Warn/Error/Fatal taking a message plus a flat list
// of additional key/value pairs, e.g. logger.Warn("dropped", "url", u).
type FieldedLogger struct {
	entry *logrus.Entry
}

// NewFieldedLogger builds a logger carrying fields for every entry it
// produces. Safe to call before Start: entries go to the base logger's
// default stderr output until Start wires the configured sinks in place.
func NewFieldedLogger(fields *Fields) *FieldedLogger {
	mu.Lock()
	b := base
	mu.Unlock()

	lf := logrus.Fields{}
	if fields != nil {
		for k, v := range *fields {
			lf[k] = v
		}
	}
	return &FieldedLogger{entry: b.WithFields(lf)}
}

func withPairs(entry *logrus.Entry, kv []interface{}) *logrus.Entry {
	if len(kv) == 0 {
		return entry
	}
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		fields[key] = kv[i+1]
	}
	return entry.WithFields(fields)
}

func (l *FieldedLogger) Debug(msg string, kv ...interface{}) { withPairs(l.entry, kv).Debug(msg) }
func (l *FieldedLogger) Info(msg string, kv ...interface{})  { withPairs(l.entry, kv).Info(msg) }
func (l *FieldedLogger) Warn(msg string, kv ...interface{})  { withPairs(l.entry, kv).Warn(msg) }
func (l *FieldedLogger) Error(msg string, kv ...interface{}) { withPairs(l.entry, kv).Error(msg) }
func (l *FieldedLogger) Fatal(msg string, kv ...interface{}) { withPairs(l.entry, kv).Fatal(msg) }
