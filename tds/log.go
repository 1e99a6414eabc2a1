// Structured logging for the protocol engine, adapted from the teacher
// repo's hand-rolled category logger (pkg/log) rather than reaching for
// log/slog directly: independent level/output per category, sync or
// buffered-async delivery, text or JSON formatting.
//
// Categories are renamed for this domain: Wire (packet/message framing),
// Negotiation (PreLogin/TLS/Login7), Session (query/transaction/cancel
// lifecycle), Pool (checkout/checkin/health-check events).
package tds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel is a logging severity level.
type LogLevel int32

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
	LogOff // disables logging entirely
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "DEBUG"
	case LogInfo:
		return "INFO"
	case LogWarn:
		return "WARN"
	case LogError:
		return "ERROR"
	case LogOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// LogCategory identifies which layer of the engine produced an entry.
type LogCategory string

const (
	CategoryWire        LogCategory = "wire"
	CategoryNegotiation LogCategory = "negotiation"
	CategorySession     LogCategory = "session"
	CategoryPool        LogCategory = "pool"
)

// LogFormat selects the output encoding.
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

// LogEntry is a single structured log record.
type LogEntry struct {
	Time     time.Time              `json:"time"`
	Level    LogLevel               `json:"level"`
	Category LogCategory            `json:"category"`
	Message  string                 `json:"message"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
	ErrorStr string                 `json:"error,omitempty"`
}

// Logger is the engine's logging sink. A nil *Logger is valid everywhere
// a Logger is accepted: every method tolerates a nil receiver as a no-op,
// so callers that don't care about observability can leave Config.Log unset.
type Logger struct {
	mu sync.RWMutex

	levels  map[LogCategory]LogLevel
	outputs map[LogCategory]io.Writer

	format   LogFormat
	minLevel LogLevel

	asyncEnabled bool
	entryChan    chan *LogEntry
	wg           sync.WaitGroup
	closed       int32

	entriesLogged  int64
	entriesDropped int64
}

// LogConfig configures a new Logger.
type LogConfig struct {
	DefaultLevel   LogLevel
	CategoryLevels map[LogCategory]LogLevel
	Output         io.Writer // default os.Stderr
	Format         LogFormat
	AsyncBuffer    int // 0 = synchronous delivery
}

// DefaultLogConfig returns text logging at Info to stderr, synchronous.
func DefaultLogConfig() LogConfig {
	return LogConfig{DefaultLevel: LogInfo, Output: os.Stderr, Format: LogFormatText}
}

// NewLogger builds a Logger from cfg.
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	l := &Logger{
		levels:   make(map[LogCategory]LogLevel),
		outputs:  make(map[LogCategory]io.Writer),
		format:   cfg.Format,
		minLevel: cfg.DefaultLevel,
	}
	for _, cat := range []LogCategory{CategoryWire, CategoryNegotiation, CategorySession, CategoryPool} {
		l.levels[cat] = cfg.DefaultLevel
		l.outputs[cat] = cfg.Output
	}
	for cat, level := range cfg.CategoryLevels {
		l.levels[cat] = level
	}
	if cfg.AsyncBuffer > 0 {
		l.asyncEnabled = true
		l.entryChan = make(chan *LogEntry, cfg.AsyncBuffer)
		l.wg.Add(1)
		go l.asyncWriter()
	}
	return l
}

// SetLevel sets the level for one category.
func (l *Logger) SetLevel(cat LogCategory, level LogLevel) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels[cat] = level
}

// Close flushes and stops any async delivery goroutine.
func (l *Logger) Close() error {
	if l == nil || !l.asyncEnabled {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	close(l.entryChan)
	l.wg.Wait()
	return nil
}

// Stats reports how many entries were logged vs dropped (async overflow).
func (l *Logger) Stats() (logged, dropped int64) {
	if l == nil {
		return 0, 0
	}
	return atomic.LoadInt64(&l.entriesLogged), atomic.LoadInt64(&l.entriesDropped)
}

func (l *Logger) log(level LogLevel, cat LogCategory, msg string, err error, fields ...interface{}) {
	if l == nil {
		return
	}
	l.mu.RLock()
	catLevel := l.levels[cat]
	output := l.outputs[cat]
	format := l.format
	l.mu.RUnlock()

	if level < catLevel {
		return
	}

	entry := &LogEntry{Time: time.Now(), Level: level, Category: cat, Message: msg}
	if err != nil {
		entry.ErrorStr = err.Error()
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			if key, ok := fields[i].(string); ok {
				entry.Fields[key] = fields[i+1]
			}
		}
	}

	if l.asyncEnabled && atomic.LoadInt32(&l.closed) == 0 {
		select {
		case l.entryChan <- entry:
			atomic.AddInt64(&l.entriesLogged, 1)
		default:
			atomic.AddInt64(&l.entriesDropped, 1)
		}
		return
	}
	l.writeEntry(output, format, entry)
	atomic.AddInt64(&l.entriesLogged, 1)
}

func (l *Logger) writeEntry(w io.Writer, format LogFormat, entry *LogEntry) {
	var line string
	switch format {
	case LogFormatJSON:
		data, _ := json.Marshal(entry)
		line = string(data) + "\n"
	default:
		line = formatLogText(entry)
	}
	w.Write([]byte(line))
}

func formatLogText(entry *LogEntry) string {
	var buf strings.Builder
	buf.WriteString(entry.Time.Format("2006-01-02 15:04:05.000"))
	buf.WriteString(" ")
	buf.WriteString(fmt.Sprintf("%-5s", entry.Level.String()))
	buf.WriteString(" [")
	buf.WriteString(string(entry.Category))
	buf.WriteString("] ")
	buf.WriteString(entry.Message)
	if entry.ErrorStr != "" {
		buf.WriteString(" error=\"")
		buf.WriteString(entry.ErrorStr)
		buf.WriteString("\"")
	}
	for k, v := range entry.Fields {
		buf.WriteString(" ")
		buf.WriteString(k)
		buf.WriteString("=")
		fmt.Fprintf(&buf, "%v", v)
	}
	buf.WriteString("\n")
	return buf.String()
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()
	for entry := range l.entryChan {
		l.mu.RLock()
		output := l.outputs[entry.Category]
		format := l.format
		l.mu.RUnlock()
		l.writeEntry(output, format, entry)
	}
}

// CategoryLogger is a Logger bound to one category; a nil *CategoryLogger,
// or one obtained from a nil *Logger, is a safe no-op.
type CategoryLogger struct {
	logger   *Logger
	category LogCategory
}

func (l *Logger) category(cat LogCategory) *CategoryLogger {
	return &CategoryLogger{logger: l, category: cat}
}

// Wire returns the category logger for packet/message framing events.
func (l *Logger) Wire() *CategoryLogger { return l.category(CategoryWire) }

// Negotiation returns the category logger for PreLogin/TLS/Login7 events.
func (l *Logger) Negotiation() *CategoryLogger { return l.category(CategoryNegotiation) }

// Session returns the category logger for query/transaction/cancel events.
func (l *Logger) Session() *CategoryLogger { return l.category(CategorySession) }

// Pool returns the category logger for checkout/checkin/health-check events.
func (l *Logger) Pool() *CategoryLogger { return l.category(CategoryPool) }

func (cl *CategoryLogger) Debugf(format string, args ...interface{}) {
	if cl == nil {
		return
	}
	cl.logger.log(LogDebug, cl.category, fmt.Sprintf(format, args...), nil)
}

func (cl *CategoryLogger) Infof(format string, args ...interface{}) {
	if cl == nil {
		return
	}
	cl.logger.log(LogInfo, cl.category, fmt.Sprintf(format, args...), nil)
}

func (cl *CategoryLogger) Warnf(format string, args ...interface{}) {
	if cl == nil {
		return
	}
	cl.logger.log(LogWarn, cl.category, fmt.Sprintf(format, args...), nil)
}

func (cl *CategoryLogger) Errorf(err error, format string, args ...interface{}) {
	if cl == nil {
		return
	}
	cl.logger.log(LogError, cl.category, fmt.Sprintf(format, args...), err)
}
