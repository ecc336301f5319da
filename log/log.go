package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DiagnosticsFile  = "diagnostics_log.txt"
	ConversationFile = "conversation_log.txt"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	convFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: EVICHAT_LOG_PATH environment variable
	if envPath := os.Getenv("EVICHAT_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagFile, err = os.OpenFile(filepath.Join(dir, DiagnosticsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	convFile, err = os.OpenFile(filepath.Join(dir, ConversationFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if convFile != nil {
		convFile.Close()
		convFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// SessionStart records connection settings. Credentials never reach the log.
func SessionStart(endpoint, encoding, device string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("endpoint", endpoint).
		Str("encoding", encoding).
		Str("device", device).
		Msg("session_start")
}

func SessionEnd(turns int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Msg("session_end")
}

func StateChange(from, to, attempt string) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("from", from).
		Str("to", to)
	if attempt != "" {
		ev = ev.Str("attempt", attempt)
	}
	ev.Msg("connection_state")
}

// Turn appends one line per conversation turn to the conversation log:
// "time\t[pid]\trole\tcontent[\temotions]".
func Turn(at time.Time, role, content, emotions string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if convFile == nil {
		return
	}
	content = strings.ReplaceAll(content, "\n", " ")
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s", at.Format("2006-01-02 15:04:05"), pid, role, content)
	if emotions != "" {
		line += "\t" + emotions
	}
	convFile.WriteString(line + "\n")
}

type LookupMetricsData struct {
	Status     int
	Outcome    string
	DNSMs      float64
	TCPMs      float64
	TLSMs      float64
	TTFBMs     float64
	TotalMs    float64
	ConnReused bool
}

func LookupMetrics(m LookupMetricsData) {
	if !logReady {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	diagLog.Info().
		Int("status", m.Status).
		Str("outcome", m.Outcome).
		Str("conn", connStatus).
		Float64("dns_ms", m.DNSMs).
		Float64("tcp_ms", m.TCPMs).
		Float64("tls_ms", m.TLSMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Msg("patient_lookup")
}

type RecordingMetricsData struct {
	Format        string
	AudioS        float64
	SentChunks    int
	DroppedChunks int
	SentKB        float64
	EncodeMs      float64
}

func RecordingMetrics(m RecordingMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("format", m.Format).
		Float64("audio_s", m.AudioS).
		Int("sent_chunks", m.SentChunks).
		Int("dropped_chunks", m.DroppedChunks).
		Float64("sent_kb", m.SentKB).
		Float64("encode_ms", m.EncodeMs).
		Msg("recording")
}
