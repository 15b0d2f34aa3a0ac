package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog     zerolog.Logger
	diagFile    *os.File
	checkinFile *os.File
	logMu       sync.Mutex
	logReady    bool
	pid         int
	dir         string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: KANARI_LOG_PATH environment variable
	envPath := os.Getenv("KANARI_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
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

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	checkinPath := filepath.Join(dir, "checkin_log.txt")
	checkinFile, err = os.OpenFile(checkinPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
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
	if checkinFile != nil {
		checkinFile.Close()
		checkinFile = nil
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

// StateTransition records one orchestrator state change.
func StateTransition(from, to, cause string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("from", from).
		Str("to", to).
		Str("cause", cause).
		Msg("state_transition")
}

// CheckinText appends one finalized message line to the check-in transcript log.
func CheckinText(role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, role, text)
	checkinFile.WriteString(line)
}

type SessionMetricsData struct {
	DurationS     float64
	UserTurns     int
	AssistantTurns int
	Mismatches    int
	BargeIns      int
	AudioS        float64
	Widgets       int
}

func SessionMetrics(m SessionMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("duration_s", m.DurationS).
		Int("user_turns", m.UserTurns).
		Int("assistant_turns", m.AssistantTurns).
		Int("mismatches", m.Mismatches).
		Int("barge_ins", m.BargeIns).
		Float64("audio_s", m.AudioS).
		Int("widgets", m.Widgets).
		Msg("session_metrics")
}

func SessionStart(sessionID, backend string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session_id", sessionID).
		Str("backend", backend).
		Msg("session_start")
}

func SessionEnd(sessionID string, messages int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session_id", sessionID).
		Int("messages", messages).
		Msg("session_end")
}
