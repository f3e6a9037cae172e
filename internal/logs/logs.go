// Package logs configures structured logging for the kiosk and exposes the
// diner UI log sink.
package logs

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ferg-cod3s/tableside/kiosk/internal/security"
)

// InitLogger initializes the global logger. format is "json" or "console";
// an unknown level falls back to info.
func InitLogger(level, format string) {
	InitLoggerTo(os.Stderr, level, format)
}

// InitLoggerTo is InitLogger with an explicit output
func InitLoggerTo(out io.Writer, level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// Component returns a child of the global logger tagged with a component name
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// LogLevel represents valid client log levels
type LogLevel string

const (
	LogLevelLog   LogLevel = "log"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelDebug LogLevel = "debug"
)

// ClientLogRequest represents a client-side log request
type ClientLogRequest struct {
	Level  LogLevel `json:"level"`
	Module string   `json:"module"`
	Args   []string `json:"args"`
}

// LogService forwards diner UI log lines into the kiosk log
type LogService struct {
	logger zerolog.Logger
}

// NewLogService creates a new log service
func NewLogService(logger zerolog.Logger) *LogService {
	return &LogService{logger: logger}
}

// RegisterRoutes registers log-related routes
func (ls *LogService) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/logs/client", ls.handleClientLog).Methods("POST")
}

// handleClientLog processes client-side log messages
func (ls *LogService) handleClientLog(w http.ResponseWriter, r *http.Request) {
	var req ClientLogRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Level == "" || req.Module == "" || len(req.Args) == 0 {
		http.Error(w, "Invalid log request. Required: level, module, args[]", http.StatusBadRequest)
		return
	}

	var event *zerolog.Event
	switch req.Level {
	case LogLevelError:
		event = ls.logger.Error()
	case LogLevelWarn:
		event = ls.logger.Warn()
	case LogLevelDebug:
		event = ls.logger.Debug()
	case LogLevelLog:
		event = ls.logger.Info()
	default:
		http.Error(w, "Invalid log level", http.StatusBadRequest)
		return
	}

	module := strings.TrimSpace(req.Module)
	if len(module) > 50 {
		module = module[:50]
	}

	event.Str("source", "client").Str("module", module).Msg(security.SanitizeLogLine(strings.Join(req.Args, " ")))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "logged"})
}
