package logs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogService_HandleClientLog(t *testing.T) {
	var out bytes.Buffer
	logService := NewLogService(zerolog.New(&out))
	router := mux.NewRouter()
	logService.RegisterRoutes(router)

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "valid log request",
			body: ClientLogRequest{
				Level:  LogLevelLog,
				Module: "menu-page",
				Args:   []string{"menu", "loaded"},
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"logged"`,
		},
		{
			name: "valid error log",
			body: ClientLogRequest{
				Level:  LogLevelError,
				Module: "cart",
				Args:   []string{"submit failed"},
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"logged"`,
		},
		{
			name: "missing module",
			body: map[string]interface{}{
				"level": "log",
				"args":  []string{"test"},
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Invalid log request",
		},
		{
			name: "empty args array",
			body: ClientLogRequest{
				Level:  LogLevelLog,
				Module: "test",
				Args:   []string{},
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Invalid log request",
		},
		{
			name: "invalid log level",
			body: ClientLogRequest{
				Level:  "invalid",
				Module: "test",
				Args:   []string{"test"},
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Invalid log level",
		},
		{
			name:           "invalid JSON",
			body:           "invalid json",
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			if str, ok := tt.body.(string); ok {
				body = []byte(str)
			} else {
				var err error
				body, err = json.Marshal(tt.body)
				require.NoError(t, err)
			}

			req := httptest.NewRequest("POST", "/api/logs/client", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.expectedBody)
		})
	}
}

func TestLogService_WritesStructuredFields(t *testing.T) {
	var out bytes.Buffer
	logService := NewLogService(zerolog.New(&out))
	router := mux.NewRouter()
	logService.RegisterRoutes(router)

	body := `{"level":"warn","module":"` + strings.Repeat("m", 80) + `","args":["slow","network"]}`
	req := httptest.NewRequest("POST", "/api/logs/client", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "client", line["source"])
	assert.Equal(t, "slow network", line["message"])
	assert.Len(t, line["module"], 50)
}

func TestInitLoggerTo_Level(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var out bytes.Buffer
	InitLoggerTo(&out, "warn", "json")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	InitLoggerTo(&out, "nonsense", "json")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
