package store

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

// CookieStore implements Store as a cookie jar file holding the two session cookies
type CookieStore struct {
	path      string
	codec     Codec
	retention time.Duration
	clock     clock.Clock
	mu        sync.Mutex
}

// NewCookieStore creates a cookie jar at path. Cookies expire after retention.
func NewCookieStore(path string, codec Codec, retention time.Duration, clk clock.Clock) (*CookieStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cookie directory: %w", err)
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &CookieStore{
		path:      path,
		codec:     codec,
		retention: retention,
		clock:     clk,
	}, nil
}

// Save writes both cookies, replacing any previous session
func (cs *CookieStore) Save(id string, data *types.Session) error {
	value, err := encodeEntry(cs.codec, id, data)
	if err != nil {
		return err
	}

	expires := cs.clock.Now().Add(cs.retention)
	jar := []*http.Cookie{
		cs.cookie(SessionIDKey, id, expires),
		cs.cookie(SessionDataKey, value, expires),
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.writeJar(jar)
}

// Load reads the jar, ignoring cookies past their expiry
func (cs *CookieStore) Load() (string, *types.Session, error) {
	cs.mu.Lock()
	jar, err := cs.readJar()
	cs.mu.Unlock()
	if err != nil {
		return "", nil, err
	}

	now := cs.clock.Now()
	values := make(map[string]string, len(jar))
	for _, c := range jar {
		if c == nil || (!c.Expires.IsZero() && !now.Before(c.Expires)) {
			continue
		}
		values[c.Name] = c.Value
	}

	return decodeEntries(cs.codec, values[SessionIDKey], values[SessionDataKey])
}

// Clear removes the jar file
func (cs *CookieStore) Clear() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := os.Remove(cs.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cookie jar: %w", err)
	}
	return nil
}

// Close is a no-op for the file store
func (cs *CookieStore) Close() error {
	return nil
}

func (cs *CookieStore) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires.UTC(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (cs *CookieStore) readJar() ([]*http.Cookie, error) {
	raw, err := os.ReadFile(cs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cookie jar: %w", err)
	}

	var jar []*http.Cookie
	if err := json.Unmarshal(raw, &jar); err != nil {
		return nil, fmt.Errorf("%w: cookie jar: %v", ErrCorrupt, err)
	}
	return jar, nil
}

func (cs *CookieStore) writeJar(jar []*http.Cookie) error {
	raw, err := json.MarshalIndent(jar, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookie jar: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(cs.path), ".cookies-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cookie jar: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cookie jar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cookie jar: %w", err)
	}
	if err := os.Rename(tmp.Name(), cs.path); err != nil {
		return fmt.Errorf("failed to replace cookie jar: %w", err)
	}
	return nil
}
