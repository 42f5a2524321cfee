// Package token owns the Freshbooks access/refresh token pair: its
// on-disk persistence and the single-flight refresh policy around it.
package token

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	keyLastUpdatedAt = "lastUpdatedAt"
	keyRefreshToken  = "refreshToken"
	keyAccessToken   = "accessToken"

	lineDelim     = ":"
	commentSymbol = "#"
)

var (
	// ErrNoPath is returned when no auth file path is configured.
	ErrNoPath = errors.New("token: no auth file specified")

	// ErrAccess is returned when the auth file is missing or lacks
	// read/write permission. Fatal at startup.
	ErrAccess = errors.New("token: auth file missing or not readable/writable")

	// ErrFormat is returned when the auth file contents are malformed.
	// Fatal at startup.
	ErrFormat = errors.New("token: malformed auth file")
)

// Record is the persisted token state. LastUpdatedAt is epoch
// milliseconds of the last successful refresh. A record is valid only
// when all three fields are present.
type Record struct {
	LastUpdatedAt int64
	RefreshToken  string
	AccessToken   string
}

// Store reads and writes the token record as a flat key:value file:
//
//	lastUpdatedAt:<epoch millis>
//	refreshToken:<value>
//	accessToken:<value>
//
// Lines starting with '#' before the three required lines are skipped.
// The line terminator (\r\n or \n) is detected on load and reused for
// every subsequent save so the file keeps a consistent style.
type Store struct {
	path    string
	newline string
}

// NewStore verifies the auth file exists with read/write access and
// returns a store bound to it.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, ErrNoPath
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAccess, path)
	}
	f.Close()

	return &Store{path: path, newline: "\r\n"}, nil
}

// Load reads and validates the token record from disk.
func (s *Store) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrAccess, s.path)
	}

	contents := string(data)
	switch {
	case strings.Contains(contents, "\r\n"):
		s.newline = "\r\n"
	case strings.Contains(contents, "\n"):
		s.newline = "\n"
	default:
		return Record{}, fmt.Errorf("%w: no line terminator found", ErrFormat)
	}

	lines := strings.Split(contents, s.newline)

	// Skip leading comment lines.
	idx := 0
	for idx < len(lines) && strings.HasPrefix(lines[idx], commentSymbol) {
		idx++
	}
	if len(lines)-idx < 3 {
		return Record{}, fmt.Errorf("%w: expected 3 lines (%s, %s, %s)",
			ErrFormat, keyLastUpdatedAt, keyRefreshToken, keyAccessToken)
	}

	rawUpdated, err := valueFromLine(lines[idx], keyLastUpdatedAt)
	if err != nil {
		return Record{}, err
	}
	lastUpdatedAt, err := strconv.ParseInt(rawUpdated, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s is not a timestamp: %q", ErrFormat, keyLastUpdatedAt, rawUpdated)
	}

	refreshToken, err := valueFromLine(lines[idx+1], keyRefreshToken)
	if err != nil {
		return Record{}, err
	}
	accessToken, err := valueFromLine(lines[idx+2], keyAccessToken)
	if err != nil {
		return Record{}, err
	}

	return Record{
		LastUpdatedAt: lastUpdatedAt,
		RefreshToken:  refreshToken,
		AccessToken:   accessToken,
	}, nil
}

// Save overwrites the auth file with the record, using the line
// terminator detected at load time.
func (s *Store) Save(rec Record) error {
	var b strings.Builder
	b.WriteString(keyLastUpdatedAt + lineDelim + strconv.FormatInt(rec.LastUpdatedAt, 10) + s.newline)
	b.WriteString(keyRefreshToken + lineDelim + rec.RefreshToken + s.newline)
	b.WriteString(keyAccessToken + lineDelim + rec.AccessToken)

	if err := os.WriteFile(s.path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("token: saving auth file: %w", err)
	}
	return nil
}

// Path returns the auth file path.
func (s *Store) Path() string {
	return s.path
}

func valueFromLine(line, key string) (string, error) {
	pair := strings.SplitN(line, lineDelim, 2)
	if len(pair) != 2 {
		return "", fmt.Errorf("%w: invalid line %q", ErrFormat, line)
	}
	if pair[0] != key {
		return "", fmt.Errorf("%w: expected key %q in line %q", ErrFormat, key, line)
	}
	return strings.TrimSpace(pair[1]), nil
}
