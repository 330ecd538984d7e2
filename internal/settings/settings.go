package settings

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Keys understood in the configuration export and the environment.
const (
	KeySessionID   = "SESSION_ID"
	KeyTimezone    = "TIMEZONE"
	KeyOwnerName   = "BOT_OWNER"
	KeyOwnerNumber = "OWNER_NUMBER"
	KeyPrefix      = "PREFIX"
)

// legacyKeys maps each key to the spelling older deployments export.
var legacyKeys = map[string]string{
	KeyTimezone:    "timezone",
	KeyOwnerName:   "botOwner",
	KeyOwnerNumber: "ownerNumber",
	KeyPrefix:      "Prefix",
}

// DefaultTimezone is used when neither the file nor the environment sets one.
const DefaultTimezone = "UTC"

// prefixSeparator splits a multi-value prefix list.
const prefixSeparator = ","

// DefaultPrefixes returns the command prefixes used when none are configured.
// The empty prefix lets commands run without any leading character.
func DefaultPrefixes() []string {
	return []string{"", "!", ".", "#", "&"}
}

// LookupFunc resolves an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Settings is the effective bundle configuration.
type Settings struct {
	// SessionID identifies the application session; treated as a secret.
	SessionID string
	// Timezone is an IANA timezone name.
	Timezone string
	// OwnerName is the owner's display name.
	OwnerName string
	// OwnerNumber is the owner's contact identifier.
	OwnerNumber string
	// Prefixes are the accepted command prefixes.
	Prefixes []string
}

// Load reads the export at path and resolves it against the process environment.
func Load(path string) (*Settings, error) {
	return LoadWithLookup(path, os.LookupEnv)
}

// LoadWithLookup reads the export at path and resolves it against lookup.
func LoadWithLookup(path string, lookup LookupFunc) (*Settings, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	return Parse(file, lookup)
}

// Parse reads an export from r and resolves it against lookup.
// A nil lookup ignores the environment.
func Parse(r io.Reader, lookup LookupFunc) (*Settings, error) {
	values, err := godotenv.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	return Resolve(values, lookup), nil
}

// Resolve builds Settings from file values, environment overrides and defaults.
func Resolve(values map[string]string, lookup LookupFunc) *Settings {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}

	fromFile := func(key string) (string, bool) {
		value, ok := values[key]

		return value, ok && value != ""
	}

	// The environment wins over the file; the canonical key wins over its
	// legacy spelling within each source.
	get := func(key string) (string, bool) {
		names := []string{key}
		if legacy, ok := legacyKeys[key]; ok {
			names = append(names, legacy)
		}

		for _, source := range []LookupFunc{lookup, fromFile} {
			for _, name := range names {
				if value, ok := source(name); ok && value != "" {
					return value, true
				}
			}
		}

		return "", false
	}

	s := &Settings{
		Timezone: DefaultTimezone,
		Prefixes: DefaultPrefixes(),
	}

	if value, ok := get(KeySessionID); ok {
		s.SessionID = value
	}

	if value, ok := get(KeyTimezone); ok {
		s.Timezone = value
	}

	if value, ok := get(KeyOwnerName); ok {
		s.OwnerName = value
	}

	if value, ok := get(KeyOwnerNumber); ok {
		s.OwnerNumber = value
	}

	if value, ok := get(KeyPrefix); ok {
		s.Prefixes = ParsePrefixes(value)
	}

	return s
}

// ParsePrefixes splits a comma separated prefix list. A single character is
// always taken literally, so "," configures the comma itself.
func ParsePrefixes(value string) []string {
	if len([]rune(value)) == 1 {
		return []string{value}
	}

	parts := strings.Split(value, prefixSeparator)
	prefixes := make([]string, 0, len(parts))

	for _, part := range parts {
		prefixes = append(prefixes, strings.TrimSpace(part))
	}

	return prefixes
}

// Redacted returns key-value pairs suitable for logging, with the session masked.
func (s *Settings) Redacted() []any {
	session := "<unset>"
	if s.SessionID != "" {
		session = "<redacted>"
	}

	return []any{
		"session_id", session,
		"timezone", s.Timezone,
		"owner", s.OwnerName,
		"prefixes", s.Prefixes,
	}
}
