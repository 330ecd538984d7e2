package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const defaultURL = "https://github.com/acme/fallback"

// writeFile creates a file under dir and returns its path.
func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

// newResolver builds a Resolver over files in dir; missing files are simply absent.
func newResolver(dir string) *Resolver {
	return New(Options{
		ManifestPath:  filepath.Join(dir, "package.json"),
		OverridePath:  filepath.Join(dir, "settings.env"),
		GitConfigPath: filepath.Join(dir, ".git", "config"),
		Host:          "github.com",
		DefaultURL:    defaultURL,
		Branch:        "main",
	})
}

// TestResolve_Manifest covers the string and object forms of the repository field.
func TestResolve_Manifest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		manifest string
	}{
		{
			name:     "string",
			manifest: `{"name":"launcher","repository":"git+https://github.com/acme/bot.git"}`,
		},
		{
			name:     "object",
			manifest: `{"repository":{"type":"git","url":"https://github.com/acme/bot/"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, dir, "package.json", tt.manifest)
			writeFile(t, dir, "settings.env", "REPO=github.com/other/ignored\n")

			location := newResolver(dir).Resolve(context.Background())
			require.Equal(t, SourceManifest, location.Source)
			require.Equal(t, "https://github.com/acme/bot", location.RepositoryURL)
			require.Equal(t, "https://github.com/acme/bot/archive/refs/heads/main.zip", location.ArchiveURL)
		})
	}
}

// TestResolve_Override verifies the override file is used when the manifest has no repository.
func TestResolve_Override(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"name":"launcher"}`)
	writeFile(t, dir, "settings.env", "SESSION_ID=x\n# source: https://github.com/acme/bot-fork.git\n")

	location := newResolver(dir).Resolve(context.Background())
	require.Equal(t, SourceOverride, location.Source)
	require.Equal(t, "https://github.com/acme/bot-fork", location.RepositoryURL)
}

// TestResolve_OverrideTrailingPunctuation verifies punctuation after a
// reference does not end up in the repository name.
func TestResolve_OverrideTrailingPunctuation(t *testing.T) {
	t.Parallel()

	references := map[string]string{
		"period":      "# source: https://github.com/acme/bot.\n",
		"parenthesis": "# mirror of the bot (github.com/acme/bot)\n",
		"comma":       "# see github.com/acme/bot, the upstream\n",
		"git suffix":  "# clone https://github.com/acme/bot.git.\n",
	}

	for name, contents := range references {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, dir, "settings.env", contents)

			location := newResolver(dir).Resolve(context.Background())
			require.Equal(t, SourceOverride, location.Source)
			require.Equal(t, "https://github.com/acme/bot", location.RepositoryURL)
			require.Equal(t, "https://github.com/acme/bot/archive/refs/heads/main.zip", location.ArchiveURL)
		})
	}

	dir := t.TempDir()
	writeFile(t, dir, "settings.env", "# https://github.com/acme/bot.js.\n")

	location := newResolver(dir).Resolve(context.Background())
	require.Equal(t, "https://github.com/acme/bot.js", location.RepositoryURL)
}

// TestResolve_GitConfig verifies the remote url of a git configuration is used.
func TestResolve_GitConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "package.json", "{not json")
	writeFile(t, dir, ".git/config", "[remote \"origin\"]\n\turl = https://github.com/acme/from-git.git\n")

	location := newResolver(dir).Resolve(context.Background())
	require.Equal(t, SourceGitConfig, location.Source)
	require.Equal(t, "https://github.com/acme/from-git", location.RepositoryURL)
}

// TestResolve_Default verifies resolution never fails when nothing is present.
func TestResolve_Default(t *testing.T) {
	t.Parallel()

	location := newResolver(t.TempDir()).Resolve(context.Background())
	require.Equal(t, SourceDefault, location.Source)
	require.Equal(t, defaultURL, location.RepositoryURL)
	require.Equal(t, defaultURL+"/archive/refs/heads/main.zip", location.ArchiveURL)
}

// TestResolve_OverrideHostMismatch verifies references to other hosts are ignored.
func TestResolve_OverrideHostMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "settings.env", "SOURCE=gitlab.com/acme/bot\n")

	location := newResolver(dir).Resolve(context.Background())
	require.Equal(t, SourceDefault, location.Source)
}

// TestArchiveURL verifies the branch archive address.
func TestArchiveURL(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"https://github.com/acme/bot/archive/refs/heads/dev.zip",
		ArchiveURL("https://github.com/acme/bot/", "dev"))
}
