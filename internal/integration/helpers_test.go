package integration

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/bundle-launcher/internal/config"
)

const (
	// archivePath is where the fake artifact host serves the bundle.
	archivePath = "/acme/bot/archive/refs/heads/main.zip"
	// bundleRootName is the top-level directory inside the archive.
	bundleRootName = "bot-main"
)

// requireShell skips tests that run shell scripts as the application.
func requireShell(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

// reservePort returns address on a free TCP port and closes it.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// bundleZip builds a zip with files placed under bundleRootName.
func bundleZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	var buffer bytes.Buffer

	writer := zip.NewWriter(&buffer)

	for _, name := range names {
		header := &zip.FileHeader{Name: bundleRootName + "/" + name, Method: zip.Deflate}
		header.SetMode(0o644)

		w, err := writer.CreateHeader(header)
		require.NoError(t, err)

		_, err = io.WriteString(w, files[name])
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return buffer.Bytes()
}

// serveArtifact starts a fake artifact host serving archive at archivePath.
func serveArtifact(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(archivePath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

// prepareLauncherDir switches into a fresh directory holding the launcher's
// own manifest, pointing at repositoryURL, and launcher settings.
func prepareLauncherDir(t *testing.T, repositoryURL string, mutate func(*config.Config)) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)

	manifest := `{"name":"bundle-launcher","repository":{"type":"git","url":"git+` + repositoryURL + `.git"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o600))

	cfg := config.Default()
	cfg.Bundle.Runtime = "sh"
	cfg.Bundle.EntryPoint = "index.sh"
	cfg.Installer.Command = "sh"
	cfg.Installer.Args = []string{"-c", "mkdir -p node_modules/left-pad"}
	cfg.Restart.Delay = 10 * time.Millisecond
	cfg.Restart.GracePeriod = 2 * time.Second
	cfg.Download.Timeout = 5 * time.Second

	if mutate != nil {
		mutate(cfg)
	}

	require.NoError(t, config.Save(filepath.Join(dir, config.DefaultConfigFilename), cfg))

	return dir
}

// bundleDir returns the extracted bundle root below the default cache root.
func bundleDir(dir string) string {
	return filepath.Join(dir, config.DefaultCacheRoot, "extracted", bundleRootName)
}
