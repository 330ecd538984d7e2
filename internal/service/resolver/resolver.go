package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/oshokin/bundle-launcher/internal/logger"
)

// Source names where a Location came from.
type Source string

const (
	// SourceManifest is the launcher manifest's repository field.
	SourceManifest Source = "manifest"
	// SourceOverride is a reference found in the override file.
	SourceOverride Source = "override"
	// SourceGitConfig is the remote url of a git configuration file.
	SourceGitConfig Source = "git-config"
	// SourceDefault is the configured fallback.
	SourceDefault Source = "default"
)

// archivePathFormat is appended to a repository URL to address its branch archive.
const archivePathFormat = "/archive/refs/heads/%s.zip"

// repositoryNamePart matches one owner or repository path segment. Dots only
// join word runs, so punctuation after a reference is not part of it.
const repositoryNamePart = `[\w-]+(?:\.[\w-]+)*`

var (
	errNoRepository  = errors.New("no repository field")
	errNoMatch       = errors.New("no repository reference")
	errBadRepository = errors.New("unusable repository value")
)

// Options lists the sources the Resolver consults.
type Options struct {
	// ManifestPath is the launcher manifest (package.json style).
	ManifestPath string
	// OverridePath is the operator override file.
	OverridePath string
	// GitConfigPath is a git configuration file.
	GitConfigPath string
	// Host is the artifact host, e.g. github.com.
	Host string
	// DefaultURL is returned when every other source is unusable.
	DefaultURL string
	// Branch selects the branch archive.
	Branch string
}

// Location is the resolved artifact source.
type Location struct {
	// RepositoryURL is the repository web address without a trailing slash.
	RepositoryURL string
	// ArchiveURL is the address of the branch archive.
	ArchiveURL string
	// Source tells which method produced the location.
	Source Source
}

// Resolver turns Options into a Location.
type Resolver struct {
	opts          Options
	overrideRegex *regexp.Regexp
	gitConfigRe   *regexp.Regexp
}

// New creates a Resolver for the provided options.
func New(opts Options) *Resolver {
	host := regexp.QuoteMeta(opts.Host)

	return &Resolver{
		opts: opts,
		overrideRegex: regexp.MustCompile(
			host + `/(` + repositoryNamePart + `)/(` + repositoryNamePart + `)`,
		),
		gitConfigRe: regexp.MustCompile(
			`url\s*=\s*(https://` + host + `/` + repositoryNamePart + `/` + repositoryNamePart + `)`,
		),
	}
}

// Resolve returns the first usable location. It never fails: broken sources
// are logged at debug level and skipped.
func (r *Resolver) Resolve(ctx context.Context) Location {
	ctx = logger.WithName(ctx, "resolver")

	methods := []struct {
		source Source
		lookup func() (string, error)
	}{
		{SourceManifest, r.fromManifest},
		{SourceOverride, r.fromOverride},
		{SourceGitConfig, r.fromGitConfig},
	}

	for _, method := range methods {
		repositoryURL, err := method.lookup()
		if err != nil {
			logger.DebugKV(ctx, "Repository source skipped", "source", method.source, "error", err)
			continue
		}

		logger.InfoKV(ctx, "Found repository URL", "source", method.source, "repository", repositoryURL)

		return r.location(repositoryURL, method.source)
	}

	logger.WarnKV(ctx, "Using default repository URL", "repository", r.opts.DefaultURL)

	return r.location(normalizeRepositoryURL(r.opts.DefaultURL), SourceDefault)
}

// location builds a Location for a normalized repository URL.
func (r *Resolver) location(repositoryURL string, source Source) Location {
	return Location{
		RepositoryURL: repositoryURL,
		ArchiveURL:    ArchiveURL(repositoryURL, r.opts.Branch),
		Source:        source,
	}
}

// ArchiveURL addresses the branch archive of a repository.
func ArchiveURL(repositoryURL, branch string) string {
	return strings.TrimRight(repositoryURL, "/") + fmt.Sprintf(archivePathFormat, branch)
}

// manifest is the subset of the launcher manifest the resolver reads.
type manifest struct {
	Repository json.RawMessage `json:"repository"`
}

// fromManifest reads the "repository" field, either a string or an object with "url".
func (r *Resolver) fromManifest() (string, error) {
	contents, err := readOptional(r.opts.ManifestPath)
	if err != nil {
		return "", err
	}

	var m manifest
	if err = json.Unmarshal(contents, &m); err != nil {
		return "", fmt.Errorf("decode manifest: %w", err)
	}

	if len(m.Repository) == 0 {
		return "", errNoRepository
	}

	var raw string
	if err = json.Unmarshal(m.Repository, &raw); err != nil {
		var object struct {
			URL string `json:"url"`
		}

		if err = json.Unmarshal(m.Repository, &object); err != nil {
			return "", fmt.Errorf("decode repository: %w", err)
		}

		raw = object.URL
	}

	repositoryURL := normalizeRepositoryURL(raw)
	if !strings.Contains(repositoryURL, "://") {
		return "", fmt.Errorf("%q: %w", raw, errBadRepository)
	}

	return repositoryURL, nil
}

// fromOverride matches a host/owner/repo reference in the override file.
func (r *Resolver) fromOverride() (string, error) {
	contents, err := readOptional(r.opts.OverridePath)
	if err != nil {
		return "", err
	}

	match := r.overrideRegex.FindSubmatch(contents)
	if match == nil {
		return "", errNoMatch
	}

	owner, repo := string(match[1]), strings.TrimSuffix(string(match[2]), ".git")

	return "https://" + r.opts.Host + "/" + owner + "/" + repo, nil
}

// fromGitConfig reads the remote url from a git configuration file.
func (r *Resolver) fromGitConfig() (string, error) {
	contents, err := readOptional(r.opts.GitConfigPath)
	if err != nil {
		return "", err
	}

	match := r.gitConfigRe.FindSubmatch(contents)
	if match == nil {
		return "", errNoMatch
	}

	return normalizeRepositoryURL(string(match[1])), nil
}

// normalizeRepositoryURL strips the git+ scheme prefix, the .git suffix and trailing slashes.
func normalizeRepositoryURL(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "git+")
	value = strings.TrimRight(value, "/")

	return strings.TrimSuffix(value, ".git")
}

// readOptional reads a source file; a blank path counts as a missing source.
func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}

	return os.ReadFile(filepath.Clean(path))
}
