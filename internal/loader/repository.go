package loader

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"kisync/internal/kis"
	"kisync/internal/model"
)

// RepositoryLoader pulls a snapshot of a git repository. Load performs a
// shallow clone into a temporary directory; the per-file git blob SHA is
// the fingerprint, so only content changes mark a document as changed.
type RepositoryLoader struct {
	source *model.Source
	filter *PatternFilter
	retry  kis.RetryPolicy
}

// NewRepositoryLoader creates a loader for a repository source.
func NewRepositoryLoader(source *model.Source, retry kis.RetryPolicy) *RepositoryLoader {
	cfg := source.Config
	return &RepositoryLoader{
		source: source,
		filter: NewPatternFilter(cfg.FilePatterns, cfg.PathFilter),
		retry:  retry,
	}
}

// Validate checks the source configuration without any network call.
func (l *RepositoryLoader) Validate() error {
	cfg := l.source.Config
	if cfg.RepoURL == "" {
		return &kis.ConfigError{Field: "repo_url", Reason: "must not be empty"}
	}
	if strings.ContainsAny(cfg.Branch, " \t\n") {
		return &kis.ConfigError{Field: "branch", Reason: "must not contain whitespace"}
	}
	if bad, ok := validatePatterns(cfg.FilePatterns); !ok {
		return &kis.ConfigError{Field: "file_patterns", Reason: fmt.Sprintf("invalid pattern %q", bad)}
	}
	return nil
}

// Load clones the repository and returns an iterator over its matching
// files. The clone failure is a fetch error; the clone itself is retried
// under the loader's policy.
func (l *RepositoryLoader) Load(ctx context.Context) (kis.DocumentIterator, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "kisync-repo-*")
	if err != nil {
		return nil, fmt.Errorf("creating clone directory: %w", err)
	}

	err = l.retry.Do(ctx, func() error {
		return l.clone(ctx, dir)
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, &kis.FetchError{Source: l.source.Config.RepoURL, Err: err}
	}

	entries, err := l.listFiles(ctx, dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, &kis.FetchError{Source: l.source.Config.RepoURL, Err: err}
	}

	return &repositoryIterator{
		repoURL: l.source.Config.RepoURL,
		dir:     dir,
		entries: entries,
	}, nil
}

func (l *RepositoryLoader) clone(ctx context.Context, dir string) error {
	cfg := l.source.Config

	args := []string{"clone", "--depth", "1", "--single-branch", "--quiet"}
	if cfg.Branch != "" {
		args = append(args, "--branch", cfg.Branch)
	}
	args = append(args, cfg.RepoURL, dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w\n%s", err, string(output))
	}
	return nil
}

// fileEntry is one matching file with its git blob SHA.
type fileEntry struct {
	path string
	sha  string
}

// listFiles parses `git ls-tree -r HEAD` to get every tracked file with
// its blob SHA. Reading the SHAs from the tree avoids hashing file
// contents ourselves and stays identical across clone machines.
func (l *RepositoryLoader) listFiles(ctx context.Context, dir string) ([]fileEntry, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-tree", "-r", "HEAD")
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git ls-tree failed: %w", err)
	}

	var entries []fileEntry
	for _, line := range strings.Split(string(output), "\n") {
		if line == "" {
			continue
		}
		// Format: <mode> <type> <sha>\t<path>
		meta, path, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 || fields[1] != "blob" {
			continue
		}
		if !l.filter.Match(path) {
			continue
		}
		entries = append(entries, fileEntry{path: path, sha: fields[2]})
	}
	return entries, nil
}

type repositoryIterator struct {
	repoURL string
	dir     string
	entries []fileEntry
	pos     int
	closed  bool
}

// Next reads the next matching file from the clone. File contents are
// read lazily so large repositories never load fully into memory.
func (it *repositoryIterator) Next(ctx context.Context) (*kis.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.entries) {
		return nil, nil
	}

	entry := it.entries[it.pos]
	it.pos++

	content, err := os.ReadFile(filepath.Join(it.dir, entry.path))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", entry.path, err)
	}

	return &kis.Document{
		Identifier:  "repository://" + it.repoURL + "/" + entry.path,
		Name:        filepath.Base(entry.path),
		ContentType: contentTypeFor(entry.path),
		Fingerprint: entry.sha,
		Content:     content,
		Metadata: map[string]string{
			"path": entry.path,
		},
	}, nil
}

// Close removes the clone directory. Safe to call more than once.
func (it *repositoryIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return os.RemoveAll(it.dir)
}

// contentTypeFor maps a file extension to a MIME type, defaulting to
// text/plain for unknown or absent extensions.
func contentTypeFor(path string) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		return "text/plain"
	}
	// Strip charset parameters; the catalog stores the bare type.
	if base, _, ok := strings.Cut(ct, ";"); ok {
		return strings.TrimSpace(base)
	}
	return ct
}

// Compile-time check that RepositoryLoader implements kis.ContentLoader
var _ kis.ContentLoader = (*RepositoryLoader)(nil)
