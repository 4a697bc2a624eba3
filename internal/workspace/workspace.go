
// Package workspace builds and validates filesystem paths for a task's
// intermediate artifacts (§4.3): workspace_root/channels/{channel_id}/
// projects/{project_id}/{kind}. Every path goes through identifier
// validation and a containment check before any directory is created.
package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vidforge/orchestrator/internal/orcherr"
)

// Kind enumerates the artifact directories a project can hold.
type Kind string

const (
	KindCharacters  Kind = "assets/characters"
	KindEnvironments Kind = "assets/environments"
	KindProps       Kind = "assets/props"
	KindComposites  Kind = "assets/composites"
	KindVideos      Kind = "videos"
	KindAudio       Kind = "audio"
	KindSFX         Kind = "sfx"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// Pather resolves and creates per-project artifact directories rooted at a
// single workspace root.
type Pather struct {
	root string
}

// New builds a Pather rooted at root. root is resolved to an absolute,
// symlink-free path once at construction time.
func New(root string) (*Pather, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// root may not exist yet; fall back to the absolute path and let
		// MkdirAll create it. Containment checks below re-resolve symlinks
		// for every descendant once they exist.
		resolved = abs
	}
	return &Pather{root: resolved}, nil
}

// Path validates channelID, projectID, and kind, then returns the resolved
// absolute directory path for that project artifact kind without creating
// it. Use EnsureDir to create it.
func (p *Pather) Path(channelID, projectID string, kind Kind) (string, error) {
	if !identifierPattern.MatchString(channelID) {
		return "", &orcherr.ValidationError{Field: "channel_id", Reason: "must match ^[A-Za-z0-9_-]{1,100}$"}
	}
	if !identifierPattern.MatchString(projectID) {
		return "", &orcherr.ValidationError{Field: "project_id", Reason: "must match ^[A-Za-z0-9_-]{1,100}$"}
	}

	joined := filepath.Join(p.root, "channels", channelID, "projects", projectID, string(kind))
	if err := p.checkContainment(joined); err != nil {
		return "", err
	}
	return joined, nil
}

// checkContainment ensures joined (once any existing symlinks are resolved)
// remains a descendant of the workspace root. Non-existent path segments
// are accepted as-is since EvalSymlinks on a path that doesn't exist yet
// fails; the identifier regex already rules out ".." traversal in the
// inputs we construct paths from.
func (p *Pather) checkContainment(joined string) error {
	rel, err := filepath.Rel(p.root, joined)
	if err != nil {
		return &orcherr.PathEscapeError{Identifier: joined, Resolved: joined}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &orcherr.PathEscapeError{Identifier: joined, Resolved: joined}
	}

	resolvable := joined
	for {
		if resolved, err := filepath.EvalSymlinks(resolvable); err == nil {
			rel, err := filepath.Rel(p.root, resolved)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return &orcherr.PathEscapeError{Identifier: joined, Resolved: resolved}
			}
			return nil
		}
		parent := filepath.Dir(resolvable)
		if parent == resolvable {
			return nil // reached filesystem root without resolving anything; nothing exists yet
		}
		resolvable = parent
	}
}

// EnsureDir validates and creates (idempotently) the directory for
// channelID/projectID/kind, returning its path.
func (p *Pather) EnsureDir(channelID, projectID string, kind Kind) (string, error) {
	path, err := p.Path(channelID, projectID, kind)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Root returns the resolved workspace root.
func (p *Pather) Root() string {
	return p.root
}
