package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sha1n/mcp-tender-kb/internal/domain"
)

// Artifact kinds, each a top-level directory under the storage root.
const (
	KindUploads   = "uploads"
	KindBlocks    = "kb"
	KindArtifacts = "artifacts"
	KindExports   = "exports"
	KindLocks     = "locks"
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Root resolves artifact paths of the form {root}/{kind}/{owner}/{artifact}.{ext}.
// No path it hands out or accepts may leave the root directory.
type Root struct {
	dir string
}

// NewRoot creates the root directory if needed and returns a resolver for it.
func NewRoot(dir string) (*Root, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	// Resolve symlinks so containment checks compare like with like.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Root{dir: abs}, nil
}

// Dir returns the absolute root directory.
func (r *Root) Dir() string {
	return r.dir
}

// Path returns the artifact path for the given segments. Segments are ids,
// never caller-supplied paths, and are rejected if they contain separators.
func (r *Root) Path(kind, owner, artifact, ext string) (string, error) {
	for _, seg := range []string{kind, owner, artifact, ext} {
		if !validSegment(seg) {
			return "", domain.Errorf(domain.ErrForbidden, "invalid path segment %q", seg)
		}
	}
	return r.Contain(filepath.Join(r.dir, kind, owner, artifact+"."+ext))
}

// OwnerDir returns the directory holding all artifacts of one owner.
func (r *Root) OwnerDir(kind, owner string) (string, error) {
	if !validSegment(kind) || !validSegment(owner) {
		return "", domain.Errorf(domain.ErrForbidden, "invalid path segment %q/%q", kind, owner)
	}
	return r.Contain(filepath.Join(r.dir, kind, owner))
}

// Contain returns the cleaned absolute form of path if it lies strictly inside
// the root, and ErrForbidden otherwise. Symlinks in the existing part of the
// path are resolved before the check.
func (r *Root) Contain(path string) (string, error) {
	if path == "" {
		return "", domain.Errorf(domain.ErrForbidden, "empty path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, path)
	}
	clean := filepath.Clean(path)
	if !r.inside(clean) {
		return "", domain.Errorf(domain.ErrForbidden, "path %q escapes storage root", path)
	}
	resolved, err := resolveExisting(clean)
	if err != nil || !r.inside(resolved) {
		return "", domain.Errorf(domain.ErrForbidden, "path %q resolves outside storage root", path)
	}
	return clean, nil
}

func (r *Root) inside(path string) bool {
	rel, err := filepath.Rel(r.dir, path)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting evaluates symlinks in the longest existing prefix of path
// and appends the remaining segments unchanged.
func resolveExisting(path string) (string, error) {
	var rest []string
	for p := path; ; {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return path, nil
		}
		rest = append([]string{filepath.Base(p)}, rest...)
		p = parent
	}
}

// Remove deletes a file inside the root. Missing files are not an error.
func (r *Root) Remove(path string) error {
	clean, err := r.Contain(path)
	if err != nil {
		return err
	}
	if err := os.Remove(clean); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", clean, err)
	}
	return nil
}

// RemoveOwner deletes every artifact of one owner.
func (r *Root) RemoveOwner(kind, owner string) error {
	dir, err := r.OwnerDir(kind, owner)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// ReadFile reads a file after checking it lies inside the root.
func (r *Root) ReadFile(path string) ([]byte, error) {
	clean, err := r.Contain(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(clean)
}

func validSegment(s string) bool {
	return segmentPattern.MatchString(s) && !strings.Contains(s, "..")
}
