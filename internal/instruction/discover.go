package instruction

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPattern matches instruction files in the input directory.
const DefaultPattern = "*.json"

// Discover returns the instruction files under dir matching pattern, sorted
// so batches run in a stable order.
func Discover(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid instruction pattern %q", pattern)
	}

	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s in %s: %w", pattern, dir, err)
	}
	sort.Strings(matches)

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(dir, filepath.FromSlash(m)))
	}
	return paths, nil
}

// Located is a document reference resolved to a readable file.
type Located struct {
	Ref   DocumentRef
	Index int // position among resolved documents, in instruction order
	Path  string
}

// Resolve finds each referenced document under docDir. Documents that do not
// exist are returned as ErrMissingDocument warnings and dropped. A filename
// listed twice is kept once.
func Resolve(in *Instruction, docDir string) ([]Located, []error) {
	var found []Located
	var warnings []error
	seen := make(map[string]bool)

	for _, ref := range in.Documents {
		if seen[ref.Filename] {
			warnings = append(warnings, fmt.Errorf("duplicate document %s ignored", ref.Filename))
			continue
		}
		seen[ref.Filename] = true

		rel := filepath.FromSlash(ref.Filename)
		if !filepath.IsLocal(rel) {
			warnings = append(warnings, fmt.Errorf("%w: %s: path escapes document directory", ErrMissingDocument, ref.Filename))
			continue
		}

		path := filepath.Join(docDir, rel)
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			warnings = append(warnings, fmt.Errorf("%w: %s", ErrMissingDocument, ref.Filename))
			continue
		case err != nil:
			warnings = append(warnings, fmt.Errorf("%w: %s: %v", ErrMissingDocument, ref.Filename, err))
			continue
		case info.IsDir():
			warnings = append(warnings, fmt.Errorf("%w: %s is a directory", ErrMissingDocument, ref.Filename))
			continue
		}

		found = append(found, Located{Ref: ref, Index: len(found), Path: path})
	}
	return found, warnings
}
