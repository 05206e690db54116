package cql

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

var (
	includePattern = regexp.MustCompile(`include\s+(\w+)\s+version\s+'([^']+)'(?:\s+called\s+(\w+))?`)
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// SafeVersion reports whether v can be part of a library file name.
func SafeVersion(v string) bool {
	return versionPattern.MatchString(v) && !strings.Contains(v, "..")
}

// ParseIncludes lists the libraries a document includes, in declaration order.
func ParseIncludes(text string) []Include {
	out := []Include{}
	for _, m := range includePattern.FindAllStringSubmatch(text, -1) {
		out = append(out, Include{Name: m[1], Version: m[2], Alias: m[3]})
	}
	return out
}

// LibraryResolver locates included libraries next to the main document.
type LibraryResolver struct {
	dir    string
	logger zerolog.Logger
}

func NewLibraryResolver(dir string, logger zerolog.Logger) *LibraryResolver {
	return &LibraryResolver{dir: dir, logger: logger.With().Str("component", "library_resolver").Logger()}
}

// Candidates returns the file names tried for inc, most specific first.
// A version that is not a plain file name fragment yields none.
func Candidates(inc Include) []string {
	if !SafeVersion(inc.Version) {
		return nil
	}
	dashed := strings.ReplaceAll(inc.Version, ".", "-")
	return []string{
		fmt.Sprintf("%s-v%s-QDM-5-6.cql", inc.Name, dashed),
		fmt.Sprintf("%s-v%s.cql", inc.Name, dashed),
		fmt.Sprintf("%s-%s.cql", inc.Name, inc.Version),
		inc.Name + ".cql",
	}
}

// Resolve reads every include it can find. Libraries that cannot be located
// are returned by name in missing; they are not an error.
func (r *LibraryResolver) Resolve(includes []Include) (libs []Library, missing []string) {
	libs = []Library{}
	missing = []string{}
	if r.dir == "" {
		for _, inc := range includes {
			missing = append(missing, inc.Name)
		}
		return libs, missing
	}

	for _, inc := range includes {
		if !SafeVersion(inc.Version) {
			r.logger.Warn().Str("library", inc.Name).Str("version", inc.Version).Msg("include version rejected")
			missing = append(missing, inc.Name)
			continue
		}
		lib, ok := r.find(inc)
		if !ok {
			r.logger.Warn().Str("library", inc.Name).Str("version", inc.Version).Msg("included library not found")
			missing = append(missing, inc.Name)
			continue
		}
		libs = append(libs, lib)
	}
	return libs, missing
}

func (r *LibraryResolver) find(inc Include) (Library, bool) {
	root, err := filepath.Abs(r.dir)
	if err != nil {
		return Library{}, false
	}
	for _, name := range Candidates(inc) {
		path := filepath.Join(root, name)
		if rel, err := filepath.Rel(root, path); err != nil || rel != filepath.Base(path) {
			r.logger.Warn().Str("library", inc.Name).Str("version", inc.Version).Msg("library path escapes library directory")
			continue
		}
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		r.logger.Debug().Str("library", inc.Name).Str("path", path).Msg("included library resolved")
		return Library{Include: inc, Path: path, Text: string(b)}, true
	}
	return Library{}, false
}
