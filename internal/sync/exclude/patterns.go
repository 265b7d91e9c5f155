// Package exclude decides which paths are left out of a sync. Patterns use
// gitignore-like syntax: "*" and "?" within a segment, "**" across segments,
// a trailing "/" for directories only, a leading "/" to anchor at the root
// and a leading "!" to re-include. The last matching pattern wins, and
// nothing below an excluded directory can be re-included.
package exclude

import (
	"bufio"
	"path"
	"strings"

	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/spf13/afero"
)

type rule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	hasSlash bool
}

type Matcher struct {
	rules []rule
}

func DefaultPatterns() []string {
	return []string{
		".git/",
		".DS_Store",
		"._*",
		"Thumbs.db",
		"desktop.ini",
		"~$*",
		"*.tmp",
		"*" + utils.PartialDownloadSuffix,
	}
}

func New(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range DefaultPatterns() {
		m.add(p)
	}
	for _, p := range patterns {
		m.add(p)
	}
	return m
}

func (m *Matcher) add(p string) {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "#") {
		return
	}
	r := rule{}
	if strings.HasPrefix(p, "!") {
		r.negate = true
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimSuffix(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		r.hasSlash = true
		p = strings.TrimPrefix(p, "/")
	}
	if strings.Contains(p, "/") {
		r.hasSlash = true
	}
	if p == "" {
		return
	}
	r.pattern = p
	m.rules = append(m.rules, r)
}

// Len returns the number of active rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.Trim(strings.TrimPrefix(relPath, "./"), "/")
	if relPath == "" || relPath == "." {
		return false
	}

	segments := strings.Split(relPath, "/")
	for i := 1; i < len(segments); i++ {
		if m.decide(strings.Join(segments[:i], "/"), true) {
			return true
		}
	}
	return m.decide(relPath, isDir)
}

func (m *Matcher) decide(p string, isDir bool) bool {
	excluded := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.matches(p) {
			excluded = !r.negate
		}
	}
	return excluded
}

func (r rule) matches(p string) bool {
	if !r.hasSlash {
		ok, _ := path.Match(r.pattern, path.Base(p))
		return ok
	}
	return matchSegments(strings.Split(r.pattern, "/"), strings.Split(p, "/"))
}

func matchSegments(pattern, segments []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(segments); i++ {
				if matchSegments(rest, segments[i:]) {
					return true
				}
			}
			return false
		}
		if len(segments) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], segments[0]); !ok {
			return false
		}
		pattern = pattern[1:]
		segments = segments[1:]
	}
	return len(segments) == 0
}

// LoadIgnoreFile reads patterns from an ignore file, one per line. A missing
// file yields no patterns.
func LoadIgnoreFile(fs afero.Fs, name string) ([]string, error) {
	f, err := fs.Open(name)
	if err != nil {
		if exists, _ := afero.Exists(fs, name); !exists {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}
