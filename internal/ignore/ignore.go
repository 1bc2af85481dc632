// Package ignore reads gitignore-style files that keep files out of the
// watched document directory.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFile is the ignore file the watcher looks for in its directory.
const DefaultFile = ".screenpilotignore"

type rule struct {
	pattern string
	negate  bool
}

// Matcher decides whether a file name is ignored. The last matching rule
// wins, so a later "!keep.md" re-includes a file an earlier "*.md" excluded.
type Matcher struct {
	rules []rule
}

// Load reads the ignore files in dir, in order. Missing files are skipped;
// with none present the Matcher ignores nothing.
func Load(dir string, files ...string) (*Matcher, error) {
	m := &Matcher{}
	for _, name := range files {
		rules, err := parseFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.rules = append(m.rules, rules...)
	}
	return m, nil
}

// New builds a Matcher from pattern lines.
func New(lines ...string) (*Matcher, error) {
	m := &Matcher{}
	for _, line := range lines {
		r, ok, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		if ok {
			m.rules = append(m.rules, r)
		}
	}
	return m, nil
}

// Match reports whether the file at path is ignored. Only the base name is
// compared, since the watched directory is flat.
func (m *Matcher) Match(path string) bool {
	if m == nil {
		return false
	}
	name := filepath.Base(path)
	ignored := false
	for _, r := range m.rules {
		if ok, _ := filepath.Match(r.pattern, name); ok {
			ignored = !r.negate
		}
	}
	return ignored
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

func parseFile(path string) ([]rule, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rules []rule
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		r, ok, err := parseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if ok {
			rules = append(rules, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// parseLine parses one line. ok is false for comments, blank lines and
// directory patterns, which never match a file in a flat directory.
func parseLine(line string) (r rule, ok bool, err error) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false, nil
	}
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	line = strings.TrimPrefix(line, "/")
	line = strings.TrimPrefix(line, "**/")
	if line == "" || strings.HasSuffix(line, "/") {
		return rule{}, false, nil
	}

	if _, err := filepath.Match(line, ""); err != nil {
		return rule{}, false, fmt.Errorf("invalid pattern %q: %w", line, err)
	}
	r.pattern = line
	return r, true, nil
}
