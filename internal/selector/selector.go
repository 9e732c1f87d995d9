// Package selector turns the test tree on disk and user supplied names into
// test identifiers.
//
// Tests live at <root>/<framework>/<group>/<name>, one directory per test.
package selector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Frameworks in the order tests are scheduled.
var Frameworks = []string{"pytorch", "onnx", "tensorflow"}

// Groups of tests within a framework.
var Groups = []string{"operators", "combinations", "models"}

var (
	// ErrInvalidTestID is returned for names that are not framework/group/name.
	ErrInvalidTestID = errors.New("invalid test id")

	// ErrTestNotFound is returned for an explicit test with no directory.
	ErrTestNotFound = errors.New("test does not exist")
)

// TestID names one test.
type TestID struct {
	Framework string
	Group     string
	Name      string
}

func (id TestID) String() string {
	return id.Framework + "/" + id.Group + "/" + id.Name
}

// Path is the test's location relative to the tests root.
func (id TestID) Path() string {
	return filepath.Join(id.Framework, id.Group, id.Name)
}

// Parse reads a path-like test id. Leading and trailing separators are
// stripped and the result is NFC normalized.
func Parse(s string) (TestID, error) {
	clean := strings.Trim(filepath.ToSlash(norm.NFC.String(s)), "/")
	parts := strings.Split(clean, "/")
	if len(parts) != 3 || slices.Contains(parts, "") {
		return TestID{}, fmt.Errorf("%w: %q must be framework/group/name", ErrInvalidTestID, s)
	}
	if !slices.Contains(Frameworks, parts[0]) {
		return TestID{}, fmt.Errorf("%w: %q must start with a valid framework name: %s",
			ErrInvalidTestID, s, strings.Join(Frameworks, ", "))
	}
	return TestID{Framework: parts[0], Group: parts[1], Name: parts[2]}, nil
}

// List enumerates the test directories of framework in each of groups,
// sorted by id. Missing group directories contribute nothing.
func List(root, framework string, groups []string) ([]TestID, error) {
	var ids []TestID
	for _, group := range groups {
		entries, err := os.ReadDir(filepath.Join(root, framework, group))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", framework, group, err)
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			ids = append(ids, TestID{
				Framework: framework,
				Group:     group,
				Name:      norm.NFC.String(e.Name()),
			})
		}
	}
	slices.SortFunc(ids, func(a, b TestID) int { return strings.Compare(a.String(), b.String()) })
	return ids, nil
}

// ParseAll resolves explicitly named tests against root and groups them by
// framework. Every framework in Frameworks has an entry; input order is kept
// within a framework.
func ParseAll(root string, names []string) (map[string][]TestID, error) {
	byFramework := make(map[string][]TestID, len(Frameworks))
	for _, fw := range Frameworks {
		byFramework[fw] = nil
	}
	for _, name := range names {
		id, err := Parse(name)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(filepath.Join(root, id.Path()))
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrTestNotFound, id)
		}
		byFramework[id.Framework] = append(byFramework[id.Framework], id)
	}
	return byFramework, nil
}

// Dedupe drops repeated ids, keeping the first occurrence of each.
func Dedupe(ids []TestID) []TestID {
	seen := make(map[TestID]bool, len(ids))
	out := make([]TestID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
