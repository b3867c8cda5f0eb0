// Package catalog enumerates the run's input files. The catalog is
// read once at startup and immutable for the life of the run.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dockflow/internal/errors"
	"dockflow/internal/layout"
	"dockflow/internal/naming"
)

// Entry is one input file: a target, candidate ligand, or reference ligand.
type Entry struct {
	Name string // base name without extension, the pipeline-wide identifier
	Path string
}

// Catalog holds the three input sets in deterministic (sorted) order.
type Catalog struct {
	Targets    []Entry
	Candidates []Entry
	References []Entry
}

// Load enumerates the input directories, writes the enumerated lists
// into the cache, and fails fast when any set is empty.
func Load(l layout.Layout) (*Catalog, error) {
	targets, err := scanDir(l.TargetsDir())
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.NewFatalInput(fmt.Sprintf("no target files found in %s", l.TargetsDir()))
	}

	candidates, err := scanDir(l.CandidatesDir())
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.NewFatalInput(fmt.Sprintf("no candidate ligand files found in %s", l.CandidatesDir()))
	}

	references, err := scanDir(l.ReferencesDir())
	if err != nil {
		return nil, err
	}
	if len(references) == 0 {
		return nil, errors.NewFatalInput(fmt.Sprintf("no reference ligand files found in %s", l.ReferencesDir()))
	}

	c := &Catalog{Targets: targets, Candidates: candidates, References: references}

	if err := writeNames(l.TargetNames(), targets); err != nil {
		return nil, err
	}
	if err := writeNames(l.CandidateNames(), candidates); err != nil {
		return nil, err
	}
	if err := writeNames(l.ReferenceNames(), references); err != nil {
		return nil, err
	}

	return c, nil
}

// scanDir lists the .pdbqt files in dir, sorted by name.
func scanDir(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFatalInput(fmt.Sprintf("input directory does not exist: %s", dir))
		}
		return nil, errors.NewInternal(err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), ".pdbqt") {
			continue
		}
		path := filepath.Join(dir, de.Name())
		entries = append(entries, Entry{Name: naming.Stem(path), Path: path})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// writeNames persists one enumerated list, one path per line.
func writeNames(path string, entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Path)
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to write %s: %w", path, err))
	}
	return nil
}
