// Package checkpoint persists the pipeline's position within its
// nested iteration space so an interrupted run resumes at the exact
// next unit of work.
package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dockflow/internal/errors"
)

// Cursor identifies one of the five iteration cursors, ordered from
// outermost to innermost.
type Cursor int

const (
	// Reference-scoring phase: references (outer) over targets (inner).
	ReferenceLigand Cursor = iota
	ReferenceTarget
	// Main phase: ligands over poses over targets.
	Ligand
	Model
	Target
)

// Keys in file order. The file always carries all five.
var keys = []string{
	"REFERENCE_LIGAND_INDEX",
	"REFERENCE_TARGET_INDEX",
	"LIGAND_INDEX",
	"MODEL_INDEX",
	"TARGET_INDEX",
}

// Checkpoint holds the five cursors. Each cursor points at the next
// unit of work, never at completed work.
type Checkpoint struct {
	path    string
	cursors [5]int
}

// Init creates a zeroed checkpoint file at path if none exists and
// returns the loaded checkpoint.
func Init(path string) (*Checkpoint, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c := &Checkpoint{path: path}
		if err := c.Save(); err != nil {
			return nil, err
		}
		return c, nil
	}
	return Load(path)
}

// Load reads the checkpoint file. A missing file is fatal: the caller
// is expected to have run Init during startup.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewCheckpointMissing(path)
		}
		return nil, errors.NewInternal(err)
	}
	defer f.Close()

	values := map[string]int{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, errors.NewInternal(fmt.Errorf("malformed checkpoint line %q in %s", line, path))
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, errors.NewInternal(fmt.Errorf("invalid cursor value %q in %s", line, path))
		}
		values[strings.TrimSpace(key)] = n
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	c := &Checkpoint{path: path}
	for i, key := range keys {
		n, ok := values[key]
		if !ok {
			return nil, errors.NewInternal(fmt.Errorf("checkpoint %s is missing %s", path, key))
		}
		c.cursors[i] = n
	}
	return c, nil
}

// Get returns the value of one cursor.
func (c *Checkpoint) Get(cur Cursor) int {
	return c.cursors[cur]
}

// Set assigns one cursor directly without touching nested cursors.
func (c *Checkpoint) Set(cur Cursor, v int) {
	c.cursors[cur] = v
}

// Advance increments one cursor and zeroes every cursor nested
// beneath it within the same phase.
func (c *Checkpoint) Advance(cur Cursor) {
	c.cursors[cur]++
	switch cur {
	case ReferenceLigand:
		c.cursors[ReferenceTarget] = 0
	case Ligand:
		c.cursors[Model] = 0
		c.cursors[Target] = 0
	case Model:
		c.cursors[Target] = 0
	}
}

// Save persists all five cursors atomically: the file is written to a
// temporary sibling and renamed into place so an interruption can
// never truncate the checkpoint.
func (c *Checkpoint) Save() error {
	var b strings.Builder
	for i, key := range keys {
		fmt.Fprintf(&b, "%s=%d\n", key, c.cursors[i])
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to write checkpoint: %w", err))
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return errors.NewInternal(fmt.Errorf("failed to replace checkpoint: %w", err))
	}
	return nil
}
