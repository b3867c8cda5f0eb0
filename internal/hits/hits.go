// Package hits selects the best-scoring poses for a target from the
// score mirror and gathers their docked artifacts into one directory.
package hits

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dockflow/internal/errors"
	"dockflow/internal/layout"
	"dockflow/internal/naming"
	"dockflow/internal/scoredb"
)

// Options selects which records count as hits. TopN and the score
// range are mutually exclusive; TopN wins when both are set.
type Options struct {
	Target string
	TopN   int
	Min    float64
	Max    float64
	OutDir string
}

// Collect queries the mirror, copies each hit's docked artifacts into
// OutDir, and writes a hits.txt manifest there. It returns the
// selected records in rank order.
func Collect(db *sql.DB, l layout.Layout, opts Options) ([]scoredb.Record, error) {
	if opts.Target == "" {
		return nil, errors.NewFatalInput("hit selection requires a target")
	}

	var records []scoredb.Record
	var err error
	switch {
	case opts.TopN > 0:
		records, err = scoredb.TopN(db, opts.Target, opts.TopN)
	case opts.Min != 0 || opts.Max != 0:
		records, err = scoredb.ScoreRange(db, opts.Target, opts.Min, opts.Max)
	default:
		return nil, errors.NewFatalInput("hit selection requires --top or a score range")
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		return nil, errors.NewInternal(err)
	}

	var manifest strings.Builder
	manifest.WriteString("# Score  Name\n")
	for _, rec := range records {
		fmt.Fprintf(&manifest, "%g %s\n", rec.Score, rec.Name)
		if err := copyArtifacts(l, rec, opts.OutDir); err != nil {
			return nil, err
		}
	}
	manifestPath := filepath.Join(opts.OutDir, "hits.txt")
	if err := os.WriteFile(manifestPath, []byte(manifest.String()), 0644); err != nil {
		return nil, errors.NewInternal(err)
	}
	return records, nil
}

// copyArtifacts copies every artifact of one hit out of its result
// directory. Artifacts are matched by task-name prefix so collision
// copies come along too.
func copyArtifacts(l layout.Layout, rec scoredb.Record, outDir string) error {
	pose, err := naming.ParsePose(rec.Name)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("unparseable hit name %q: %w", rec.Name, err))
	}
	task := naming.Task{Pose: pose, Target: rec.Target}
	prefix := task.String()

	root := l.LigandDir(pose.Ligand)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		// Scored but never placed; the mirror may outlive pruned results.
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.NewInternal(err)
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), prefix) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.NewInternal(err)
		}
		if err := os.WriteFile(filepath.Join(outDir, d.Name()), data, 0644); err != nil {
			return errors.NewInternal(err)
		}
		return nil
	})
}
