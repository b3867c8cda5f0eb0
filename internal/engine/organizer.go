package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dockflow/internal/errors"
	"dockflow/internal/naming"
	"dockflow/internal/rank"
)

// placeTask moves a task's raw artifacts out of results/temp into the
// canonical tree. Poses of multi-pose ligands nest under a
// model-specific subdirectory; single-pose ligands (and references)
// sit directly under their ligand directory.
func (s *Session) placeTask(task naming.Task, multiPose bool) error {
	destDir := s.Layout.LigandDir(task.Pose.Ligand)
	if multiPose && task.Pose.Model > 0 {
		destDir = filepath.Join(destDir, task.Pose.ModelDir())
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return errors.NewInternal(err)
	}

	for _, name := range []string{task.LogName(), task.OutName()} {
		src := filepath.Join(s.Layout.TempDir(), name)
		if _, err := os.Stat(src); err != nil {
			// A failed task may have no docked output; move what exists.
			continue
		}
		dst, err := resolveCollision(filepath.Join(destDir, name))
		if err != nil {
			return err
		}
		if err := os.Rename(src, dst); err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

// resolveCollision returns dst unchanged when it is free, otherwise
// the first "<stem>_copyN<ext>" with the smallest unused N >= 1.
func resolveCollision(dst string) (string, error) {
	if _, err := os.Stat(dst); os.IsNotExist(err) {
		return dst, nil
	} else if err != nil {
		return "", errors.NewInternal(err)
	}

	ext := filepath.Ext(dst)
	stem := strings.TrimSuffix(dst, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_copy%d%s", stem, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", errors.NewInternal(err)
		}
	}
}

// sweepTemp places any artifacts left in results/temp by an
// interrupted run. Files whose names don't parse as task artifacts
// move to the results root instead of being dropped.
func (s *Session) sweepTemp() error {
	entries, err := os.ReadDir(s.Layout.TempDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewInternal(err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		task, err := naming.ParseTask(naming.Stem(e.Name()))
		if err != nil {
			src := filepath.Join(s.Layout.TempDir(), e.Name())
			dst, err := resolveCollision(filepath.Join(s.Layout.ResultsDir(), e.Name()))
			if err != nil {
				return err
			}
			if err := os.Rename(src, dst); err != nil {
				return errors.NewInternal(err)
			}
			continue
		}

		poses, err := s.existingPoses(task.Pose.Ligand)
		if err != nil {
			return err
		}
		if err := s.placeTask(task, len(poses) > 1); err != nil {
			return err
		}
	}
	return nil
}

// writeSummaries generates each pose directory's summary file: per
// reference, the pose's RMS value and rank, plus its per-target
// signed deviation and rank.
func (s *Session) writeSummaries(rankings []*rank.ReferenceRanking) error {
	for _, lig := range s.Catalog.Candidates {
		poses, err := s.existingPoses(lig.Name)
		if err != nil {
			return err
		}
		multi := len(poses) > 1
		for _, pf := range poses {
			dir := s.Layout.LigandDir(lig.Name)
			if multi {
				dir = filepath.Join(dir, pf.Pose.ModelDir())
			}
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				// Pose never completed a task; nothing to summarize.
				continue
			}
			content := poseSummary(pf.Pose, rankings)
			if err := os.WriteFile(filepath.Join(dir, "summary.txt"), []byte(content), 0644); err != nil {
				return errors.NewInternal(err)
			}
		}
	}
	return nil
}

// poseSummary renders one pose's standing against every reference.
func poseSummary(pose naming.Pose, rankings []*rank.ReferenceRanking) string {
	name := pose.String()
	var b strings.Builder
	fmt.Fprintf(&b, "# Summary for %s\n", name)

	for _, ranking := range rankings {
		fmt.Fprintf(&b, "\nReference: %s\n", ranking.Reference)

		if pos, entry := findRMS(ranking.RMS, name); pos > 0 {
			fmt.Fprintf(&b, "  RMS: %.8f (rank %d/%d)\n", entry.RMS, pos, len(ranking.RMS))
		} else {
			fmt.Fprintf(&b, "  RMS: not ranked\n")
		}

		for _, target := range sortedTargets(ranking.Deviations) {
			devs := ranking.Deviations[target]
			if pos, dev := findDeviation(devs, name); pos > 0 {
				fmt.Fprintf(&b, "  %s: deviation %+.8f (rank %d/%d)\n", target, dev, pos, len(devs))
			}
		}
	}
	return b.String()
}

func findRMS(entries []rank.RMSEntry, name string) (int, rank.RMSEntry) {
	for i, e := range entries {
		if e.Name == name {
			return i + 1, e
		}
	}
	return 0, rank.RMSEntry{}
}

func findDeviation(devs []rank.Deviation, name string) (int, float64) {
	for i, d := range devs {
		if d.Name == name {
			return i + 1, d.Value
		}
	}
	return 0, 0
}

func sortedTargets(m map[string][]rank.Deviation) []string {
	targets := make([]string, 0, len(m))
	for t := range m {
		targets = append(targets, t)
	}
	// map order is random; summaries must be reproducible
	sort.Strings(targets)
	return targets
}
