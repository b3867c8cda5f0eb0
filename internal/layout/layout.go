// Package layout maps the canonical on-disk workspace layout. Every
// path the pipeline reads or writes is derived from a Layout so the
// directory scheme lives in exactly one place.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves workspace paths relative to a root directory.
type Layout struct {
	Root string
}

// New returns a Layout rooted at dir.
func New(dir string) Layout {
	return Layout{Root: dir}
}

// Input directories.

func (l Layout) TargetsDir() string    { return filepath.Join(l.Root, "targets") }
func (l Layout) CandidatesDir() string { return filepath.Join(l.Root, "candidates") }
func (l Layout) ReferencesDir() string { return filepath.Join(l.Root, "reference_ligands") }
func (l Layout) ConfigDir() string     { return filepath.Join(l.Root, "config") }
func (l Layout) CacheDir() string      { return filepath.Join(l.Root, "cache") }
func (l Layout) ResultsDir() string    { return filepath.Join(l.Root, "results") }

// Cache files.

// ProgressCache is the checkpoint file: five KEY=INTEGER lines.
func (l Layout) ProgressCache() string {
	return filepath.Join(l.CacheDir(), "progress_cache.txt")
}

func (l Layout) TargetNames() string {
	return filepath.Join(l.CacheDir(), "targetNames.txt")
}

func (l Layout) CandidateNames() string {
	return filepath.Join(l.CacheDir(), "candidateNames.txt")
}

func (l Layout) ReferenceNames() string {
	return filepath.Join(l.CacheDir(), "referenceNames.txt")
}

// ModelsDir holds the extracted poses of one candidate ligand.
func (l Layout) ModelsDir(ligand string) string {
	return filepath.Join(l.CacheDir(), "models_"+ligand)
}

func (l Layout) CacheBackupDir() string {
	return filepath.Join(l.CacheDir(), "cache_backup")
}

func (l Layout) RunLog() string {
	return filepath.Join(l.CacheDir(), "run.log")
}

func (l Layout) ScoreDB() string {
	return filepath.Join(l.CacheDir(), "scores.db")
}

// Per-target docking-box override.
func (l Layout) TargetConfig(target string) string {
	return filepath.Join(l.ConfigDir(), fmt.Sprintf("config_%s.txt", target))
}

// Result files.

// TempDir holds in-flight task artifacts before the organizer places them.
func (l Layout) TempDir() string { return filepath.Join(l.ResultsDir(), "temp") }

func (l Layout) ScoresDir() string { return filepath.Join(l.ResultsDir(), "scores") }
func (l Layout) DockedDir() string { return filepath.Join(l.ResultsDir(), "docked") }

// ScoresFile is the sorted per-target ledger.
func (l Layout) ScoresFile(target string) string {
	return filepath.Join(l.ScoresDir(), fmt.Sprintf("scores_%s.txt", target))
}

// ScoresCSV is the ledger's machine-readable mirror.
func (l Layout) ScoresCSV(target string) string {
	return filepath.Join(l.ScoresDir(), fmt.Sprintf("scores_%s.csv", target))
}

// ScoresStats is the ledger's derived statistics summary.
func (l Layout) ScoresStats(target string) string {
	return filepath.Join(l.ScoresDir(), fmt.Sprintf("scores_%s_stats.txt", target))
}

// RMSFile ranks poses by RMS deviation from one reference ligand.
func (l Layout) RMSFile(reference string) string {
	return filepath.Join(l.ScoresDir(), fmt.Sprintf("scores_%s_RMS.txt", reference))
}

// ReferenceScoresDir holds the per-target deviation files for one reference.
func (l Layout) ReferenceScoresDir(reference string) string {
	return filepath.Join(l.ScoresDir(), "scores_"+reference)
}

// DeviationFile lists signed deviations from one reference on one target.
func (l Layout) DeviationFile(reference, target string) string {
	return filepath.Join(l.ReferenceScoresDir(reference),
		fmt.Sprintf("scores_%s_in_%s.txt", reference, target))
}

// LigandDir is the result directory for one candidate ligand.
func (l Layout) LigandDir(ligand string) string {
	return filepath.Join(l.DockedDir(), ligand)
}

func (l Layout) BestLigands() string {
	return filepath.Join(l.ResultsDir(), "best_ligands.txt")
}

func (l Layout) RankedBestLigands() string {
	return filepath.Join(l.ResultsDir(), "ranked_best_ligands.txt")
}

func (l Layout) BestLigandsOverall() string {
	return filepath.Join(l.ResultsDir(), "best_ligands_overall.txt")
}

func (l Layout) FailedAttempts() string {
	return filepath.Join(l.ResultsDir(), "failed_docking_attempts.txt")
}

func (l Layout) ReportHTML() string {
	return filepath.Join(l.ResultsDir(), "report.html")
}

// EnsureDirs creates every directory the pipeline expects.
func (l Layout) EnsureDirs() error {
	dirs := []string{
		l.TargetsDir(), l.CandidatesDir(), l.ReferencesDir(),
		l.ConfigDir(), l.CacheDir(),
		l.ResultsDir(), l.TempDir(), l.ScoresDir(), l.DockedDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
