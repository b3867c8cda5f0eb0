// Package rank derives the reference-relative rankings from the score
// ledgers: signed per-target deviations, the RMS substitutability
// ranking per reference, and the best-overall summary.
package rank

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"dockflow/internal/errors"
	"dockflow/internal/layout"
	"dockflow/internal/ledger"
)

// Deviation is one pose's signed score difference from a reference on
// one target. Negative means the pose scores below the reference.
type Deviation struct {
	Name  string
	Value float64
}

// RMSEntry is one pose's aggregated substitutability score for a
/// reference: sqrt(mean(deviation^2)) across however many targets
// produced a deviation. Lower is more similar to the reference.
type RMSEntry struct {
	Name string
	RMS  float64
}

// ReferenceRanking holds everything derived for one reference ligand.
type ReferenceRanking struct {
	Reference string
	// Deviations maps target name to that target's deviations, sorted
	// ascending by absolute value (sign preserved in the stored value).
	Deviations map[string][]Deviation
	// RMS is the substitutability ranking, sorted ascending.
	RMS []RMSEntry
}

// Ranker reads ledgers and writes ranking files into the layout.
type Ranker struct {
	Ledger ledger.ScoreLedger
	Layout layout.Layout
}

// Rank computes the full ranking for one reference across targets.
// Targets where the reference has no score are skipped.
func (r *Ranker) Rank(reference string, targets []string) (*ReferenceRanking, error) {
	out := &ReferenceRanking{
		Reference:  reference,
		Deviations: map[string][]Deviation{},
	}
	squares := map[string][]float64{}

	for _, target := range targets {
		records, err := r.Ledger.Records(target)
		if err != nil {
			return nil, err
		}

		refScore, ok := findScore(records, reference)
		if !ok {
			continue
		}

		var devs []Deviation
		for _, rec := range records {
			if rec.Name == reference {
				continue
			}
			d := Deviation{Name: rec.Name, Value: rec.Score - refScore}
			devs = append(devs, d)
			squares[rec.Name] = append(squares[rec.Name], d.Value*d.Value)
		}

		// Closest to the reference ranks first; the sign is preserved in
		// the value, not in the sort key.
		sort.SliceStable(devs, func(i, j int) bool {
			return math.Abs(devs[i].Value) < math.Abs(devs[j].Value)
		})
		out.Deviations[target] = devs
	}

	for name, sq := range squares {
		sum := 0.0
		for _, s := range sq {
			sum += s
		}
		out.RMS = append(out.RMS, RMSEntry{
			Name: name,
			RMS:  math.Sqrt(sum / float64(len(sq))),
		})
	}
	sort.Slice(out.RMS, func(i, j int) bool {
		if out.RMS[i].RMS != out.RMS[j].RMS {
			return out.RMS[i].RMS < out.RMS[j].RMS
		}
		return out.RMS[i].Name < out.RMS[j].Name
	})

	return out, nil
}

// WriteReferenceRankings materializes the deviation and RMS files for
// every reference and returns the computed rankings for reuse.
func (r *Ranker) WriteReferenceRankings(references, targets []string) ([]*ReferenceRanking, error) {
	var rankings []*ReferenceRanking
	for _, reference := range references {
		ranking, err := r.Rank(reference, targets)
		if err != nil {
			return nil, err
		}
		if err := r.writeRanking(ranking); err != nil {
			return nil, err
		}
		rankings = append(rankings, ranking)
	}
	return rankings, nil
}

func (r *Ranker) writeRanking(ranking *ReferenceRanking) error {
	if err := os.MkdirAll(r.Layout.ReferenceScoresDir(ranking.Reference), 0755); err != nil {
		return errors.NewInternal(err)
	}

	for target, devs := range ranking.Deviations {
		var b strings.Builder
		b.WriteString("# Deviation  Name\n")
		for _, d := range devs {
			fmt.Fprintf(&b, "%.8f %s\n", d.Value, d.Name)
		}
		path := r.Layout.DeviationFile(ranking.Reference, target)
		if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
			return errors.NewInternal(err)
		}
	}

	var b strings.Builder
	b.WriteString("# RMS  Name\n")
	for _, e := range ranking.RMS {
		fmt.Fprintf(&b, "%.8f %s\n", e.RMS, e.Name)
	}
	if err := os.WriteFile(r.Layout.RMSFile(ranking.Reference), []byte(b.String()), 0644); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// WriteBestOverall ranks every pose by its single best (lowest) score
// across all targets, regardless of reference. Names in exclude
// (the references) are left out.
func (r *Ranker) WriteBestOverall(targets, exclude []string) error {
	excluded := map[string]bool{}
	for _, name := range exclude {
		excluded[name] = true
	}

	best := map[string]float64{}
	for _, target := range targets {
		records, err := r.Ledger.Records(target)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if excluded[rec.Name] {
				continue
			}
			if cur, ok := best[rec.Name]; !ok || rec.Score < cur {
				best[rec.Name] = rec.Score
			}
		}
	}

	entries := make([]ledger.Record, 0, len(best))
	for name, score := range best {
		entries = append(entries, ledger.Record{Score: score, Name: name})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score < entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})

	var b strings.Builder
	b.WriteString("# BestScore  Name\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s\n", ledger.FormatScore(e.Score), e.Name)
	}
	if err := os.WriteFile(r.Layout.BestLigandsOverall(), []byte(b.String()), 0644); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// WriteLegacyAggregate writes the superseded inverse-variance-weighted
// aggregate across all references. It is kept as a documented
// alternative output and is never mixed into the RMS rankings.
func (r *Ranker) WriteLegacyAggregate(references, targets []string) error {
	refSet := map[string]bool{}
	for _, name := range references {
		refSet[name] = true
	}

	// name -> sum of 1/rms^2 and contributing-target count
	totals := map[string]float64{}
	counts := map[string]int{}

	for _, target := range targets {
		records, err := r.Ledger.Records(target)
		if err != nil {
			return err
		}

		var refScores []float64
		for _, rec := range records {
			if refSet[rec.Name] {
				refScores = append(refScores, rec.Score)
			}
		}
		if len(refScores) == 0 {
			continue
		}

		for _, rec := range records {
			if refSet[rec.Name] {
				continue
			}
			sum := 0.0
			for _, ref := range refScores {
				d := rec.Score - ref
				sum += d * d
			}
			rms := math.Sqrt(sum / float64(len(refScores)))
			if rms > 0 {
				totals[rec.Name] += 1 / (rms * rms)
				counts[rec.Name]++
			}
		}
	}

	var lines []string
	for name, total := range totals {
		final := math.Sqrt(float64(counts[name]) / total)
		lines = append(lines, fmt.Sprintf("%.8f %s", final, name))
	}
	sort.Strings(lines)

	raw := strings.Join(lines, "\n")
	if raw != "" {
		raw += "\n"
	}
	if err := os.WriteFile(r.Layout.BestLigands(), []byte(raw), 0644); err != nil {
		return errors.NewInternal(err)
	}

	// Ranked variant: ascending by aggregate value.
	sort.SliceStable(lines, func(i, j int) bool {
		var vi, vj float64
		fmt.Sscanf(lines[i], "%f", &vi)
		fmt.Sscanf(lines[j], "%f", &vj)
		return vi < vj
	})
	ranked := strings.Join(lines, "\n")
	if ranked != "" {
		ranked += "\n"
	}
	if err := os.WriteFile(r.Layout.RankedBestLigands(), []byte(ranked), 0644); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func findScore(records []ledger.Record, name string) (float64, bool) {
	for _, r := range records {
		if r.Name == name {
			return r.Score, true
		}
	}
	return 0, false
}
