// Package ledger implements the per-target score store. The ledger
// is append-only at write time but re-materialized in sorted order
// after every append, together with a machine-readable mirror and a
// derived statistics summary.
package ledger

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"dockflow/internal/errors"
	"dockflow/internal/layout"
)

// Header is the first line of every ledger file.
const Header = "# Score  Name"

// Record is one (score, name) row of a target's ledger.
type Record struct {
	Score float64
	Name  string
}

// ScoreLedger is the store of scoring results per target. The file
// implementation rewrites the whole ledger on every append, which is
// fine at this scale; larger deployments can swap in an in-memory
// sorted structure with periodic flush behind the same interface.
type ScoreLedger interface {
	// Append records one score and re-materializes the target's ledger.
	Append(target, name string, score float64) error
	// Has reports whether a record for (target, name) already exists.
	Has(target, name string) (bool, error)
	// Records returns the target's rows in ledger (sorted) order.
	Records(target string) ([]Record, error)
}

// FileLedger stores ledgers as text files in the canonical layout.
type FileLedger struct {
	layout layout.Layout
}

// NewFileLedger returns a ledger writing into l's scores directory.
func NewFileLedger(l layout.Layout) *FileLedger {
	return &FileLedger{layout: l}
}

// Append appends one row, re-sorts the ledger ascending by score with
// stable tie order, and regenerates the CSV mirror and statistics.
func (fl *FileLedger) Append(target, name string, score float64) error {
	records, err := fl.Records(target)
	if err != nil {
		return err
	}
	records = append(records, Record{Score: score, Name: name})

	// Stable sort keeps equal scores in append order across re-sorts.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Score < records[j].Score
	})

	if err := fl.write(target, records); err != nil {
		return err
	}
	if err := fl.writeCSV(target, records); err != nil {
		return err
	}
	return fl.writeStats(target, records)
}

// Has reports whether the target's ledger holds a row named name.
func (fl *FileLedger) Has(target, name string) (bool, error) {
	records, err := fl.Records(target)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Records reads the target's ledger rows. A missing ledger file is an
// empty ledger, not an error.
func (fl *FileLedger) Records(target string) ([]Record, error) {
	f, err := os.Open(fl.layout.ScoresFile(target))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewInternal(err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Header and comment rows are filtered out before sorting.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		scoreStr, name, found := strings.Cut(line, " ")
		if !found {
			continue
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			continue
		}
		records = append(records, Record{Score: score, Name: strings.TrimSpace(name)})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return records, nil
}

// write rewrites the ledger file: header plus sorted rows.
func (fl *FileLedger) write(target string, records []Record) error {
	var b strings.Builder
	b.WriteString(Header + "\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%s %s\n", FormatScore(r.Score), r.Name)
	}
	if err := os.WriteFile(fl.layout.ScoresFile(target), []byte(b.String()), 0644); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to write ledger for %s: %w", target, err))
	}
	return nil
}

// writeCSV regenerates the delimited mirror of the ledger.
func (fl *FileLedger) writeCSV(target string, records []Record) error {
	f, err := os.Create(fl.layout.ScoresCSV(target))
	if err != nil {
		return errors.NewInternal(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"score", "name"}); err != nil {
		return errors.NewInternal(err)
	}
	for _, r := range records {
		if err := w.Write([]string{FormatScore(r.Score), r.Name}); err != nil {
			return errors.NewInternal(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// writeStats regenerates the derived summary: count, mean, median,
// standard deviation.
func (fl *FileLedger) writeStats(target string, records []Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Statistics for %s\n", target)
	fmt.Fprintf(&b, "count=%d\n", len(records))
	if len(records) > 0 {
		mean, median, stddev := stats(records)
		fmt.Fprintf(&b, "mean=%.4f\n", mean)
		fmt.Fprintf(&b, "median=%.4f\n", median)
		fmt.Fprintf(&b, "stddev=%.4f\n", stddev)
	}
	if err := os.WriteFile(fl.layout.ScoresStats(target), []byte(b.String()), 0644); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// stats computes mean, median, and population standard deviation over
// sorted records.
func stats(records []Record) (mean, median, stddev float64) {
	n := len(records)
	sum := 0.0
	for _, r := range records {
		sum += r.Score
	}
	mean = sum / float64(n)

	// Records arrive sorted by score.
	if n%2 == 1 {
		median = records[n/2].Score
	} else {
		median = (records[n/2-1].Score + records[n/2].Score) / 2
	}

	variance := 0.0
	for _, r := range records {
		d := r.Score - mean
		variance += d * d
	}
	stddev = math.Sqrt(variance / float64(n))
	return mean, median, stddev
}

// FormatScore renders a score the way it appears in every ledger row.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
