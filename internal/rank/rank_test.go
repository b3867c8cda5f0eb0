package rank

import (
	"math"
	"os"
	"strings"
	"testing"

	"dockflow/internal/layout"
	"dockflow/internal/ledger"
)

func newRanker(t *testing.T) (*Ranker, layout.Layout) {
	t.Helper()
	l := layout.New(t.TempDir())
	if err := l.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	return &Ranker{Ledger: ledger.NewFileLedger(l), Layout: l}, l
}

func appendAll(t *testing.T, r *Ranker, target string, rows map[string]float64, order []string) {
	t.Helper()
	for _, name := range order {
		if err := r.Ledger.Append(target, name, rows[name]); err != nil {
			t.Fatal(err)
		}
	}
}

// Reference scores 6.0 on both targets; the pose scores 5.0 and 7.0,
// so deviations are -1 and +1 and the RMS must be exactly 1.
func TestRankRMS(t *testing.T) {
	r, _ := newRanker(t)
	appendAll(t, r, "P1", map[string]float64{"aba": 6.0, "pose": 5.0}, []string{"aba", "pose"})
	appendAll(t, r, "P2", map[string]float64{"aba": 6.0, "pose": 7.0}, []string{"aba", "pose"})

	ranking, err := r.Rank("aba", []string{"P1", "P2"})
	if err != nil {
		t.Fatal(err)
	}

	if len(ranking.RMS) != 1 {
		t.Fatalf("RMS entries = %v", ranking.RMS)
	}
	if math.Abs(ranking.RMS[0].RMS-1.0) > 1e-12 {
		t.Errorf("RMS = %v, want 1.0", ranking.RMS[0].RMS)
	}

	devP1 := ranking.Deviations["P1"]
	if len(devP1) != 1 || math.Abs(devP1[0].Value-(-1.0)) > 1e-12 {
		t.Errorf("P1 deviations = %v, want [-1.0]", devP1)
	}
	devP2 := ranking.Deviations["P2"]
	if len(devP2) != 1 || math.Abs(devP2[0].Value-1.0) > 1e-12 {
		t.Errorf("P2 deviations = %v, want [+1.0]", devP2)
	}
}

// Sorting is by absolute deviation: -0.2 ranks above +0.5.
func TestDeviationSortByAbsolute(t *testing.T) {
	r, _ := newRanker(t)
	appendAll(t, r, "P1",
		map[string]float64{"aba": -8.0, "close": -8.2, "far": -7.5},
		[]string{"far", "aba", "close"})

	ranking, err := r.Rank("aba", []string{"P1"})
	if err != nil {
		t.Fatal(err)
	}
	devs := ranking.Deviations["P1"]
	if len(devs) != 2 {
		t.Fatalf("deviations = %v", devs)
	}
	if devs[0].Name != "close" || devs[1].Name != "far" {
		t.Errorf("order = [%s, %s], want [close, far]", devs[0].Name, devs[1].Name)
	}
	if devs[0].Value > 0 {
		t.Errorf("sign not preserved: %v", devs[0].Value)
	}
}

func TestRankSkipsTargetWithoutReference(t *testing.T) {
	r, _ := newRanker(t)
	appendAll(t, r, "P1", map[string]float64{"pose": -7.0}, []string{"pose"})
	appendAll(t, r, "P2", map[string]float64{"aba": -8.0, "pose": -7.0}, []string{"aba", "pose"})

	ranking, err := r.Rank("aba", []string{"P1", "P2"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ranking.Deviations["P1"]; ok {
		t.Error("target without a reference score must be skipped")
	}
	if len(ranking.RMS) != 1 {
		t.Fatalf("RMS = %v", ranking.RMS)
	}
	// Only P2 contributes: RMS = |(-7) - (-8)| = 1.
	if math.Abs(ranking.RMS[0].RMS-1.0) > 1e-12 {
		t.Errorf("RMS = %v", ranking.RMS[0].RMS)
	}
}

func TestWriteReferenceRankings(t *testing.T) {
	r, l := newRanker(t)
	appendAll(t, r, "P1", map[string]float64{"aba": 6.0, "pose": 5.0}, []string{"aba", "pose"})

	rankings, err := r.WriteReferenceRankings([]string{"aba"}, []string{"P1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rankings) != 1 {
		t.Fatalf("rankings = %v", rankings)
	}

	rms, err := os.ReadFile(l.RMSFile("aba"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(rms), "# RMS  Name\n1.00000000 pose\n") {
		t.Errorf("RMS file:\n%s", rms)
	}

	dev, err := os.ReadFile(l.DeviationFile("aba", "P1"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(dev), "-1.00000000 pose") {
		t.Errorf("deviation file:\n%s", dev)
	}
}

func TestWriteBestOverall(t *testing.T) {
	r, l := newRanker(t)
	appendAll(t, r, "P1", map[string]float64{"aba": -9.5, "good": -9.0, "bad": -5.0}, []string{"aba", "good", "bad"})
	appendAll(t, r, "P2", map[string]float64{"good": -6.0, "bad": -8.5}, []string{"good", "bad"})

	if err := r.WriteBestOverall([]string{"P1", "P2"}, []string{"aba"}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(l.BestLigandsOverall())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// good's best is -9.0 (P1), bad's best is -8.5 (P2); aba excluded.
	want := []string{"# BestScore  Name", "-9 good", "-8.5 bad"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestWriteLegacyAggregate(t *testing.T) {
	r, l := newRanker(t)
	appendAll(t, r, "P1", map[string]float64{"aba": 6.0, "pose": 5.0}, []string{"aba", "pose"})
	appendAll(t, r, "P2", map[string]float64{"aba": 6.0, "pose": 4.0}, []string{"aba", "pose"})

	if err := r.WriteLegacyAggregate([]string{"aba"}, []string{"P1", "P2"}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(l.RankedBestLigands())
	if err != nil {
		t.Fatal(err)
	}
	// Per-target rms values are 1 and 2; total = 1/1 + 1/4 = 1.25 over
	// 2 targets, final = sqrt(2/1.25) ≈ 1.26491106.
	if !strings.Contains(string(data), "1.26491106 pose") {
		t.Errorf("ranked legacy aggregate:\n%s", data)
	}
}
