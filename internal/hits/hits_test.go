package hits

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"dockflow/internal/errors"
	"dockflow/internal/layout"
	"dockflow/internal/scoredb"
)

func setup(t *testing.T) (*sql.DB, layout.Layout) {
	t.Helper()
	l := layout.New(t.TempDir())
	if err := l.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	db, err := scoredb.Init(l.ScoreDB())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	rows := []scoredb.Record{
		{Target: "PYR1", Name: "lig1_model_1", Score: -8.0},
		{Target: "PYR1", Name: "lig2_model_1", Score: -6.5},
		{Target: "PYR1", Name: "lig3_model_1", Score: -5.0},
		{Target: "HAB1", Name: "lig1_model_1", Score: -4.0},
	}
	for _, r := range rows {
		if err := scoredb.Upsert(db, r, 0); err != nil {
			t.Fatal(err)
		}
	}

	// Docked artifacts for lig1 on PYR1, including a collision copy.
	dir := l.LigandDir("lig1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"lig1_model_1_vs_PYR1.log",
		"lig1_model_1_vs_PYR1.pdbqt",
		"lig1_model_1_vs_PYR1_copy1.log",
		"lig1_model_1_vs_HAB1.log",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return db, l
}

func TestCollectTopN(t *testing.T) {
	db, l := setup(t)
	out := filepath.Join(t.TempDir(), "hits")

	records, err := Collect(db, l, Options{Target: "PYR1", TopN: 2, OutDir: out})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %v", records)
	}
	if records[0].Name != "lig1_model_1" || records[1].Name != "lig2_model_1" {
		t.Errorf("wrong hit order: %v", records)
	}

	// lig1's PYR1 artifacts (and the collision copy) come along; the
	// HAB1 artifact does not.
	for _, name := range []string{
		"lig1_model_1_vs_PYR1.log",
		"lig1_model_1_vs_PYR1.pdbqt",
		"lig1_model_1_vs_PYR1_copy1.log",
		"hits.txt",
	} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "lig1_model_1_vs_HAB1.log")); err == nil {
		t.Error("artifact from another target was copied")
	}

	manifest, err := os.ReadFile(filepath.Join(out, "hits.txt"))
	if err != nil {
		t.Fatal(err)
	}
	want := "# Score  Name\n-8 lig1_model_1\n-6.5 lig2_model_1\n"
	if string(manifest) != want {
		t.Errorf("manifest = %q, want %q", manifest, want)
	}
}

func TestCollectScoreRange(t *testing.T) {
	db, l := setup(t)
	out := filepath.Join(t.TempDir(), "hits")

	records, err := Collect(db, l, Options{Target: "PYR1", Min: -7.0, Max: -5.0, OutDir: out})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %v", records)
	}
	if records[0].Name != "lig2_model_1" || records[1].Name != "lig3_model_1" {
		t.Errorf("wrong range selection: %v", records)
	}
}

func TestCollectRequiresSelection(t *testing.T) {
	db, l := setup(t)
	_, err := Collect(db, l, Options{Target: "PYR1", OutDir: t.TempDir()})
	if !errors.Is(err, errors.ErrFatalInput) {
		t.Errorf("err = %v, want fatal input", err)
	}
	_, err = Collect(db, l, Options{TopN: 1, OutDir: t.TempDir()})
	if !errors.Is(err, errors.ErrFatalInput) {
		t.Errorf("err = %v, want fatal input", err)
	}
}
