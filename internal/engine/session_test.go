package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dockflow/internal/catalog"
	"dockflow/internal/checkpoint"
	"dockflow/internal/config"
	"dockflow/internal/layout"
	"dockflow/internal/ledger"
	"dockflow/internal/scoredb"
)

const targetPDBQT = `ATOM      1  N   LIG A   1       1.000   2.000   3.000  0.00  0.00
ATOM      2  C   LIG A   1       3.000   4.000   5.000  0.00  0.00
`

// fakeVina emits a fixed log shaped like the real tool's output, with
// the score chosen by ligand name. Every invocation is appended to a
// counter file so tests can assert how many times the tool ran.
const fakeVina = `#!/bin/sh
lig=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --ligand) lig="$2"; shift 2 ;;
    --out) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
name=$(basename "$lig" .pdbqt)
echo "$name" >> "%s"
echo "Performing search ... **********"
echo "mode |   affinity | dist from best mode"
echo "-----+------------+----------"
case "$name" in
  aba) s=-6.0 ;;
  lig1_model_1) s=-5.0 ;;
  lig2_model_1) s=-8.0 ;;
  lig2_model_2) s=-7.0 ;;
  *) s=n/a ;;
esac
printf '   1 %%s 0.000 0.000\n' "$s"
echo docked > "$out"
`

// blockingVina behaves like fakeVina but hangs on the candidate task
// for as long as the block file exists, so a test can cancel the run
// with the tool mid-flight.
const blockingVina = `#!/bin/sh
lig=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --ligand) lig="$2"; shift 2 ;;
    --out) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
name=$(basename "$lig" .pdbqt)
echo "$name" >> "%s"
if [ "$name" = "lig1_model_1" ]; then
  while [ -f "%s" ]; do sleep 0.2; done
fi
echo "Performing search ... **********"
case "$name" in
  aba) s=-6.0 ;;
  lig1_model_1) s=-5.0 ;;
  *) s=n/a ;;
esac
printf '   1 %%s 0.000 0.000\n' "$s"
echo docked > "$out"
`

type runFixture struct {
	session     *Session
	invocations string
}

func newRunFixture(t *testing.T, candidates []string) *runFixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool is a shell script")
	}

	root := t.TempDir()
	l := layout.New(root)
	require.NoError(t, l.EnsureDirs())

	require.NoError(t, os.WriteFile(filepath.Join(l.TargetsDir(), "PYR1.pdbqt"), []byte(targetPDBQT), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(l.ReferencesDir(), "aba.pdbqt"), []byte("ATOM      1\n"), 0644))
	for _, name := range candidates {
		require.NoError(t, os.WriteFile(filepath.Join(l.CandidatesDir(), name+".pdbqt"), []byte("ATOM      1\n"), 0644))
	}

	invocations := filepath.Join(root, "invocations.txt")
	toolPath := filepath.Join(root, "vina")
	require.NoError(t, os.WriteFile(toolPath, []byte(fmt.Sprintf(fakeVina, invocations)), 0755))

	cat, err := catalog.Load(l)
	require.NoError(t, err)
	cp, err := checkpoint.Init(l.ProgressCache())
	require.NoError(t, err)
	db, err := scoredb.Init(l.ScoreDB())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	cfg.VinaPath = toolPath
	cfg.PollIntervalMs = 10

	return &runFixture{
		session: &Session{
			ID:         NewRunID(),
			Layout:     l,
			Config:     cfg,
			Catalog:    cat,
			Checkpoint: cp,
			Ledger:     ledger.NewFileLedger(l),
			DB:         db,
			Log:        zap.NewNop(),
		},
		invocations: invocations,
	}
}

func (f *runFixture) invocationCount(t *testing.T) int {
	t.Helper()
	data, err := os.ReadFile(f.invocations)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(strings.Fields(string(data)))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSessionRun(t *testing.T) {
	f := newRunFixture(t, []string{"lig1", "lig2"})
	s := f.session

	require.NoError(t, s.Run(context.Background()))
	require.False(t, s.Interrupted)
	require.Equal(t, 3, f.invocationCount(t))

	// Ledger is sorted ascending by score.
	data, err := os.ReadFile(s.Layout.ScoresFile("PYR1"))
	require.NoError(t, err)
	require.Equal(t,
		"# Score  Name\n-8 lig2_model_1\n-6 aba\n-5 lig1_model_1\n",
		string(data))

	// Deviations from aba (-6): lig1 +1, lig2 -2, ordered by magnitude.
	data, err = os.ReadFile(s.Layout.DeviationFile("aba", "PYR1"))
	require.NoError(t, err)
	require.Contains(t, string(data), "1.00000000 lig1_model_1")
	require.Contains(t, string(data), "-2.00000000 lig2_model_1")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[1], "lig1_model_1")
	require.Contains(t, lines[2], "lig2_model_1")

	// RMS over a single target equals the absolute deviation.
	data, err = os.ReadFile(s.Layout.RMSFile("aba"))
	require.NoError(t, err)
	require.Contains(t, string(data), "1.00000000 lig1_model_1")
	require.Contains(t, string(data), "2.00000000 lig2_model_1")

	// Best-overall excludes the reference and ranks candidates only.
	data, err = os.ReadFile(s.Layout.BestLigandsOverall())
	require.NoError(t, err)
	require.NotContains(t, string(data), "aba")
	lines = strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[1], "lig2_model_1")
	require.Contains(t, lines[2], "lig1_model_1")

	// Artifacts placed, temp swept.
	require.FileExists(t, filepath.Join(s.Layout.LigandDir("lig1"), "lig1_model_1_vs_PYR1.log"))
	require.FileExists(t, filepath.Join(s.Layout.LigandDir("lig1"), "lig1_model_1_vs_PYR1.pdbqt"))
	require.FileExists(t, filepath.Join(s.Layout.LigandDir("lig1"), "summary.txt"))
	entries, err := os.ReadDir(s.Layout.TempDir())
	require.NoError(t, err)
	require.Empty(t, entries)

	// Score mirror carries the same rows.
	n, err := scoredb.Count(s.DB, "PYR1")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Cursors rest past the end of both phases.
	require.Equal(t, 1, s.Checkpoint.Get(checkpoint.ReferenceLigand))
	require.Equal(t, 2, s.Checkpoint.Get(checkpoint.Ligand))
}

func TestSessionRerunSkipsCompletedTasks(t *testing.T) {
	f := newRunFixture(t, []string{"lig1"})
	s := f.session

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, 2, f.invocationCount(t))

	before, err := os.ReadFile(s.Layout.ScoresFile("PYR1"))
	require.NoError(t, err)

	// A lost checkpoint must not redo scored work: the ledger is the
	// source of truth.
	require.NoError(t, os.Remove(s.Layout.ProgressCache()))
	cp, err := checkpoint.Init(s.Layout.ProgressCache())
	require.NoError(t, err)
	s.Checkpoint = cp

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, 2, f.invocationCount(t))

	after, err := os.ReadFile(s.Layout.ScoresFile("PYR1"))
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestSessionFailureIsolation(t *testing.T) {
	// "bad" has no score case in the fake tool, so its log carries a
	// garbage token. The run must continue past it.
	f := newRunFixture(t, []string{"bad", "lig1"})
	s := f.session

	require.NoError(t, s.Run(context.Background()))

	data, err := os.ReadFile(s.Layout.FailedAttempts())
	require.NoError(t, err)
	require.Equal(t, "bad_model_1 PYR1\n", string(data))

	// The healthy candidate still scored.
	scores, err := os.ReadFile(s.Layout.ScoresFile("PYR1"))
	require.NoError(t, err)
	require.Contains(t, string(scores), "lig1_model_1")
	require.NotContains(t, string(scores), "bad_model_1")

	// Rerunning retries the failure but records it only once.
	require.NoError(t, os.Remove(s.Layout.ProgressCache()))
	cp, err := checkpoint.Init(s.Layout.ProgressCache())
	require.NoError(t, err)
	s.Checkpoint = cp
	require.NoError(t, s.Run(context.Background()))

	data, err = os.ReadFile(s.Layout.FailedAttempts())
	require.NoError(t, err)
	require.Equal(t, "bad_model_1 PYR1\n", string(data))
}

func TestSessionInterruptAndResume(t *testing.T) {
	f := newRunFixture(t, []string{"lig1"})
	s := f.session

	// Swap in a tool that hangs on the candidate task until the block
	// file disappears.
	block := filepath.Join(s.Layout.Root, "block")
	require.NoError(t, os.WriteFile(block, nil, 0644))
	script := fmt.Sprintf(blockingVina, f.invocations, block)
	require.NoError(t, os.WriteFile(s.Config.VinaPath, []byte(script), 0755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Cancel once the candidate task is in flight.
	waitFor(t, func() bool { return f.invocationCount(t) == 2 })
	cancel()

	// The hung child is killed, not awaited: the run must come back
	// long before the block file would release it.
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled run did not return; in-flight child was not killed")
	}
	require.True(t, s.Interrupted)

	// The completed reference unit is checkpointed; the killed task is
	// still the next unit of work.
	cp, err := checkpoint.Load(s.Layout.ProgressCache())
	require.NoError(t, err)
	require.Equal(t, 1, cp.Get(checkpoint.ReferenceLigand))
	require.Equal(t, 0, cp.Get(checkpoint.Ligand))
	require.Equal(t, 0, cp.Get(checkpoint.Target))

	// Only the interrupted pair runs again on resume.
	require.NoError(t, os.Remove(block))
	s.Checkpoint = cp
	s.Interrupted = false
	require.NoError(t, s.Run(context.Background()))
	require.False(t, s.Interrupted)
	require.Equal(t, 3, f.invocationCount(t))

	data, err := os.ReadFile(s.Layout.ScoresFile("PYR1"))
	require.NoError(t, err)
	require.Equal(t, "# Score  Name\n-6 aba\n-5 lig1_model_1\n", string(data))
}

func TestSessionTaskTotalsAcrossMixedPoseCounts(t *testing.T) {
	f := newRunFixture(t, []string{"lig1", "lig2"})
	s := f.session

	// lig2 arrives pre-extracted with two poses; lig1 has one.
	dir := s.Layout.ModelsDir("lig2")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range []string{"lig2_model_1.pdbqt", "lig2_model_2.pdbqt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("ATOM      1\n"), 0644))
	}

	var buf bytes.Buffer
	s.Display = NewDisplay(&buf, true)

	require.NoError(t, s.Run(context.Background()))

	// The phase total counts every ligand's poses, not the current one's.
	out := buf.String()
	for _, want := range []string{
		"[reference 1/1] aba vs PYR1",
		"[candidate 1/3] lig1_model_1 vs PYR1",
		"[candidate 2/3] lig2_model_1 vs PYR1",
		"[candidate 3/3] lig2_model_2 vs PYR1",
	} {
		require.Contains(t, out, want)
	}
}
