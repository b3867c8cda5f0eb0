// Package naming defines the single naming scheme shared by every
// component that writes or parses artifact names. Names are encoded
// once here and decoded once here; nothing else in the codebase may
// split on "_model_" or "_vs_" by hand.
package naming

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	modelMarker = "_model_"
	taskMarker  = "_vs_"
)

// Pose identifies one conformation of a ligand. Model 0 denotes a
// ligand that was never split (reference ligands and the implicit
// single pose); extracted poses number from 1.
type Pose struct {
	Ligand string
	Model  int
}

// String encodes the pose name, e.g. "BCABMM.xaa_085_model_3".
func (p Pose) String() string {
	if p.Model == 0 {
		return p.Ligand
	}
	return fmt.Sprintf("%s%s%d", p.Ligand, modelMarker, p.Model)
}

// FileName returns the pose's on-disk file name.
func (p Pose) FileName() string {
	return p.String() + ".pdbqt"
}

// ModelDir returns the model-specific result subdirectory name for a
// pose of a multi-pose ligand, e.g. "docked_lig1_model3". Poses with
// Model 0 have no model directory.
func (p Pose) ModelDir() string {
	if p.Model == 0 {
		return ""
	}
	return fmt.Sprintf("docked_%s_model%d", p.Ligand, p.Model)
}

// ParsePose decodes a pose name. Names without a model marker parse
// as Model 0.
func ParsePose(name string) (Pose, error) {
	idx := strings.LastIndex(name, modelMarker)
	if idx < 0 {
		if name == "" {
			return Pose{}, fmt.Errorf("empty pose name")
		}
		return Pose{Ligand: name}, nil
	}
	ligand := name[:idx]
	model, err := strconv.Atoi(name[idx+len(modelMarker):])
	if err != nil || ligand == "" || model < 1 {
		return Pose{}, fmt.Errorf("malformed pose name %q", name)
	}
	return Pose{Ligand: ligand, Model: model}, nil
}

// Task identifies one (pose, target) scoring unit.
type Task struct {
	Pose   Pose
	Target string
}

// String encodes the task name, e.g. "lig1_model_2_vs_PYR1_3K3K".
func (t Task) String() string {
	return t.Pose.String() + taskMarker + t.Target
}

// LogName returns the task's log file name.
func (t Task) LogName() string { return t.String() + ".log" }

// OutName returns the task's docked-output file name.
func (t Task) OutName() string { return t.String() + ".pdbqt" }

// ParseTask decodes a task artifact name (extension already stripped).
func ParseTask(name string) (Task, error) {
	idx := strings.LastIndex(name, taskMarker)
	if idx < 0 {
		return Task{}, fmt.Errorf("malformed task name %q", name)
	}
	pose, err := ParsePose(name[:idx])
	if err != nil {
		return Task{}, err
	}
	target := name[idx+len(taskMarker):]
	if target == "" {
		return Task{}, fmt.Errorf("malformed task name %q", name)
	}
	return Task{Pose: pose, Target: target}, nil
}

// Stem returns a path's base name without its extension, the form
// every identifier in the pipeline derives from.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
