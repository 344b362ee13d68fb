package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Stage is a step of the chart lifecycle.
type Stage string

const (
	StageDownload Stage = "download"
	StageInit     Stage = "init"
	StageRepoSync Stage = "repo-sync"
	StageBuild    Stage = "build"
	StageTest     Stage = "test"
	StageDeploy   Stage = "deploy"
)

var ErrUnknownStage = errors.New("unknown stage")

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageDownload,
	StageInit,
	StageRepoSync,
	StageBuild,
	StageTest,
	StageDeploy,
}

// ParseStage parses a stage name. Underscores are accepted in place of
// dashes.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !slices.Contains(Stages, st) {
		return "", fmt.Errorf("%w: %q, expected one of %s", ErrUnknownStage, s, StageNames())
	}

	return st, nil
}

// ParseStages parses a list of stage names.
func ParseStages(names ...string) ([]Stage, error) {
	out := make([]Stage, 0, len(names))

	for _, n := range names {
		st, err := ParseStage(n)
		if err != nil {
			return nil, err
		}

		out = append(out, st)
	}

	return out, nil
}

// StageNames returns the comma separated stage names, for help text.
func StageNames() string {
	names := make([]string, 0, len(Stages))
	for _, s := range Stages {
		names = append(names, string(s))
	}

	return strings.Join(names, ", ")
}

// Through returns the stages up to and including target.
func Through(target Stage) ([]Stage, error) {
	i := slices.Index(Stages, target)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, target)
	}

	return Stages[:i+1], nil
}
