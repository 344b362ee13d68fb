package pipeline

// EventSetStageTotal is sent once per run with the number of stages.
type EventSetStageTotal int

// EventStageStarted is sent when a stage begins.
type EventStageStarted Stage

// EventStageFinished is sent when a stage ends or is skipped.
type EventStageFinished struct {
	Err     error
	Stage   Stage
	Skipped bool
}

// EventDone is sent when the run ends.
type EventDone struct {
	Err error
}
