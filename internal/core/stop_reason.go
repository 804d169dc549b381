package core

type StopReason string

const (
	StopReasonSignal   StopReason = "signal"
	StopReasonFatal    StopReason = "fatal"
	StopReasonShutdown StopReason = "shutdown"
)
