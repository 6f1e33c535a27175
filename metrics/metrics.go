// Package metrics records payment engine counters and latencies.
package metrics

import "time"

// Label keys understood by every Recorder
const (
	LabelNetwork = "network"
	LabelOutcome = "outcome"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
