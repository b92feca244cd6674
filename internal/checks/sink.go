package checks

import "github.com/wesleyorama2/authstress/internal/flow"

// Sink receives check outcomes and request samples for aggregation.
type Sink interface {
	RecordCheck(Outcome)
	flow.Recorder
}

// MultiSink fans every record out to each of its sinks in order.
type MultiSink []Sink

// RecordCheck implements Sink.
func (m MultiSink) RecordCheck(o Outcome) {
	for _, s := range m {
		s.RecordCheck(o)
	}
}

// RecordRequest implements Sink.
func (m MultiSink) RecordRequest(s flow.RequestSample) {
	for _, sink := range m {
		sink.RecordRequest(s)
	}
}

// Record sends every outcome to sink.
func Record(sink Sink, outcomes []Outcome) {
	for _, o := range outcomes {
		sink.RecordCheck(o)
	}
}
