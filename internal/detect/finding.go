// Package detect runs an ordered list of detection strategies over the
// process graph, correlating primitive events into findings (spec §4.4).
package detect

import "github.com/replit/sandbox-correlate/internal/events"

// DisplayType controls whether a finding renders on an edge or as a node
// attribute in the summary graph (spec §3).
type DisplayType string

const (
	DisplayEdge          DisplayType = "edge"
	DisplayNodeAttribute DisplayType = "node_attribute"
)

// Finding is the immutable output of a detection strategy.
type Finding struct {
	DetectionName    string
	Pattern          string
	DisplayType      DisplayType
	CorrelatedEvents []*events.Event

	primaryTargetOverride *int
}

// NewFinding constructs a Finding whose PrimaryTargetSeqID defaults to the
// target_seqid of the first correlated event, per spec §3.
func NewFinding(detectionName string, displayType DisplayType, pattern string, correlated []*events.Event) *Finding {
	return &Finding{
		DetectionName:    detectionName,
		Pattern:          pattern,
		DisplayType:      displayType,
		CorrelatedEvents: correlated,
	}
}

// OverridePrimaryTarget lets a strategy pin PrimaryTargetSeqID to a
// specific seqid instead of the first event's target (e.g. scheduled-task
// findings attribute to the source process).
func (f *Finding) OverridePrimaryTarget(seqid int) {
	f.primaryTargetOverride = &seqid
}

// PrimaryTargetSeqID returns the finding's target node, or nil if none can
// be determined.
func (f *Finding) PrimaryTargetSeqID() *int {
	if f.primaryTargetOverride != nil {
		return f.primaryTargetOverride
	}
	if len(f.CorrelatedEvents) == 0 {
		return nil
	}
	return f.CorrelatedEvents[0].TargetSeqID
}
