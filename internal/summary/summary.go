// Package summary projects the detail process graph plus detection
// findings into a display graph suitable for cytoscape-compatible JSON
// export (spec §4.6).
package summary

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/replit/sandbox-correlate/internal/detect"
	"github.com/replit/sandbox-correlate/internal/events"
	"github.com/replit/sandbox-correlate/internal/graph"
)

// Node is one summary-graph node: a copy of the detail node's attributes
// plus computed child_count and any attached NodeAttribute findings.
type Node struct {
	SeqID      int
	Label      string
	ChildCount int
	NodeEvents []events.Record
	HasFinding bool
	Findings   []FindingRecord
}

// Edge is one summary-graph edge: either a copied child edge or a
// grouped detection edge.
type Edge struct {
	ID       string
	Source   int
	Target   int
	Type     string // "child" or "detection"
	Label    string
	Findings []FindingRecord
}

// FindingRecord is the serialized form of a Finding attached to a node or
// edge in the summary graph.
type FindingRecord struct {
	DetectionName    string          `json:"detection_name"`
	Pattern          string          `json:"pattern"`
	DisplayType      string          `json:"display_type"`
	CorrelatedEvents []events.Record `json:"correlated_events"`
}

// Graph is the projected, independently-owned display graph.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

func serializeFinding(f *detect.Finding) FindingRecord {
	recs := make([]events.Record, 0, len(f.CorrelatedEvents))
	for _, e := range f.CorrelatedEvents {
		recs = append(recs, events.EventToRecord(e))
	}
	return FindingRecord{
		DetectionName:    f.DetectionName,
		Pattern:          f.Pattern,
		DisplayType:      string(f.DisplayType),
		CorrelatedEvents: recs,
	}
}

// Project builds the summary graph from a detail graph and the findings
// produced against it. It is pure: running it twice on the same inputs
// yields deep-equal output (spec §8's idempotence property).
func Project(g *graph.Graph, findings []*detect.Finding, logger *logrus.Logger) *Graph {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	nodeAttrFindings := make(map[int][]FindingRecord)
	for _, f := range findings {
		if f.DisplayType != detect.DisplayNodeAttribute {
			continue
		}
		target := f.PrimaryTargetSeqID()
		if target == nil {
			continue
		}
		nodeAttrFindings[*target] = append(nodeAttrFindings[*target], serializeFinding(f))
	}

	sg := &Graph{}
	existingNodes := make(map[int]bool)
	for _, pn := range g.ProcessNodes() {
		recs := make([]events.Record, 0, len(pn.Node.NodeEvents))
		for _, e := range pn.Node.NodeEvents {
			recs = append(recs, events.EventToRecord(e))
		}
		node := Node{
			SeqID:      pn.SeqID,
			Label:      pn.Node.Label,
			ChildCount: g.ChildCount(pn.SeqID),
			NodeEvents: recs,
		}
		if fs, ok := nodeAttrFindings[pn.SeqID]; ok {
			node.HasFinding = true
			node.Findings = fs
		}
		sg.Nodes = append(sg.Nodes, node)
		existingNodes[pn.SeqID] = true
	}

	for _, e := range g.AllEdges() {
		if e.Type != graph.EdgeChild {
			continue
		}
		sg.Edges = append(sg.Edges, Edge{
			ID:     e.Key,
			Source: e.Source,
			Target: e.Target,
			Type:   "child",
			Label:  "child",
		})
	}

	type edgeKey struct {
		source, target int
		detection      string
		pattern        string
	}
	groups := make(map[edgeKey][]*detect.Finding)
	var order []edgeKey
	for _, f := range findings {
		if f.DisplayType != detect.DisplayEdge {
			continue
		}
		var source int
		if len(f.CorrelatedEvents) > 0 && f.CorrelatedEvents[0].SourceSeqID != nil {
			source = *f.CorrelatedEvents[0].SourceSeqID
		}
		target := f.PrimaryTargetSeqID()
		if target == nil {
			continue
		}
		k := edgeKey{source: source, target: *target, detection: f.DetectionName, pattern: f.Pattern}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], f)
	}

	for _, k := range order {
		if !existingNodes[k.source] || !existingNodes[k.target] {
			logger.WithFields(logrus.Fields{"source": k.source, "target": k.target}).
				Warn("summary: skipping detection edge with missing endpoint")
			continue
		}
		fs := groups[k]
		recs := make([]FindingRecord, 0, len(fs))
		for _, f := range fs {
			recs = append(recs, serializeFinding(f))
		}
		sg.Edges = append(sg.Edges, Edge{
			ID:       fmt.Sprintf("detection_%d_%d_%s", k.source, k.target, k.detection),
			Source:   k.source,
			Target:   k.target,
			Type:     "detection",
			Label:    fmt.Sprintf("%s (x%d)", k.pattern, len(fs)),
			Findings: recs,
		})
	}

	sort.SliceStable(sg.Nodes, func(i, j int) bool { return sg.Nodes[i].SeqID < sg.Nodes[j].SeqID })

	return sg
}
