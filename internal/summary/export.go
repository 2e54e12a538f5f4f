package summary

import (
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/replit/sandbox-correlate/internal/events"
)

// cytoscapeNode is one node element in the cytoscape-compatible export
// shape (spec §6).
type cytoscapeNode struct {
	Data cytoscapeNodeData `json:"data"`
}

type cytoscapeNodeData struct {
	ID         int             `json:"id"`
	Label      string          `json:"label"`
	Type       string          `json:"type"`
	ChildCount int             `json:"child_count"`
	HasFinding bool            `json:"has_finding,omitempty"`
	Findings   []FindingRecord `json:"findings,omitempty"`
	NodeEvents []events.Record `json:"node_events"`
}

// cytoscapeEdge is one edge element in the export shape.
type cytoscapeEdge struct {
	Data cytoscapeEdgeData `json:"data"`
}

type cytoscapeEdgeData struct {
	ID       string          `json:"id"`
	Source   int             `json:"source"`
	Target   int             `json:"target"`
	Type     string          `json:"type"`
	Label    string          `json:"label"`
	Findings []FindingRecord `json:"findings,omitempty"`
}

// cytoscapeDocument is the top-level export shape: a graph-level `data`
// scalar block sibling to `elements`, per the original's
// to_cytoscape_data() convention (SPEC_FULL §5).
type cytoscapeDocument struct {
	Data     map[string]string `json:"data"`
	Elements cytoscapeElements `json:"elements"`
}

type cytoscapeElements struct {
	Nodes []cytoscapeNode `json:"nodes"`
	Edges []cytoscapeEdge `json:"edges"`
}

// MarshalJSON renders the summary graph in the cytoscape-compatible shape
// spec §6 requires.
func (g *Graph) MarshalJSON() ([]byte, error) {
	doc := cytoscapeDocument{
		Data: map[string]string{"name": "process_graph"},
	}
	for _, n := range g.Nodes {
		doc.Elements.Nodes = append(doc.Elements.Nodes, cytoscapeNode{Data: cytoscapeNodeData{
			ID:         n.SeqID,
			Label:      n.Label,
			Type:       "Process",
			ChildCount: n.ChildCount,
			HasFinding: n.HasFinding,
			Findings:   n.Findings,
			NodeEvents: n.NodeEvents,
		}})
	}
	for _, e := range g.Edges {
		doc.Elements.Edges = append(doc.Elements.Edges, cytoscapeEdge{Data: cytoscapeEdgeData{
			ID:       e.ID,
			Source:   e.Source,
			Target:   e.Target,
			Type:     e.Type,
			Label:    e.Label,
			Findings: e.Findings,
		}})
	}
	return json.Marshal(doc)
}

// WriteJSON writes the graph's cytoscape JSON to w, gzip-compressing it
// when gzipped is true. Compression here is of the output artifact, not
// the trace-directory archival the core's Non-goals exclude.
func (g *Graph) WriteJSON(w io.Writer, gzipped bool) error {
	payload, err := g.MarshalJSON()
	if err != nil {
		return err
	}
	if !gzipped {
		_, err := w.Write(payload)
		return err
	}
	gw := gzip.NewWriter(w)
	if _, err := gw.Write(payload); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}
