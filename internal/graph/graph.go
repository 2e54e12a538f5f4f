// Package graph models the directed process multigraph: nodes keyed by
// process seqid, carrying structural (child) and dynamic (interaction)
// edges plus per-node event lists (spec §3, §4.5).
package graph

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/replit/sandbox-correlate/internal/events"
	"github.com/replit/sandbox-correlate/internal/tree"
)

// EdgeType is the closed tag on a graph edge.
type EdgeType string

const (
	EdgeChild       EdgeType = "child"
	EdgeInteraction EdgeType = "interaction"
)

// Edge is one directed edge between two process nodes. Event is non-nil
// only for EdgeInteraction edges.
type Edge struct {
	Key    string
	Type   EdgeType
	Source int // seqid
	Target int // seqid
	Event  *events.Event
}

// Node carries a process snapshot plus its display label and the events
// attributed to it with no resolved target (node-typed events).
type Node struct {
	Process    *tree.Process
	Label      string
	NodeEvents []*events.Event
}

// Graph is the detail multigraph: one node per process instance, built
// once from the process tree, then mutated only by appending edges and
// node events during ingestion.
type Graph struct {
	nodes map[int]*Node
	order []int // seqids, in the order nodes were added

	out map[int][]*Edge // outgoing edges keyed by source seqid
	in  map[int][]*Edge // incoming edges keyed by target seqid

	edgeKeys map[[2]int]map[string]bool // (source,target) -> seen edge keys

	logger *logrus.Logger
}

// New constructs an empty graph. A nil logger falls back to
// logrus.StandardLogger().
func New(logger *logrus.Logger) *Graph {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Graph{
		nodes:    make(map[int]*Node),
		out:      make(map[int][]*Edge),
		in:       make(map[int][]*Edge),
		edgeKeys: make(map[[2]int]map[string]bool),
		logger:   logger,
	}
}

// BuildFromTree adds one node per process and a child edge for every
// process with a resolved parent, per spec §4.5's build_graph.
func BuildFromTree(t tree.Tree, logger *logrus.Logger) *Graph {
	g := New(logger)
	for _, p := range t.Processes() {
		g.addNode(p)
	}
	for _, p := range t.Processes() {
		if p.Parent != nil {
			g.addEdge(p.Parent.SeqID, p.SeqID, "child", EdgeChild, nil)
		}
	}
	return g
}

func (g *Graph) addNode(p *tree.Process) {
	if _, exists := g.nodes[p.SeqID]; exists {
		return
	}
	g.nodes[p.SeqID] = &Node{
		Process: p,
		Label:   fmt.Sprintf("%s\n(%d)", baseName(p.ProcName), p.PID),
	}
	g.order = append(g.order, p.SeqID)
}

func baseName(procname string) string {
	// Windows-path basename: split on both separators, the task runs
	// under Windows so '\\' is the primary separator but be forgiving.
	last := procname
	for i := len(procname) - 1; i >= 0; i-- {
		if procname[i] == '\\' || procname[i] == '/' {
			last = procname[i+1:]
			break
		}
	}
	return last
}

// addEdge appends an edge if its key is unique for the ordered (source,
// target) pair, logging and skipping otherwise.
func (g *Graph) addEdge(source, target int, key string, typ EdgeType, e *events.Event) {
	pair := [2]int{source, target}
	if g.edgeKeys[pair] == nil {
		g.edgeKeys[pair] = make(map[string]bool)
	}
	if g.edgeKeys[pair][key] {
		g.logger.WithField("key", key).Warn("graph: duplicate edge key for ordered pair, skipping")
		return
	}
	g.edgeKeys[pair][key] = true

	edge := &Edge{Key: key, Type: typ, Source: source, Target: target, Event: e}
	g.out[source] = append(g.out[source], edge)
	g.in[target] = append(g.in[target], edge)
}

// Ingest resolves and attaches each event to the graph in order, per
// spec §4.5. Events that cannot be resolved to a process at their evtid
// are dropped with an error log (ResolutionFailure). onDrop, if non-nil,
// is called once per dropped event with a short reason tag, letting a
// caller feed a drop-counting metric without this package depending on
// any particular metrics library.
func (g *Graph) Ingest(evts []*events.Event, t tree.Tree, onDrop func(reason string)) {
	for _, e := range evts {
		g.IngestOne(e, t, onDrop)
	}
}

// IngestOne resolves and attaches a single event.
func (g *Graph) IngestOne(e *events.Event, t tree.Tree, onDrop func(reason string)) {
	recordDrop := func(reason string) {
		if onDrop != nil {
			onDrop(reason)
		}
	}

	source := t.Lookup(e.SourcePID, e.EvtID)
	if source == nil {
		g.logger.WithFields(logrus.Fields{"pid": e.SourcePID, "evtid": e.EvtID, "method": e.Method}).
			Error("graph: could not resolve source pid to a process, dropping event")
		recordDrop("unresolved_source")
		return
	}
	seqID := source.SeqID
	e.SourceSeqID = &seqID

	if e.TargetPID == nil {
		node := g.nodes[source.SeqID]
		if node == nil {
			g.logger.WithField("seqid", source.SeqID).Error("graph: source process has no graph node")
			recordDrop("missing_node")
			return
		}
		node.NodeEvents = append(node.NodeEvents, e)
		return
	}

	target := t.Lookup(*e.TargetPID, e.EvtID)
	if target == nil {
		g.logger.WithFields(logrus.Fields{"pid": *e.TargetPID, "evtid": e.EvtID, "method": e.Method}).
			Error("graph: could not resolve target pid to a process, dropping event")
		recordDrop("unresolved_target")
		return
	}
	targetSeqID := target.SeqID
	e.TargetSeqID = &targetSeqID

	key := fmt.Sprintf("interaction_%d", e.EvtID)
	g.addEdge(source.SeqID, target.SeqID, key, EdgeInteraction, e)
}

// ProcessNode pairs a node with the seqid it's keyed by, for ordered
// iteration over ProcessNodes.
type ProcessNode struct {
	SeqID int
	Node  *Node
}

// ProcessNodes returns every (seqid, node) pair in the stable order nodes
// were added to the graph.
func (g *Graph) ProcessNodes() []ProcessNode {
	out := make([]ProcessNode, 0, len(g.order))
	for _, seqid := range g.order {
		out = append(out, ProcessNode{SeqID: seqid, Node: g.nodes[seqid]})
	}
	return out
}

// Node returns the node for seqid, or nil if absent.
func (g *Graph) Node(seqid int) *Node { return g.nodes[seqid] }

// InEvents returns the events carried on incoming interaction edges for
// the node at seqid, in edge-insertion order.
func (g *Graph) InEvents(seqid int) []*events.Event {
	var out []*events.Event
	for _, e := range g.in[seqid] {
		if e.Type == EdgeInteraction {
			out = append(out, e.Event)
		}
	}
	return out
}

// OutEdges returns every outgoing edge (of any type) from seqid, in
// insertion order.
func (g *Graph) OutEdges(seqid int) []*Edge {
	return g.out[seqid]
}

// AllEdges returns every edge in the graph, grouped by nothing in
// particular but in a stable (source-node, insertion) order — used by the
// summary projector.
func (g *Graph) AllEdges() []*Edge {
	var out []*Edge
	for _, seqid := range g.order {
		out = append(out, g.out[seqid]...)
	}
	return out
}

// ChildCount returns the number of outgoing child edges from seqid.
func (g *Graph) ChildCount(seqid int) int {
	n := 0
	for _, e := range g.out[seqid] {
		if e.Type == EdgeChild {
			n++
		}
	}
	return n
}
