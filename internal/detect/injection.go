package detect

import (
	"github.com/replit/sandbox-correlate/internal/events"
	"github.com/replit/sandbox-correlate/internal/graph"
)

// ProcessInjectionName is the detection_name every injection finding
// carries.
const ProcessInjectionName = "Process Injection"

// ProcessInjection correlates allocate/write/execute primitives targeting
// the same process into chains of increasing evidentiary strength, per
// spec §4.4.a.
type ProcessInjection struct{}

func (ProcessInjection) Name() string { return ProcessInjectionName }

func (ProcessInjection) Run(g *graph.Graph) []*Finding {
	var findings []*Finding
	for _, pn := range g.ProcessNodes() {
		incoming := g.InEvents(pn.SeqID)

		var allocs, writes, execs []*events.Event
		for _, e := range incoming {
			switch {
			case e.Allocate != nil:
				allocs = append(allocs, e)
			case e.Write != nil:
				writes = append(writes, e)
			case e.Execute != nil:
				execs = append(execs, e)
			}
		}

		findings = append(findings, correlatePrimitives(allocs, writes, execs)...)
	}
	return findings
}

type awPair struct{ a, w *events.Event }
type wePair struct{ w, e *events.Event }
type aePair struct{ a, e *events.Event }

// correlatePrimitives implements the priority-and-consumption rule in
// spec §4.4.a: a matched Alloc->Write->Exec chain consumes its component
// pairs before any of them can surface as a shorter two-event finding.
func correlatePrimitives(allocs, writes, execs []*events.Event) []*Finding {
	var aw []awPair
	for _, a := range allocs {
		for _, w := range writes {
			if isAllocWriteMatch(a, w) {
				aw = append(aw, awPair{a, w})
			}
		}
	}
	var we []wePair
	for _, w := range writes {
		for _, e := range execs {
			if isWriteExecMatch(w, e) {
				we = append(we, wePair{w, e})
			}
		}
	}
	var ae []aePair
	for _, a := range allocs {
		for _, e := range execs {
			if isAllocExecMatch(a, e) {
				ae = append(ae, aePair{a, e})
			}
		}
	}

	usedAW := make([]bool, len(aw))
	usedWE := make([]bool, len(we))
	usedAE := make([]bool, len(ae))

	var findings []*Finding
	for i := range aw {
		if usedAW[i] {
			continue
		}
		for j := range we {
			if usedWE[j] || we[j].w != aw[i].w {
				continue
			}
			findings = append(findings, NewFinding(ProcessInjectionName, DisplayEdge, "Alloc->Write->Exec",
				[]*events.Event{aw[i].a, aw[i].w, we[j].e}))
			usedAW[i] = true
			usedWE[j] = true
			for k := range ae {
				if !usedAE[k] && ae[k].a == aw[i].a && ae[k].e == we[j].e {
					usedAE[k] = true
				}
			}
			break
		}
	}

	for i, p := range aw {
		if !usedAW[i] {
			findings = append(findings, NewFinding(ProcessInjectionName, DisplayEdge, "Alloc->Write", []*events.Event{p.a, p.w}))
		}
	}
	for j, p := range we {
		if !usedWE[j] {
			findings = append(findings, NewFinding(ProcessInjectionName, DisplayEdge, "Write->Exec", []*events.Event{p.w, p.e}))
		}
	}
	for k, p := range ae {
		if !usedAE[k] {
			findings = append(findings, NewFinding(ProcessInjectionName, DisplayEdge, "Alloc->Exec", []*events.Event{p.a, p.e}))
		}
	}

	return findings
}

func isAllocWriteMatch(a, w *events.Event) bool {
	lo := maxU64(a.Allocate.Address, w.Write.Address)
	hi := minU64(a.Allocate.Address+a.Allocate.Size, w.Write.Address+w.Write.BytesWritten)
	return lo < hi
}

func isWriteExecMatch(w, e *events.Event) bool {
	end := w.Write.Address + w.Write.BytesWritten
	for _, addr := range e.Execute.Addresses {
		if w.Write.Address <= addr && addr < end {
			return true
		}
	}
	return false
}

func isAllocExecMatch(a, e *events.Event) bool {
	end := a.Allocate.Address + a.Allocate.Size
	for _, addr := range e.Execute.Addresses {
		if a.Allocate.Address <= addr && addr < end {
			return true
		}
	}
	return false
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
