package tree

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// processRecord is the on-disk shape of one process in the process-tree
// artifact (spec §6's "Input process tree"). FirstEvtID/LastEvtID are this
// adapter's resolution mechanism for pid recycling: the inclusive range of
// evtids during which this seqid was the live instance of PID. Either may
// be omitted to mean "unbounded on this side" (a process with no recorded
// successor/predecessor at that pid).
type processRecord struct {
	SeqID        int     `json:"seqid"`
	PID          int     `json:"pid"`
	ProcName     string  `json:"procname"`
	Args         []string `json:"args"`
	StartedAt    float64  `json:"started_at"`
	ExitedAt     *float64 `json:"exited_at,omitempty"`
	ExitCode     *int64   `json:"exit_code,omitempty"`
	ParentSeqID  *int     `json:"parent_seqid,omitempty"`
	FirstEvtID   *uint64  `json:"first_evtid,omitempty"`
	LastEvtID    *uint64  `json:"last_evtid,omitempty"`
}

// MemTree is an in-memory Tree loaded from the process-tree JSON artifact.
type MemTree struct {
	processes []*Process
	ranges    map[int][]rangedProcess // keyed by pid
}

type rangedProcess struct {
	proc *Process
	lo   uint64
	hi   uint64
}

// LoadJSON reads a process-tree artifact from path and builds a MemTree.
func LoadJSON(path string) (*MemTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tree: read %s: %w", path, err)
	}
	var records []processRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("tree: parse %s: %w", path, err)
	}
	return BuildMemTree(records)
}

func BuildMemTree(records []processRecord) (*MemTree, error) {
	bySeqID := make(map[int]*Process, len(records))
	procs := make([]*Process, 0, len(records))

	for _, r := range records {
		p := &Process{
			SeqID:     r.SeqID,
			PID:       r.PID,
			ProcName:  r.ProcName,
			Args:      r.Args,
			StartedAt: r.StartedAt,
			ExitedAt:  r.ExitedAt,
			ExitCode:  r.ExitCode,
		}
		bySeqID[r.SeqID] = p
		procs = append(procs, p)
	}

	for i, r := range records {
		if r.ParentSeqID == nil {
			continue
		}
		parent, ok := bySeqID[*r.ParentSeqID]
		if !ok {
			return nil, fmt.Errorf("tree: process seqid %d references unknown parent seqid %d", r.SeqID, *r.ParentSeqID)
		}
		procs[i].Parent = parent
	}

	mt := &MemTree{processes: procs, ranges: make(map[int][]rangedProcess)}
	for i, r := range records {
		lo := uint64(0)
		if r.FirstEvtID != nil {
			lo = *r.FirstEvtID
		}
		hi := uint64(math.MaxUint64)
		if r.LastEvtID != nil {
			hi = *r.LastEvtID
		}
		mt.ranges[r.PID] = append(mt.ranges[r.PID], rangedProcess{proc: procs[i], lo: lo, hi: hi})
	}
	for pid := range mt.ranges {
		sort.Slice(mt.ranges[pid], func(i, j int) bool {
			return mt.ranges[pid][i].lo < mt.ranges[pid][j].lo
		})
	}

	return mt, nil
}

func (mt *MemTree) Processes() []*Process { return mt.processes }

func (mt *MemTree) Lookup(pid int, evtid uint64) *Process {
	for _, rp := range mt.ranges[pid] {
		if rp.lo <= evtid && evtid <= rp.hi {
			return rp.proc
		}
	}
	return nil
}
