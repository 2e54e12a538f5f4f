package detect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replit/sandbox-correlate/internal/events"
	"github.com/replit/sandbox-correlate/internal/graph"
	"github.com/replit/sandbox-correlate/internal/tree"
)

type fakeTree struct {
	procs  []*tree.Process
	byPID  map[int]*tree.Process
}

func (f *fakeTree) Processes() []*tree.Process { return f.procs }
func (f *fakeTree) Lookup(pid int, evtid uint64) *tree.Process {
	return f.byPID[pid]
}

func buildGraph(t *testing.T, source, target int, evts ...*events.Event) (*graph.Graph, *fakeTree) {
	t.Helper()
	sp := &tree.Process{SeqID: 1, PID: source, ProcName: "source.exe"}
	tp := &tree.Process{SeqID: 2, PID: target, ProcName: "target.exe"}
	ft := &fakeTree{procs: []*tree.Process{sp, tp}, byPID: map[int]*tree.Process{source: sp, target: tp}}
	g := graph.BuildFromTree(ft, nil)
	g.Ingest(evts, ft, nil)
	return g, ft
}

func TestClassicInjectionChain(t *testing.T) {
	alloc := events.NewAllocate(100, 1, "NtAllocateVirtualMemory", 200, 0x1000, 0x2000)
	write := events.NewWrite(100, 2, "NtWriteVirtualMemory", 200, 0x1400, 0x100)
	exec := events.NewExecute(100, 3, "NtCreateThreadEx", 200, []uint64{0x1420}, nil)
	g, _ := buildGraph(t, 100, 200, alloc, write, exec)

	findings := ProcessInjection{}.Run(g)
	require.Len(t, findings, 1)
	f := findings[0]
	require.Equal(t, "Alloc->Write->Exec", f.Pattern)
	require.Equal(t, []*events.Event{alloc, write, exec}, f.CorrelatedEvents)
	require.Equal(t, 2, *f.PrimaryTargetSeqID())
}

func TestWriteWithoutAlloc(t *testing.T) {
	write := events.NewWrite(100, 2, "NtWriteVirtualMemory", 200, 0x1400, 0x100)
	exec := events.NewExecute(100, 3, "NtCreateThreadEx", 200, []uint64{0x1420}, nil)
	g, _ := buildGraph(t, 100, 200, write, exec)

	findings := ProcessInjection{}.Run(g)
	require.Len(t, findings, 1)
	require.Equal(t, "Write->Exec", findings[0].Pattern)
}

func TestAllocExecOnly(t *testing.T) {
	alloc := events.NewAllocate(100, 1, "NtAllocateVirtualMemory", 200, 0x1000, 0x2000)
	exec := events.NewExecute(100, 3, "NtCreateThreadEx", 200, []uint64{0x1500}, nil)
	g, _ := buildGraph(t, 100, 200, alloc, exec)

	findings := ProcessInjection{}.Run(g)
	require.Len(t, findings, 1)
	require.Equal(t, "Alloc->Exec", findings[0].Pattern)
}

func TestExecAtWriteEndIsNotMatch(t *testing.T) {
	write := events.NewWrite(100, 2, "NtWriteVirtualMemory", 200, 0x1000, 0x100)
	exec := events.NewExecute(100, 3, "NtCreateThreadEx", 200, []uint64{0x1100}, nil) // == addr+size
	g, _ := buildGraph(t, 100, 200, write, exec)

	require.Empty(t, ProcessInjection{}.Run(g))
}

func TestAllocWriteEmptyIntersectionIsNotMatch(t *testing.T) {
	alloc := events.NewAllocate(100, 1, "NtAllocateVirtualMemory", 200, 0x1000, 0x100) // [0x1000,0x1100)
	write := events.NewWrite(100, 2, "NtWriteVirtualMemory", 200, 0x1100, 0x100)       // [0x1100,0x1200)
	g, _ := buildGraph(t, 100, 200, alloc, write)

	require.Empty(t, ProcessInjection{}.Run(g))
}

func TestScheduledTaskCorrelation(t *testing.T) {
	apiEvt := events.NewTaskRegister(100, 1, "ITaskFolder::RegisterTaskDefinition", "EvilTask")
	fileEvt := events.NewFileTaskFolder(100, 2, "NtWriteFile", `C:\Windows\System32\Tasks\EvilTask`)
	sp := &tree.Process{SeqID: 1, PID: 100, ProcName: "source.exe"}
	ft := &fakeTree{procs: []*tree.Process{sp}, byPID: map[int]*tree.Process{100: sp}}
	g := graph.BuildFromTree(ft, nil)
	g.Ingest([]*events.Event{apiEvt, fileEvt}, ft, nil)

	findings := ScheduledTaskCreation{}.Run(g)
	require.Len(t, findings, 1)
	f := findings[0]
	require.Equal(t, "Task 'EvilTask' Created", f.Pattern)
	require.Equal(t, DisplayNodeAttribute, f.DisplayType)
	require.Equal(t, 1, *f.PrimaryTargetSeqID())
	require.ElementsMatch(t, []*events.Event{apiEvt, fileEvt}, f.CorrelatedEvents)
}

func TestPidRecyclingNoCrossContamination(t *testing.T) {
	old := &tree.Process{SeqID: 1, PID: 200, ProcName: "old.exe"}
	recent := &tree.Process{SeqID: 2, PID: 200, ProcName: "recent.exe"}
	source := &tree.Process{SeqID: 3, PID: 100, ProcName: "src.exe"}

	ft := &recyclingTree{old: old, recent: recent, source: source}
	g := graph.BuildFromTree(ft, nil)

	allocOld := events.NewAllocate(100, 1, "NtAllocateVirtualMemory", 200, 0x1000, 0x10)
	allocRecent := events.NewAllocate(100, 20, "NtAllocateVirtualMemory", 200, 0x2000, 0x10)
	g.Ingest([]*events.Event{allocOld, allocRecent}, ft, nil)

	require.Equal(t, old.SeqID, *allocOld.TargetSeqID)
	require.Equal(t, recent.SeqID, *allocRecent.TargetSeqID)
	require.NotEqual(t, *allocOld.TargetSeqID, *allocRecent.TargetSeqID)
}

type recyclingTree struct {
	old, recent, source *tree.Process
}

func (r *recyclingTree) Processes() []*tree.Process {
	return []*tree.Process{r.old, r.recent, r.source}
}

func (r *recyclingTree) Lookup(pid int, evtid uint64) *tree.Process {
	if pid == 100 {
		return r.source
	}
	if pid == 200 {
		if evtid < 10 {
			return r.old
		}
		return r.recent
	}
	return nil
}

func TestEngineRunsStrategiesInOrder(t *testing.T) {
	apiEvt := events.NewTaskRegister(100, 1, "ITaskFolder::RegisterTaskDefinition", "EvilTask")
	fileEvt := events.NewFileTaskFolder(100, 2, "NtWriteFile", `C:\Windows\System32\Tasks\EvilTask`)
	alloc := events.NewAllocate(100, 3, "NtAllocateVirtualMemory", 200, 0x1000, 0x2000)
	write := events.NewWrite(100, 4, "NtWriteVirtualMemory", 200, 0x1400, 0x100)
	exec := events.NewExecute(100, 5, "NtCreateThreadEx", 200, []uint64{0x1420}, nil)

	g, ft := buildGraph(t, 100, 200, alloc, write, exec)
	g.Ingest([]*events.Event{apiEvt, fileEvt}, ft, nil)

	eng := NewEngine(nil)
	findings := eng.Run(g)
	require.Len(t, findings, 2)
	require.Equal(t, ProcessInjectionName, findings[0].DetectionName)
	require.Equal(t, ScheduledTaskCreationName, findings[1].DetectionName)
}

type panicStrategy struct{}

func (panicStrategy) Name() string                        { return "Panicky" }
func (panicStrategy) Run(g *graph.Graph) []*Finding        { panic("boom") }

func TestEngineContinuesAfterStrategyPanic(t *testing.T) {
	eng := NewEngine(nil)
	eng.strategies = []Strategy{panicStrategy{}, ScheduledTaskCreation{}}

	apiEvt := events.NewTaskRegister(100, 1, "ITaskFolder::RegisterTaskDefinition", "EvilTask")
	fileEvt := events.NewFileTaskFolder(100, 2, "NtWriteFile", `C:\Windows\System32\Tasks\EvilTask`)
	sp := &tree.Process{SeqID: 1, PID: 100, ProcName: "source.exe"}
	ft := &fakeTree{procs: []*tree.Process{sp}, byPID: map[int]*tree.Process{100: sp}}
	g := graph.BuildFromTree(ft, nil)
	g.Ingest([]*events.Event{apiEvt, fileEvt}, ft, nil)

	findings := eng.Run(g)
	require.Len(t, findings, 1)
	require.Equal(t, ScheduledTaskCreationName, findings[0].DetectionName)
}
