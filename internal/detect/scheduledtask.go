package detect

import (
	"path"
	"sort"
	"strings"

	"github.com/replit/sandbox-correlate/internal/events"
	"github.com/replit/sandbox-correlate/internal/graph"
)

// ScheduledTaskCreationName is the detection_name every scheduled-task
// finding carries.
const ScheduledTaskCreationName = "Scheduled Task Creation"

// ScheduledTaskCreation correlates an ITaskFolder::RegisterTaskDefinition
// API call with the corresponding file write under System32\Tasks, by
// task name, per spec §4.4.b.
type ScheduledTaskCreation struct{}

func (ScheduledTaskCreation) Name() string { return ScheduledTaskCreationName }

func (ScheduledTaskCreation) Run(g *graph.Graph) []*Finding {
	apiByName := make(map[string][]*events.Event)
	fileByName := make(map[string][]*events.Event)

	for _, pn := range g.ProcessNodes() {
		for _, e := range pn.Node.NodeEvents {
			switch {
			case e.TaskRegister != nil:
				apiByName[e.TaskRegister.TaskName] = append(apiByName[e.TaskRegister.TaskName], e)
			case e.FileTaskFolder != nil:
				name := windowsBaseName(e.FileTaskFolder.FileName)
				fileByName[name] = append(fileByName[name], e)
			}
		}
	}

	var names []string
	for name := range apiByName {
		if _, ok := fileByName[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var findings []*Finding
	for _, name := range names {
		apiEvents := apiByName[name]
		fileEvents := fileByName[name]

		correlated := make([]*events.Event, 0, len(apiEvents)+len(fileEvents))
		correlated = append(correlated, apiEvents...)
		correlated = append(correlated, fileEvents...)

		f := NewFinding(ScheduledTaskCreationName, DisplayNodeAttribute, "Task '"+name+"' Created", correlated)
		if len(apiEvents) > 0 && apiEvents[0].SourceSeqID != nil {
			f.OverridePrimaryTarget(*apiEvents[0].SourceSeqID)
		}
		findings = append(findings, f)
	}
	return findings
}

// windowsBaseName returns the last component of a Windows-style path,
// mirroring pathlib.PureWindowsPath(...).name from the original
// implementation.
func windowsBaseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return path.Base(p)
}
