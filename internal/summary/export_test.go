package summary

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replit/sandbox-correlate/internal/detect"
	"github.com/replit/sandbox-correlate/internal/events"
)

func TestMarshalJSONShape(t *testing.T) {
	g, ft := buildGraph(t)
	apiEvt := events.NewTaskRegister(100, 1, "ITaskFolder::RegisterTaskDefinition", "EvilTask")
	g.Ingest([]*events.Event{apiEvt}, ft, nil)
	f := detect.NewFinding(detect.ScheduledTaskCreationName, detect.DisplayNodeAttribute, "Task 'EvilTask' Created", []*events.Event{apiEvt})
	f.OverridePrimaryTarget(1)

	sg := Project(g, []*detect.Finding{f}, nil)
	payload, err := sg.MarshalJSON()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &doc))
	require.Equal(t, "process_graph", doc["data"].(map[string]interface{})["name"])

	elements := doc["elements"].(map[string]interface{})
	nodes := elements["nodes"].([]interface{})
	require.Len(t, nodes, 2)
	firstNode := nodes[0].(map[string]interface{})["data"].(map[string]interface{})
	require.Equal(t, "Process", firstNode["type"])
	require.NotNil(t, firstNode["node_events"])

	edges := elements["edges"].([]interface{})
	require.Len(t, edges, 1)
}

func TestWriteJSONGzipRoundTrip(t *testing.T) {
	g, _ := buildGraph(t)
	sg := Project(g, nil, nil)

	var buf bytes.Buffer
	require.NoError(t, sg.WriteJSON(&buf, true))

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	defer zr.Close()

	var doc map[string]interface{}
	require.NoError(t, json.NewDecoder(zr).Decode(&doc))
	require.Contains(t, doc, "elements")
}
