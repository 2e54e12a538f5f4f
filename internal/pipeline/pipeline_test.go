package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replit/sandbox-correlate/internal/metrics"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()

	treePath := writeFile(t, dir, "process_tree.json", `[
		{"seqid":1,"pid":100,"procname":"source.exe","started_at":0},
		{"seqid":2,"pid":200,"procname":"target.exe","started_at":0,"parent_seqid":1}
	]`)

	syscallPath := writeFile(t, dir, "syscall.log",
		`Plugin=syscall Method=NtAllocateVirtualMemory PID=100 EventUID=1 ProcessHandle_PID=200 *BaseAddress=0x1000 *RegionSize=0x100
Plugin=syscall Method=NtWriteVirtualMemory PID=100 EventUID=2 ProcessHandle_PID=200 BaseAddress=0x1000 *NumberOfBytesWritten=0x100
Plugin=syscall Method=NtCreateThreadEx PID=100 EventUID=3 TargetPID=200 *StartAddress=0x1010
`)

	result, err := Run(context.Background(), []string{syscallPath}, treePath, metrics.New(nil), nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, result.Report, 2)
	require.NotEmpty(t, result.Findings)
	require.Equal(t, "Alloc->Write->Exec", result.Findings[0].Pattern)
	require.Len(t, result.Graph.Nodes, 2)
}

func TestRunMissingTreeIsError(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), nil, filepath.Join(dir, "missing.json"), nil, nil, nil, nil)
	require.Error(t, err)
}
