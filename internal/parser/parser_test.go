package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replit/sandbox-correlate/internal/logreader"
)

func rec(t *testing.T, line string) logreader.Record {
	t.Helper()
	recs := logreader.ReadAll([]string{writeTemp(t, line)}, nil, nil)
	require.Len(t, recs, 1)
	return recs[0]
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAllocate(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=syscall Method=NtAllocateVirtualMemory PID=100 EventUID=1 ProcessHandle_PID=200 *BaseAddress=0x1000 *RegionSize=0x2000`)
	e := p.Parse(r)
	require.NotNil(t, e)
	require.Equal(t, "AllocateEvent", string(e.Type()))
	require.Equal(t, 200, *e.TargetPID)
	require.EqualValues(t, 0x1000, e.Allocate.Address)
	require.EqualValues(t, 0x2000, e.Allocate.Size)
}

func TestWriteVirtualMemory(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=syscall Method=NtWriteVirtualMemory PID=100 EventUID=2 ProcessHandle_PID=200 BaseAddress=0x1400 *NumberOfBytesWritten=0x100`)
	e := p.Parse(r)
	require.NotNil(t, e)
	require.EqualValues(t, 0x1400, e.Write.Address)
	require.EqualValues(t, 0x100, e.Write.BytesWritten)
}

func TestWriteZeroBytesDropped(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=syscall Method=NtWriteVirtualMemory PID=100 EventUID=2 ProcessHandle_PID=200 BaseAddress=0x1400 *NumberOfBytesWritten=0x0`)
	require.Nil(t, p.Parse(r))
}

func TestMapViewOfSectionIsWrite(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=syscall Method=NtMapViewOfSection PID=100 EventUID=3 ProcessHandle_PID=200 *BaseAddress=0x2000 *ViewSize=0x500`)
	e := p.Parse(r)
	require.NotNil(t, e)
	require.Equal(t, "WriteEvent", string(e.Type()))
	require.EqualValues(t, 0x500, e.Write.BytesWritten)
}

func TestCreateThreadStartAddressFallback(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=syscall Method=NtCreateThreadEx PID=100 EventUID=4 TargetPID=200 *StartAddress=0x1420`)
	e := p.Parse(r)
	require.NotNil(t, e)
	require.Equal(t, []uint64{0x1420}, e.Execute.Addresses)
}

func TestContextResumeFabrication(t *testing.T) {
	p := New(nil)
	setCtx := rec(t, `Plugin=syscall Method=NtSetContextThread PID=100 EventUID=5 ThreadHandle_TID=7 ThreadContext.Rip=0xDEAD`)
	require.Nil(t, p.Parse(setCtx))
	require.Equal(t, 1, p.PendingCount())

	resume := rec(t, `Plugin=syscall Method=NtResumeThread PID=100 EventUID=6 ThreadHandle_TID=7 ThreadHandle_PID=200`)
	e := p.Parse(resume)
	require.NotNil(t, e)
	require.Equal(t, "ExecuteEvent", string(e.Type()))
	require.Equal(t, 200, *e.TargetPID)
	require.Equal(t, []uint64{0xDEAD}, e.Execute.Addresses)
	require.Equal(t, []string{setCtx.Raw(), resume.Raw()}, e.RawEntries)
	require.Equal(t, 0, p.PendingCount())
}

func TestResumeWithoutPendingContextIsDropped(t *testing.T) {
	p := New(nil)
	resume := rec(t, `Plugin=syscall Method=NtResumeThread PID=100 EventUID=6 ThreadHandle_TID=7 ThreadHandle_PID=200`)
	require.Nil(t, p.Parse(resume))
}

func TestFiletracerTaskFolderWrite(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=filetracer Method=NtWriteFile PID=100 EventUID=7 FileName=\??\C:\Windows\System32\Tasks\EvilTask`)
	e := p.Parse(r)
	require.NotNil(t, e)
	require.Equal(t, "FileTaskFolderEvent", string(e.Type()))
	require.Equal(t, `C:\Windows\System32\Tasks\EvilTask`, e.FileTaskFolder.FileName)
	require.Nil(t, e.TargetPID)
}

func TestFiletracerCreateFileRequiresWriteAccess(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=filetracer Method=NtCreateFile PID=100 EventUID=8 DesiredAccess=READ FileName=\??\C:\Windows\System32\Tasks\EvilTask`)
	require.Nil(t, p.Parse(r))

	r2 := rec(t, `Plugin=filetracer Method=NtCreateFile PID=100 EventUID=9 DesiredAccess=GENERIC_WRITE FileName=\??\C:\Windows\System32\Tasks\EvilTask`)
	e := p.Parse(r2)
	require.NotNil(t, e)
}

func TestFiletracerIgnoresNonTaskPath(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=filetracer Method=NtWriteFile PID=100 EventUID=10 FileName=\??\C:\Users\bob\file.txt`)
	require.Nil(t, p.Parse(r))
}

func TestApimonTaskRegister(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=apimon Method=ITaskFolder::RegisterTaskDefinition PID=100 EventUID=11 Arguments="Arg1=string:\"EvilTask\""`)
	e := p.Parse(r)
	require.NotNil(t, e)
	require.Equal(t, "TaskRegisterEvent", string(e.Type()))
	require.Equal(t, "EvilTask", e.TaskRegister.TaskName)
	require.Nil(t, e.TargetPID)
}

func TestUnrecognizedPluginDropped(t *testing.T) {
	p := New(nil)
	r := rec(t, `Plugin=unknown Method=X PID=1 EventUID=1`)
	require.Nil(t, p.Parse(r))
}
