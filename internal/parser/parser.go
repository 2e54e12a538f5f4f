// Package parser stateful-translates raw sandbox trace records into
// semantic events, including the cross-record correlation of a
// thread-context modification followed by its resuming thread (spec §4.3).
package parser

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/replit/sandbox-correlate/internal/events"
	"github.com/replit/sandbox-correlate/internal/logreader"
)

// registerOrder fixes the deterministic order in which captured thread
// registers are turned into Execute.addresses when a resume consumes them.
var registerOrder = []string{"rip", "rcx", "eip", "eax"}

type pendingContext struct {
	registers map[string]uint64
	raw       string
}

// Parser holds the mutable pending-thread-context state explicit to a
// single ingestion pass; it owns no global storage.
type Parser struct {
	pending map[int]pendingContext // keyed by tid
	logger  *logrus.Logger
}

// New constructs a Parser. A nil logger falls back to logrus.StandardLogger().
func New(logger *logrus.Logger) *Parser {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Parser{pending: make(map[int]pendingContext), logger: logger}
}

// PendingCount reports how many thread contexts are still awaiting a
// resume; used to check the end-of-stream invariant in spec §8.
func (p *Parser) PendingCount() int { return len(p.pending) }

// Parse dispatches one record to the plugin-specific handler and returns at
// most one event. A nil return means the record was dropped (malformed,
// recognized-but-non-emitting such as a context-capture record, or simply
// not relevant to any rule).
func (p *Parser) Parse(rec logreader.Record) *events.Event {
	plugin, _ := rec.Get("Plugin")
	switch plugin {
	case "filetracer":
		return p.parseFiletracer(rec)
	case "apimon":
		return p.parseApimon(rec)
	case "syscall":
		return p.parseSyscall(rec)
	default:
		return nil
	}
}

var taskFolderRe = regexp.MustCompile(`(?i)\\system32\\tasks\\`)

func (p *Parser) parseFiletracer(rec logreader.Record) *events.Event {
	method, _ := rec.Get("Method")
	desiredAccess, _ := rec.Get("DesiredAccess")

	isWrite := method == "NtWriteFile" ||
		(method == "NtCreateFile" && strings.Contains(desiredAccess, "WRITE"))
	if !isWrite {
		return nil
	}

	fileName, ok := rec.Get("FileName")
	if !ok {
		p.logger.WithField("method", method).Debug("parser: filetracer record missing FileName")
		return nil
	}
	fileName = strings.TrimPrefix(fileName, `\??\`)
	if !taskFolderRe.MatchString(fileName) {
		return nil
	}

	evtID, pid := p.header(rec)
	if pid == nil {
		return nil
	}
	e := events.NewFileTaskFolder(*pid, evtID, method, fileName)
	e.AppendRaw(rec.Raw())
	return e
}

var arg1Re = regexp.MustCompile(`Arg1=[^:]+:"([^"]*)"`)

func (p *Parser) parseApimon(rec logreader.Record) *events.Event {
	method, _ := rec.Get("Method")
	if method != "ITaskFolder::RegisterTaskDefinition" {
		return nil
	}

	args, ok := rec.Get("Arguments")
	if !ok {
		p.logger.Debug("parser: apimon RegisterTaskDefinition missing Arguments")
		return nil
	}
	m := arg1Re.FindStringSubmatch(args)
	if m == nil {
		p.logger.WithField("arguments", args).Debug("parser: could not extract Arg1 from RegisterTaskDefinition")
		return nil
	}

	evtID, pid := p.header(rec)
	if pid == nil {
		return nil
	}
	e := events.NewTaskRegister(*pid, evtID, method, m[1])
	e.AppendRaw(rec.Raw())
	return e
}

func (p *Parser) parseSyscall(rec logreader.Record) *events.Event {
	method, _ := rec.Get("Method")
	switch method {
	case "NtAllocateVirtualMemory", "NtAllocateVirtualMemoryEx":
		return p.parseAllocate(rec, method)
	case "NtWriteVirtualMemory":
		return p.parseWrite(rec, method, "BaseAddress", "*NumberOfBytesWritten")
	case "NtMapViewOfSection", "NtMapViewOfSectionEx":
		return p.parseWrite(rec, method, "*BaseAddress", "*ViewSize")
	case "NtCreateThread", "NtCreateThreadEx", "RtlCreateUserThread":
		return p.parseExecuteCreate(rec, method)
	case "NtSetContextThread", "NtSetInformationThread":
		p.captureContext(rec)
		return nil
	case "NtResumeThread":
		return p.parseResume(rec, method)
	default:
		return nil
	}
}

func (p *Parser) parseAllocate(rec logreader.Record, method string) *events.Event {
	evtID, pid := p.header(rec)
	if pid == nil {
		return nil
	}
	targetPID, ok := rec.Int("ProcessHandle_PID")
	if !ok {
		p.logger.WithField("method", method).Debug("parser: missing ProcessHandle_PID")
		return nil
	}
	address, ok := rec.Uint64("*BaseAddress")
	if !ok {
		p.logger.WithField("method", method).Debug("parser: missing or unparseable *BaseAddress")
		return nil
	}
	size, ok := rec.Uint64("*RegionSize")
	if !ok {
		p.logger.WithField("method", method).Debug("parser: missing or unparseable *RegionSize")
		return nil
	}
	if size == 0 {
		return nil
	}
	e := events.NewAllocate(*pid, evtID, method, targetPID, address, size)
	e.AppendRaw(rec.Raw())
	return e
}

func (p *Parser) parseWrite(rec logreader.Record, method, addrField, sizeField string) *events.Event {
	evtID, pid := p.header(rec)
	if pid == nil {
		return nil
	}
	targetPID, ok := rec.Int("ProcessHandle_PID")
	if !ok {
		p.logger.WithField("method", method).Debug("parser: missing ProcessHandle_PID")
		return nil
	}
	address, ok := rec.Uint64(addrField)
	if !ok {
		p.logger.WithField("method", method).Debug("parser: missing or unparseable address field")
		return nil
	}
	bytesWritten, ok := rec.Uint64(sizeField)
	if !ok || bytesWritten == 0 {
		return nil
	}
	e := events.NewWrite(*pid, evtID, method, targetPID, address, bytesWritten)
	e.AppendRaw(rec.Raw())
	return e
}

func (p *Parser) parseExecuteCreate(rec logreader.Record, method string) *events.Event {
	evtID, pid := p.header(rec)
	if pid == nil {
		return nil
	}
	targetPID, ok := rec.Int("TargetPID")
	if !ok {
		p.logger.WithField("method", method).Debug("parser: missing TargetPID")
		return nil
	}
	start, ok := firstNonNullUint64(rec, "ThreadContext.Rip", "*StartRoutine", "*StartAddress")
	if !ok {
		p.logger.WithField("method", method).Debug("parser: no start address among ThreadContext.Rip/*StartRoutine/*StartAddress")
		return nil
	}
	e := events.NewExecute(*pid, evtID, method, targetPID, []uint64{start}, nil)
	e.AppendRaw(rec.Raw())
	return e
}

func (p *Parser) captureContext(rec logreader.Record) {
	tid, ok := rec.Int("ThreadHandle_TID")
	if !ok {
		p.logger.Debug("parser: context-set record missing ThreadHandle_TID")
		return
	}

	regs := make(map[string]uint64)
	for _, want := range registerOrder {
		if v, ok := rec.UintBySuffix(want); ok {
			regs[want] = v
		}
	}
	if len(regs) == 0 {
		return
	}
	p.pending[tid] = pendingContext{registers: regs, raw: rec.Raw()}
}

func (p *Parser) parseResume(rec logreader.Record, method string) *events.Event {
	tid, ok := rec.Int("ThreadHandle_TID")
	if !ok {
		return nil
	}
	pc, ok := p.pending[tid]
	if !ok {
		return nil
	}
	delete(p.pending, tid)

	evtID, pid := p.header(rec)
	if pid == nil {
		return nil
	}
	targetPID, ok := rec.Int("ThreadHandle_PID")
	if !ok {
		p.logger.WithField("method", method).Debug("parser: resume missing ThreadHandle_PID")
		return nil
	}

	var addrs []uint64
	for _, reg := range registerOrder {
		if v, ok := pc.registers[reg]; ok {
			addrs = append(addrs, v)
		}
	}
	if len(addrs) == 0 {
		return nil
	}

	e := events.NewExecute(*pid, evtID, method, targetPID, addrs, &tid)
	e.AppendRaw(pc.raw)
	e.AppendRaw(rec.Raw())
	return e
}

// header extracts the two fields every rule needs: the record's EventUID
// and the source PID. Both are required; absence drops the record.
func (p *Parser) header(rec logreader.Record) (evtID uint64, sourcePID *int) {
	id, ok := rec.Uint64("EventUID")
	if !ok {
		p.logger.Debug("parser: record missing EventUID")
		return 0, nil
	}
	pid, ok := rec.Int("PID")
	if !ok {
		p.logger.Debug("parser: record missing PID")
		return 0, nil
	}
	return id, &pid
}

func firstNonNullUint64(rec logreader.Record, keys ...string) (uint64, bool) {
	for _, k := range keys {
		if v, ok := rec.Uint64(k); ok {
			return v, true
		}
	}
	return 0, false
}
