// Package report builds the "processes" section of the analysis report
// patch the core contributes alongside its graph output (spec §6).
package report

import "github.com/replit/sandbox-correlate/internal/tree"

// ProcessPatch is one process entry in the report patch.
type ProcessPatch struct {
	SeqID       int      `json:"seqid"`
	PID         int      `json:"pid"`
	ParentSeqID *int     `json:"parent_seqid,omitempty"`
	Name        string   `json:"name"`
	Args        []string `json:"args"`
	StartedAt   float64  `json:"started_at"`
	ExitedAt    *float64 `json:"exited_at,omitempty"`
	ExitCode    *int64   `json:"exit_code,omitempty"`
	ExitCodeStr string   `json:"exit_code_str"`
	KilledBy    *string  `json:"killed_by,omitempty"`
}

// knownNTStatus maps the handful of well-known NTSTATUS exit codes to their
// symbolic names; anything else renders as a hex literal.
var knownNTStatus = map[int64]string{
	0:           "STATUS_SUCCESS",
	-1073741510: "STATUS_CONTROL_C_EXIT",
	-1073741819: "STATUS_ACCESS_VIOLATION",
	-1073741571: "STATUS_STACK_OVERFLOW",
}

// exitCodeString renders a process's raw exit code as a human string,
// mirroring the original implementation's exit_code_str derivation: a
// symbolic NTSTATUS name when recognized, else a hex literal, else
// "unknown" when the process has not exited.
func exitCodeString(code *int64) string {
	if code == nil {
		return "unknown"
	}
	if name, ok := knownNTStatus[*code]; ok {
		return name
	}
	return hex64(*code)
}

func hex64(v int64) string {
	const digits = "0123456789abcdef"
	u := uint64(v)
	if v < 0 {
		u = uint64(-v)
	}
	buf := make([]byte, 0, 18)
	if u == 0 {
		buf = append(buf, '0')
	}
	for u > 0 {
		buf = append([]byte{digits[u%16]}, buf...)
		u /= 16
	}
	sign := ""
	if v < 0 {
		sign = "-"
	}
	return sign + "0x" + string(buf)
}

// killedByConvention maps a subset of NTSTATUS termination codes to the
// external signal/mechanism name that killed the process. Nil unless a
// convention is recognized; the core never invents a value it cannot
// derive from the exit code alone.
func killedByConvention(code *int64) *string {
	if code == nil {
		return nil
	}
	conventions := map[int64]string{
		-1073741510: "CTRL_C",
	}
	if name, ok := conventions[*code]; ok {
		return &name
	}
	return nil
}

// Build projects every process in t into its report patch entry, in the
// tree's iteration order.
func Build(t tree.Tree) []ProcessPatch {
	procs := t.Processes()
	out := make([]ProcessPatch, 0, len(procs))
	for _, p := range procs {
		var parentSeqID *int
		if p.Parent != nil {
			id := p.Parent.SeqID
			parentSeqID = &id
		}
		out = append(out, ProcessPatch{
			SeqID:       p.SeqID,
			PID:         p.PID,
			ParentSeqID: parentSeqID,
			Name:        p.ProcName,
			Args:        p.Args,
			StartedAt:   p.StartedAt,
			ExitedAt:    p.ExitedAt,
			ExitCode:    p.ExitCode,
			ExitCodeStr: exitCodeString(p.ExitCode),
			KilledBy:    killedByConvention(p.ExitCode),
		})
	}
	return out
}
