package events

import "fmt"

// Record is the flat, serializer-facing form of an Event: every header
// field plus every payload field plus the "event_type" discriminator.
// It is the shape that crosses the boundary to JSON export.
type Record struct {
	EventType string `json:"event_type"`

	SourcePID   int      `json:"source_pid"`
	EvtID       uint64   `json:"evtid"`
	Method      string   `json:"method"`
	RawEntries  []string `json:"raw_entries"`
	TargetPID   *int     `json:"target_pid,omitempty"`
	SourceSeqID *int     `json:"source_seqid,omitempty"`
	TargetSeqID *int     `json:"target_seqid,omitempty"`

	Address      *uint64  `json:"address,omitempty"`
	Size         *uint64  `json:"size,omitempty"`
	BytesWritten *uint64  `json:"bytes_written,omitempty"`
	Addresses    []uint64 `json:"addresses,omitempty"`
	TargetTID    *int     `json:"target_tid,omitempty"`
	FileName     string   `json:"file_name,omitempty"`
	TaskName     string   `json:"task_name,omitempty"`
}

// EventToRecord serializes every header field plus payload field plus the
// event_type discriminator, per spec §4.1.
func EventToRecord(e *Event) Record {
	r := Record{
		EventType:   string(e.Type()),
		SourcePID:   e.SourcePID,
		EvtID:       e.EvtID,
		Method:      e.Method,
		RawEntries:  append([]string(nil), e.RawEntries...),
		TargetPID:   e.TargetPID,
		SourceSeqID: e.SourceSeqID,
		TargetSeqID: e.TargetSeqID,
	}

	switch {
	case e.Allocate != nil:
		r.Address = &e.Allocate.Address
		r.Size = &e.Allocate.Size
	case e.Write != nil:
		r.Address = &e.Write.Address
		r.BytesWritten = &e.Write.BytesWritten
	case e.Execute != nil:
		r.Addresses = append([]uint64(nil), e.Execute.Addresses...)
		r.TargetTID = e.Execute.TargetTID
	case e.FileTaskFolder != nil:
		r.FileName = e.FileTaskFolder.FileName
	case e.TaskRegister != nil:
		r.TaskName = e.TaskRegister.TaskName
	}
	return r
}

// ErrUnknownVariant and ErrMissingDiscriminator are the two failure modes
// of RecordToEvent, per spec §4.1.
var (
	ErrMissingDiscriminator = fmt.Errorf("record missing event_type discriminator")
	ErrUnknownVariant       = fmt.Errorf("record has unknown event_type")
)

// RecordToEvent deserializes a Record back into its typed Event using the
// event_type discriminator.
func RecordToEvent(r Record) (*Event, error) {
	if r.EventType == "" {
		return nil, ErrMissingDiscriminator
	}

	h := Header{
		SourcePID:   r.SourcePID,
		EvtID:       r.EvtID,
		Method:      r.Method,
		RawEntries:  append([]string(nil), r.RawEntries...),
		TargetPID:   r.TargetPID,
		SourceSeqID: r.SourceSeqID,
		TargetSeqID: r.TargetSeqID,
	}

	switch Type(r.EventType) {
	case TypeAllocate:
		var addr, size uint64
		if r.Address != nil {
			addr = *r.Address
		}
		if r.Size != nil {
			size = *r.Size
		}
		return &Event{Header: h, Allocate: &AllocatePayload{Address: addr, Size: size}}, nil
	case TypeWrite:
		var addr, bw uint64
		if r.Address != nil {
			addr = *r.Address
		}
		if r.BytesWritten != nil {
			bw = *r.BytesWritten
		}
		return &Event{Header: h, Write: &WritePayload{Address: addr, BytesWritten: bw}}, nil
	case TypeExecute:
		return &Event{Header: h, Execute: &ExecutePayload{
			Addresses: append([]uint64(nil), r.Addresses...),
			TargetTID: r.TargetTID,
		}}, nil
	case TypeFileTaskFolder:
		return &Event{Header: h, FileTaskFolder: &FileTaskFolderPayload{FileName: r.FileName}}, nil
	case TypeTaskRegister:
		return &Event{Header: h, TaskRegister: &TaskRegisterPayload{TaskName: r.TaskName}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, r.EventType)
	}
}
