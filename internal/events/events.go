// Package events defines the closed set of semantic events produced by the
// parser and carried on the process graph.
package events

import "fmt"

// Type is the closed set of event variants the parser can emit.
type Type string

const (
	TypeAllocate      Type = "AllocateEvent"
	TypeWrite         Type = "WriteEvent"
	TypeExecute       Type = "ExecuteEvent"
	TypeFileTaskFolder Type = "FileTaskFolderEvent"
	TypeTaskRegister  Type = "TaskRegisterEvent"
)

// Header carries the fields common to every event variant.
type Header struct {
	SourcePID   int
	EvtID       uint64
	Method      string
	RawEntries  []string
	TargetPID   *int
	SourceSeqID *int
	TargetSeqID *int
}

// Event is the closed sum type over the five semantic variants. Exactly one
// of the payload pointers is non-nil; Type reports which.
type Event struct {
	Header

	Allocate       *AllocatePayload
	Write          *WritePayload
	Execute        *ExecutePayload
	FileTaskFolder *FileTaskFolderPayload
	TaskRegister   *TaskRegisterPayload
}

type AllocatePayload struct {
	Address uint64
	Size    uint64
}

type WritePayload struct {
	Address      uint64
	BytesWritten uint64
}

type ExecutePayload struct {
	Addresses []uint64
	TargetTID *int
}

type FileTaskFolderPayload struct {
	FileName string
}

type TaskRegisterPayload struct {
	TaskName string
}

// Type returns the variant discriminator for e.
func (e *Event) Type() Type {
	switch {
	case e.Allocate != nil:
		return TypeAllocate
	case e.Write != nil:
		return TypeWrite
	case e.Execute != nil:
		return TypeExecute
	case e.FileTaskFolder != nil:
		return TypeFileTaskFolder
	case e.TaskRegister != nil:
		return TypeTaskRegister
	default:
		return ""
	}
}

// IsEdgeTyped reports whether e carries a resolved target pid. Node-typed
// events (the negation) are attached to a single process's node_events list.
func (e *Event) IsEdgeTyped() bool {
	return e.TargetPID != nil
}

// NewAllocate constructs an Allocate event. size must be > 0 per the
// non-zero constraint in the data model.
func NewAllocate(sourcePID int, evtID uint64, method string, targetPID int, address, size uint64) *Event {
	tp := targetPID
	return &Event{
		Header:   Header{SourcePID: sourcePID, EvtID: evtID, Method: method, TargetPID: &tp},
		Allocate: &AllocatePayload{Address: address, Size: size},
	}
}

// NewWrite constructs a Write event. bytesWritten must be > 0.
func NewWrite(sourcePID int, evtID uint64, method string, targetPID int, address, bytesWritten uint64) *Event {
	tp := targetPID
	return &Event{
		Header: Header{SourcePID: sourcePID, EvtID: evtID, Method: method, TargetPID: &tp},
		Write:  &WritePayload{Address: address, BytesWritten: bytesWritten},
	}
}

// NewExecute constructs an Execute event. addresses must be non-empty.
func NewExecute(sourcePID int, evtID uint64, method string, targetPID int, addresses []uint64, targetTID *int) *Event {
	tp := targetPID
	return &Event{
		Header:  Header{SourcePID: sourcePID, EvtID: evtID, Method: method, TargetPID: &tp},
		Execute: &ExecutePayload{Addresses: addresses, TargetTID: targetTID},
	}
}

// NewFileTaskFolder constructs a node-typed FileTaskFolder event.
func NewFileTaskFolder(sourcePID int, evtID uint64, method, fileName string) *Event {
	return &Event{
		Header:         Header{SourcePID: sourcePID, EvtID: evtID, Method: method},
		FileTaskFolder: &FileTaskFolderPayload{FileName: fileName},
	}
}

// NewTaskRegister constructs a node-typed TaskRegister event.
func NewTaskRegister(sourcePID int, evtID uint64, method, taskName string) *Event {
	return &Event{
		Header:       Header{SourcePID: sourcePID, EvtID: evtID, Method: method},
		TaskRegister: &TaskRegisterPayload{TaskName: taskName},
	}
}

// Valid checks the non-zero/non-empty invariants from the data model.
func (e *Event) Valid() error {
	switch {
	case e.Allocate != nil:
		if e.Allocate.Size == 0 {
			return fmt.Errorf("allocate event: size must be > 0")
		}
	case e.Write != nil:
		if e.Write.BytesWritten == 0 {
			return fmt.Errorf("write event: bytes_written must be > 0")
		}
	case e.Execute != nil:
		if len(e.Execute.Addresses) == 0 {
			return fmt.Errorf("execute event: addresses must be non-empty")
		}
	case e.FileTaskFolder != nil, e.TaskRegister != nil:
		// no numeric invariants
	default:
		return fmt.Errorf("event has no payload set")
	}
	return nil
}

// AppendRaw appends a raw trace line to the event's evidence list,
// preserving observed lexical order.
func (e *Event) AppendRaw(line string) {
	e.RawEntries = append(e.RawEntries, line)
}
