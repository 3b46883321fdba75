package record

import "fmt"

// Telegram kind
type Kind uint8

const (
	WriteRequest Kind = iota
	ReadRequest
	WriteResponse
	ReadResponse
)

// Short trace labels
func (kind Kind) String() (label string) {
	switch kind {
	case WriteRequest:
		label = "WrRec"
	case ReadRequest:
		label = "RdRec"
	case WriteResponse:
		label = "WrRes"
	case ReadResponse:
		label = "RdRes"
	default:
		label = fmt.Sprintf("Kind(%d)", uint8(kind))
	}
	return
}

// True for the kinds that carry a payload
func (kind Kind) HasPayload() (carries bool) {
	carries = kind == WriteRequest || kind == ReadResponse
	return
}

// Which operation a completion confirms. Fixed when the completion is built.
type CompletionKind uint8

const (
	WriteCompletion CompletionKind = iota + 1
	ReadCompletion
)

func (kind CompletionKind) String() (label string) {
	switch kind {
	case WriteCompletion:
		label = "write"
	case ReadCompletion:
		label = "read"
	default:
		label = "unknown"
	}
	return
}
