package record

// Outcome of one transport operation as surfaced by the protocol client
type Completion struct {
	InvokeID uint32
	Result   uint32
	Length   uint32
	Payload  []byte // nil for write completions
	Kind     CompletionKind
}

// Write confirmation, carries no payload
func NewWriteCompletion(invokeID, result uint32) (completion Completion) {
	completion = Completion{
		InvokeID: invokeID,
		Result:   result,
		Kind:     WriteCompletion,
	}
	return
}

// Read confirmation. Payload is copied, length taken from it.
func NewReadCompletion(invokeID, result uint32, data []byte) (completion Completion) {
	payload := make([]byte, len(data))
	copy(payload, data)

	completion = Completion{
		InvokeID: invokeID,
		Result:   result,
		Length:   uint32(len(payload)),
		Payload:  payload,
		Kind:     ReadCompletion,
	}
	return
}
