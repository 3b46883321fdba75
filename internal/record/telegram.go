package record

import (
	"fmt"
	"strings"
)

// Maximum payload bytes rendered by Message
const messageDataLimit int = 10

// Simulation side description of one record
type Info struct {
	RecordIndex uint32
	HardwareID  uint16
	DataSize    uint32
}

// One acyclic operation. Immutable, fields only reachable through accessors.
type Telegram struct {
	kind       Kind
	info       Info
	payload    []byte
	instanceID int
}

func FromReadRequest(info Info, instanceID int) (telegram Telegram) {
	telegram = Telegram{
		kind:       ReadRequest,
		info:       info,
		instanceID: instanceID,
	}
	return
}

// Payload is copied, later changes by the caller are not seen
func FromWriteRequest(info Info, payload []byte, instanceID int) (telegram Telegram) {
	telegram = Telegram{
		kind:       WriteRequest,
		info:       info,
		payload:    clone(payload),
		instanceID: instanceID,
	}
	return
}

// Response telegram. Record index and hardware id are decoded from the invoke id.
func FromCompletion(completion Completion, instanceID int) (telegram Telegram) {
	recordIndex, hardwareID := DecodeInvokeID(completion.InvokeID)

	telegram = Telegram{
		info: Info{
			RecordIndex: recordIndex,
			HardwareID:  hardwareID,
			DataSize:    completion.Length,
		},
		instanceID: instanceID,
	}
	if completion.Kind == ReadCompletion {
		telegram.kind = ReadResponse
		telegram.payload = clone(completion.Payload)
	} else {
		telegram.kind = WriteResponse
	}
	return
}

func (telegram Telegram) Kind() Kind      { return telegram.kind }
func (telegram Telegram) Info() Info      { return telegram.info }
func (telegram Telegram) InstanceID() int { return telegram.instanceID }

// Copy of the payload, nil for kinds without one
func (telegram Telegram) Payload() (payload []byte) {
	payload = clone(telegram.payload)
	return
}

// Payload length in bytes
func (telegram Telegram) PayloadSize() (size int) {
	size = len(telegram.payload)
	return
}

func (telegram Telegram) InvokeID() uint32 {
	return InvokeID(telegram.info.RecordIndex, telegram.info.HardwareID)
}

func (telegram Telegram) IndexGroup() uint32 {
	return IndexGroup(telegram.info.RecordIndex)
}

func (telegram Telegram) IndexOffset() uint32 {
	return IndexOffset(telegram.info.HardwareID, telegram.instanceID)
}

// One line trace text, e.g. "RdRes  IGrp 80000002  IOffs 10005  Data AA-BB-CC-DD"
func (telegram Telegram) Message() (text string) {
	text = fmt.Sprintf("%s  IGrp %X  IOffs %X", telegram.kind, telegram.IndexGroup(), telegram.IndexOffset())
	if telegram.kind.HasPayload() {
		text += "  Data " + hexDump(telegram.payload, messageDataLimit)
	}
	return
}

// Dash separated upper hex of the first limit bytes
func hexDump(data []byte, limit int) (dump string) {
	if len(data) > limit {
		data = data[:limit]
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	dump = strings.Join(parts, "-")
	return
}

func clone(data []byte) (copied []byte) {
	if data == nil {
		return
	}
	copied = make([]byte, len(data))
	copy(copied, data)
	return
}
