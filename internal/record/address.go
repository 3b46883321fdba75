// Acyclic record telegrams and the address rules that map them onto the transport.
//
// All derivations are plain uint32 arithmetic. Record indexes above 0xFFFF or instance ids
// above 0xFFFF wrap into neighbouring fields and alias other records. That boundary is part
// of the transport contract and is kept as is.
package record

const (
	// Base of every record index group and of the per-instance success result code
	SuccessBase uint32 = 0x80000000
	fieldShift  uint32 = 0x10000
)

// Correlation key of one operation: record index in the high half, hardware id in the low half
func InvokeID(recordIndex uint32, hardwareID uint16) (invokeID uint32) {
	invokeID = recordIndex*fieldShift + uint32(hardwareID)
	return
}

// Recovers the record index and hardware id from an invoke id
func DecodeInvokeID(invokeID uint32) (recordIndex uint32, hardwareID uint16) {
	recordIndex = invokeID >> 16
	hardwareID = uint16(invokeID & 0xFFFF)
	return
}

func IndexGroup(recordIndex uint32) (indexGroup uint32) {
	indexGroup = SuccessBase + recordIndex
	return
}

// Hardware id in the low half, owning instance in the high half
func IndexOffset(hardwareID uint16, instanceID int) (indexOffset uint32) {
	indexOffset = uint32(hardwareID) + uint32(instanceID)*fieldShift
	return
}

// Instance encoded in an index offset
func InstanceFromOffset(indexOffset uint32) (instanceID int) {
	instanceID = int(indexOffset >> 16)
	return
}

// Result code a completion must carry to belong to instanceID
func ExpectedResult(instanceID int) (result uint32) {
	result = SuccessBase + uint32(uint16(instanceID))
	return
}
