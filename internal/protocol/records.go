package protocol

import "simbridge/internal/record"

func NewRecordRange() (new *RecordRange) {
	new = &RecordRange{
		offsets:   make(map[uint32]struct{}),
		instances: make(map[uint16]struct{}),
	}
	return
}

// Registers a single index offset
func (records *RecordRange) Add(indexOffset uint32) {
	records.mu.Lock()
	defer records.mu.Unlock()
	records.offsets[indexOffset] = struct{}{}
}

// Registers count hardware ids starting at firstHardwareID for one instance
func (records *RecordRange) AddSpan(instanceID int, firstHardwareID uint16, count int) {
	records.mu.Lock()
	defer records.mu.Unlock()

	for i := 0; i < count; i++ {
		hardwareID := firstHardwareID + uint16(i)
		records.offsets[record.IndexOffset(hardwareID, instanceID)] = struct{}{}
	}
}

// Registers every hardware id of one instance
func (records *RecordRange) AddInstance(instanceID int) {
	records.mu.Lock()
	defer records.mu.Unlock()
	records.instances[uint16(instanceID)] = struct{}{}
}

func (records *RecordRange) Contains(indexOffset uint32) (known bool) {
	if records == nil {
		return
	}
	records.mu.RLock()
	defer records.mu.RUnlock()
	_, known = records.offsets[indexOffset]
	if !known {
		_, known = records.instances[uint16(record.InstanceFromOffset(indexOffset))]
	}
	return
}

func (records *RecordRange) Len() (count int) {
	records.mu.RLock()
	defer records.mu.RUnlock()
	count = len(records.offsets)
	return
}
