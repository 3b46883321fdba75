package protocol

import (
	"simbridge/internal/record"
	"testing"
)

func TestRecordRange(t *testing.T) {
	records := NewRecordRange()
	records.AddSpan(1, 5, 3)
	records.Add(0xDEAD)

	tests := []struct {
		offset uint32
		want   bool
	}{
		{record.IndexOffset(5, 1), true},
		{record.IndexOffset(7, 1), true},
		{record.IndexOffset(8, 1), false},
		{record.IndexOffset(5, 2), false},
		{0xDEAD, true},
	}

	for _, tt := range tests {
		if got := records.Contains(tt.offset); got != tt.want {
			t.Fatalf("Contains(%X) = %v, want %v", tt.offset, got, tt.want)
		}
	}
	if records.Len() != 4 {
		t.Fatalf("expected 4 offsets, got %d", records.Len())
	}

	records.AddInstance(3)
	if !records.Contains(record.IndexOffset(0xFFFF, 3)) || !records.Contains(record.IndexOffset(0, 3)) {
		t.Fatalf("instance registration must admit every hardware id")
	}
	if records.Contains(record.IndexOffset(0, 4)) {
		t.Fatalf("unregistered instance admitted")
	}

	var missing *RecordRange
	if missing.Contains(record.IndexOffset(5, 1)) {
		t.Fatalf("nil range must not admit offsets")
	}
}
