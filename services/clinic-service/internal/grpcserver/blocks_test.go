package grpcserver

import (
	"reflect"
	"testing"

	"github.com/novadent/platform/services/clinic-service/internal/storage"
)

func TestMergeBlocks(t *testing.T) {
	in := []storage.TimeOff{
		{StartMinute: 780, EndMinute: 840},
		{StartMinute: 540, EndMinute: 600},
		{StartMinute: 570, EndMinute: 630},
		{StartMinute: 900, EndMinute: 900},
	}

	got := mergeBlocks(in)
	want := []block{
		{start: 540, end: 630},
		{start: 780, end: 840},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mergeBlocks = %v, want %v", got, want)
	}
}

func TestMergeBlocksEmpty(t *testing.T) {
	if got := mergeBlocks(nil); got != nil {
		t.Fatalf("mergeBlocks(nil) = %v, want nil", got)
	}
	if got := mergeBlocks([]storage.TimeOff{{StartMinute: 600, EndMinute: 600}}); got != nil {
		t.Fatalf("expected zero-span entry to be dropped, got %v", got)
	}
}
