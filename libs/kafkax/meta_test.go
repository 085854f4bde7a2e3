package kafkax

import (
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestExtractEventMetaFromHeaders(t *testing.T) {
	msg := kafka.Message{
		Topic: "booking.appointment.booked.v1",
		Key:   []byte("apt-1"),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("evt-42")},
			{Key: "event_type", Value: []byte("booking.appointment.booked.v1")},
		},
	}

	meta := ExtractEventMeta(msg)
	if meta.EventID != "evt-42" {
		t.Fatalf("EventID = %q, want evt-42", meta.EventID)
	}
	if meta.EventType != "booking.appointment.booked.v1" {
		t.Fatalf("EventType = %q", meta.EventType)
	}
}

func TestExtractEventMetaFallbacks(t *testing.T) {
	msg := kafka.Message{
		Topic: "scheduler.reminder.due.v1",
		Key:   []byte("apt-2"),
	}

	meta := ExtractEventMeta(msg)
	if meta.EventID != "apt-2" {
		t.Fatalf("EventID = %q, want message key fallback", meta.EventID)
	}
	if meta.EventType != "scheduler.reminder.due.v1" {
		t.Fatalf("EventType = %q, want topic fallback", meta.EventType)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, kafka-2:9092 ,, ")
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitBrokers = %v, want %v", got, want)
	}

	if got := SplitBrokers(""); got != nil {
		t.Fatalf("SplitBrokers(empty) = %v, want nil", got)
	}
}
