package fanout

import (
	"testing"
	"time"
)

func TestSubscribeAndPublishDelivers(t *testing.T) {
	h := New(4, nil)
	sub := h.Subscribe(TopicDetectionResult)

	h.Publish(TopicDetectionResult, "payload-1")

	select {
	case msg := <-sub.Messages():
		if msg.Payload != "payload-1" {
			t.Errorf("Payload = %v, want payload-1", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscriberOnlyReceivesSubscribedTopics(t *testing.T) {
	h := New(4, nil)
	sub := h.Subscribe(TopicAlertNew)

	h.Publish(TopicDetectionResult, "should-not-arrive")
	h.Publish(TopicAlertNew, "should-arrive")

	select {
	case msg := <-sub.Messages():
		if msg.Topic != TopicAlertNew {
			t.Errorf("Topic = %v, want alert.new", msg.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected second message: %+v", msg)
	default:
	}
}

func TestFullBufferDropsOldestAndKeepsNewest(t *testing.T) {
	h := New(2, nil)
	sub := h.Subscribe(TopicSensorUpdate)

	h.Publish(TopicSensorUpdate, 1)
	h.Publish(TopicSensorUpdate, 2)
	h.Publish(TopicSensorUpdate, 3) // should evict 1

	var got []any
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Messages():
			got = append(got, msg.Payload)
		case <-time.After(time.Second):
			t.Fatal("timed out draining messages")
		}
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("got %v, want [2 3]", got)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := New(4, nil)
	sub := h.Subscribe(TopicValveChanged)
	h.Unsubscribe(sub.ID())
	h.Unsubscribe(sub.ID()) // must not panic

	if h.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", h.SubscriberCount())
	}
}

func TestPerSubscriberTopicFIFOPreserved(t *testing.T) {
	h := New(8, nil)
	sub := h.Subscribe(TopicDetectionResult, TopicAlertNew)

	h.Publish(TopicDetectionResult, "d1")
	h.Publish(TopicAlertNew, "a1")
	h.Publish(TopicDetectionResult, "d2")

	var detectionOrder []any
	for i := 0; i < 3; i++ {
		msg := <-sub.Messages()
		if msg.Topic == TopicDetectionResult {
			detectionOrder = append(detectionOrder, msg.Payload)
		}
	}
	if len(detectionOrder) != 2 || detectionOrder[0] != "d1" || detectionOrder[1] != "d2" {
		t.Errorf("detection.result FIFO order = %v, want [d1 d2]", detectionOrder)
	}
}

func TestUnknownTopicsAreIgnoredOnSubscribe(t *testing.T) {
	h := New(4, nil)
	sub := h.Subscribe(Topic("not.a.real.topic"))
	h.Publish(TopicAlertNew, "x")

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message for unsubscribed topic set: %+v", msg)
	default:
	}
}
