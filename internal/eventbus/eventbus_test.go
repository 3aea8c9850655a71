package eventbus

import "testing"

func TestSubscribePublishTranscript(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.PublishTranscript(TranscriptUpdate{CallID: "CA1", Speaker: "user", Text: "hello"})

	evt := <-ch
	if evt.Transcript == nil {
		t.Fatal("Expected a transcript event")
	}
	if evt.Transcript.CallID != "CA1" || evt.Transcript.Text != "hello" {
		t.Errorf("Unexpected transcript payload: %+v", evt.Transcript)
	}
}

func TestPublishStatusChanged(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.PublishStatusChanged("CA1", "in-progress")

	evt := <-ch
	if evt.StatusChanged == nil || evt.StatusChanged.Status != "in-progress" {
		t.Fatalf("Unexpected status event: %+v", evt.StatusChanged)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe()

	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed after unsubscribe")
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	bus := New()
	bus.PublishStatusChanged("CA1", "completed")
	if bus.SubscriberCount() != 0 {
		t.Error("Expected no subscribers")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.PublishStatusChanged("CA1", "in-progress")
	}

	if len(ch) != subscriberBuffer {
		t.Errorf("Expected channel buffer full at %d, got %d", subscriberBuffer, len(ch))
	}
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	bus := New()
	ch1, unsub1 := bus.Subscribe()
	ch2, unsub2 := bus.Subscribe()
	defer unsub1()
	defer unsub2()

	bus.PublishStatusChanged("CA1", "on-hold")

	e1 := <-ch1
	e2 := <-ch2
	if e1.StatusChanged.Status != "on-hold" || e2.StatusChanged.Status != "on-hold" {
		t.Error("Expected both subscribers to receive the event")
	}
}
