package bus

import (
	"sync"
	"testing"
)

func TestDispatchReachesTopicHandlers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got []string

	b.Register(TopicJobEvents, func(e Event) {
		mu.Lock()
		got = append(got, "first:"+string(e.Kind))
		mu.Unlock()
	})
	b.Register(TopicJobEvents, func(e Event) {
		mu.Lock()
		got = append(got, "second:"+string(e.Kind))
		mu.Unlock()
	})
	b.Register(TopicWorkerEvents, func(Event) {
		t.Error("handler on other topic must not fire")
	})

	b.Dispatch(Event{Topic: TopicJobEvents, Kind: KindCompleted})

	if len(got) != 2 || got[0] != "first:completed" || got[1] != "second:completed" {
		t.Fatalf("deliveries = %v", got)
	}
}

func TestHandlesAreMonotonicAndNeverReused(t *testing.T) {
	b := New()
	first := b.Register(TopicJobEvents, func(Event) {})
	b.Unregister(first)
	second := b.Register(TopicJobEvents, func(Event) {})
	if second <= first {
		t.Fatalf("handle %d reused or regressed after %d", second, first)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New()
	fired := 0
	handle := b.Register(TopicJobEvents, func(Event) { fired++ })
	b.Unregister(handle)
	b.Dispatch(Event{Topic: TopicJobEvents, Kind: KindProgress})
	if fired != 0 {
		t.Fatalf("unregistered handler fired %d times", fired)
	}
	if b.Subscribers(TopicJobEvents) != 0 {
		t.Fatal("topic should be empty")
	}
}

func TestSelfUnregisterDuringDispatch(t *testing.T) {
	b := New()
	var selfHandle Handle
	selfFired, otherFired := 0, 0

	selfHandle = b.Register(TopicJobEvents, func(Event) {
		selfFired++
		b.Unregister(selfHandle)
	})
	b.Register(TopicJobEvents, func(Event) { otherFired++ })

	b.Dispatch(Event{Topic: TopicJobEvents, Kind: KindCompleted})

	if selfFired != 1 {
		t.Fatalf("self-unregistering handler fired %d times", selfFired)
	}
	if otherFired != 1 {
		t.Fatal("later handler skipped after self-unregistration")
	}

	// Second dispatch: the self-unregistered handler is gone.
	b.Dispatch(Event{Topic: TopicJobEvents, Kind: KindCompleted})
	if selfFired != 1 || otherFired != 2 {
		t.Fatalf("post-unregister deliveries: self=%d other=%d", selfFired, otherFired)
	}
}

func TestConcurrentRegisterDispatch(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			handle := b.Register(TopicJobEvents, func(Event) {})
			b.Unregister(handle)
		}()
		go func() {
			defer wg.Done()
			b.Dispatch(Event{Topic: TopicJobEvents, Kind: KindProgress})
		}()
	}
	wg.Wait()
}
