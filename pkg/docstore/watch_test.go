package docstore

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc(id string, version int64) Document {
	return Document{
		Collection: "sessions",
		ID:         id,
		Body:       json.RawMessage(`{}`),
		Version:    version,
		UpdatedAt:  time.Now(),
	}
}

func TestWatchHub_PublishReachesMatchingSubscribers(t *testing.T) {
	hub := newWatchHub(zerolog.Nop())

	var mu sync.Mutex
	var got []int64
	_, cancel := hub.subscribe("sessions", "s1", func(doc Document) {
		mu.Lock()
		got = append(got, doc.Version)
		mu.Unlock()
	}, nil)
	defer cancel()

	other := 0
	_, cancelOther := hub.subscribe("sessions", "s2", func(Document) {
		mu.Lock()
		other++
		mu.Unlock()
	}, nil)
	defer cancelOther()

	hub.publish(testDoc("s1", 1))
	hub.publish(testDoc("s1", 2))
	hub.publish(testDoc("s1", 3))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, got, "deliveries keep publish order")
	assert.Equal(t, 0, other, "unrelated document is not delivered")
}

func TestWatchHub_MultipleSubscribersSameDocument(t *testing.T) {
	hub := newWatchHub(zerolog.Nop())

	var mu sync.Mutex
	counts := make([]int, 2)
	for i := range counts {
		i := i
		_, cancel := hub.subscribe("sessions", "s1", func(Document) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		}, nil)
		defer cancel()
	}

	hub.publish(testDoc("s1", 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[0] == 1 && counts[1] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWatchHub_CancelStopsDelivery(t *testing.T) {
	hub := newWatchHub(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	_, cancel := hub.subscribe("sessions", "s1", func(Document) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	hub.publish(testDoc("s1", 1))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	cancel()

	hub.publish(testDoc("s1", 2))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestWatchHub_FailReachesErrorHandler(t *testing.T) {
	hub := newWatchHub(zerolog.Nop())

	errCh := make(chan error, 1)
	_, cancel := hub.subscribe("sessions", "s1", func(Document) {}, func(err error) {
		errCh <- err
	})
	defer cancel()

	wantErr := errors.New("store went away")
	hub.fail("sessions", "s1", wantErr)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, wantErr)
	case <-time.After(time.Second):
		t.Fatal("error was not delivered")
	}
}

func TestWatchHub_FailWithoutHandlerIsDropped(t *testing.T) {
	hub := newWatchHub(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	_, cancel := hub.subscribe("sessions", "s1", func(Document) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)
	defer cancel()

	hub.fail("sessions", "s1", errors.New("ignored"))
	hub.publish(testDoc("s1", 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWatchHub_CloseAll(t *testing.T) {
	hub := newWatchHub(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	_, cancel := hub.subscribe("sessions", "s1", func(Document) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	hub.closeAll()

	hub.publish(testDoc("s1", 1))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, count)
	mu.Unlock()

	// Cancelling after closeAll must not panic.
	cancel()
}

func TestWatcher_NoDeliveryAfterClose(t *testing.T) {
	hub := newWatchHub(zerolog.Nop())

	var mu sync.Mutex
	delivered := 0
	w, cancel := hub.subscribe("sessions", "s1", func(Document) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}, nil)

	w.enqueue(testDoc("s1", 1))
	cancel()
	w.enqueue(testDoc("s1", 2))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, delivered, 1)
}
