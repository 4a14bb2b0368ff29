package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"daopresale/core/types"
	"daopresale/native/presale"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		signature string
		body      []byte
		eventType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		signature = r.Header.Get("X-Presale-Signature")
		eventType = r.Header.Get("X-Presale-Event")
		body = data
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(presale.WrapEvent(&types.Event{
		Type:       presale.EventTypePurchased,
		Attributes: map[string]string{"sequence": "1"},
	}))
	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if signature != Sign([]byte("secret"), body) {
		t.Fatalf("signature mismatch: %s", signature)
	}
	if eventType != presale.EventTypePurchased {
		t.Fatalf("unexpected event header %q", eventType)
	}
	var payload EventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.DeliveryID == "" || payload.Attributes["sequence"] != "1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(EventPayload{Type: presale.EventTypeAdmitted}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", atomic.LoadInt32(&attempts))
	}
}

func TestCloseDeliversQueuedEvents(t *testing.T) {
	delivered := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := dispatcher.Enqueue(EventPayload{Type: presale.EventTypePurchased}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	dispatcher.Close()
	if got := atomic.LoadInt32(&delivered); got != 5 {
		t.Fatalf("expected 5 deliveries before close returned, got %d", got)
	}
	if err := dispatcher.Enqueue(EventPayload{Type: presale.EventTypePurchased}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	dispatcher.Close()
}

func TestCloseGivesUpAfterDrainTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithDrainTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := dispatcher.Enqueue(EventPayload{Type: presale.EventTypeAdmitted}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	start := time.Now()
	dispatcher.Close()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("close blocked for %s", elapsed)
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("secret")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://localhost", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
