package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/ingest"
	"github.com/fleetgate/fleetgate/store"
)

func testContext() context.Context {
	log := logrus.New()
	log.SetLevel(logrus.TraceLevel)
	cfg := config.NewConfig(log, nil, nil, nil, nil, nil, nil, nil)
	return context.WithValue(context.Background(), config.ContextConfigKey, cfg)
}

type consoleServer struct {
	mu          sync.Mutex
	logins      int
	polls       int
	failLogin   bool
	expireToken bool
	positions   []map[string]interface{}
}

func (c *consoleServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.logins++
		if c.failLogin {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"token": "session-1"})
	})

	mux.HandleFunc("/api/positions", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.polls++
		if c.expireToken || r.Header.Get("Authorization") != "Bearer session-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_ = json.NewEncoder(w).Encode(c.positions)
	})

	return mux
}

func newTestPoller(t *testing.T, ctx context.Context, url string) (*Poller, *store.MemoryStore, uint) {
	t.Helper()

	memory := store.NewMemoryStore()
	deviceID := memory.AddDevice(store.GPSDevice{DeviceID: "GPS001"})
	vehicleID := memory.AddVehicle(store.Vehicle{Registration: "ABC-123", GPSDeviceID: &deviceID, LiveTrackingEnabled: true})

	registry := ingest.NewRegistry(memory)
	applier := ingest.NewApplier(ctx, memory, nil)
	pipeline := ingest.NewPipeline(ctx, registry, applier, nil)

	wg := &sync.WaitGroup{}
	poller := NewPoller(ctx, wg, &config.PollerConfig{
		Url:      url,
		Username: "operator",
		Password: "secret",
		Interval: time.Hour,
	}, pipeline, nil)

	return poller, memory, vehicleID
}

func TestPollOnceIngestsPositions(t *testing.T) {
	ctx := testContext()

	console := &consoleServer{
		positions: []map[string]interface{}{
			{"device_id": "GPS001", "lat": 11.4452, "lon": 77.7307, "speed": 42.0},
			{"device_id": "UNKNOWN1", "lat": 1.0, "lon": 2.0},
			{"broken": "entry"},
		},
	}
	server := httptest.NewServer(console.handler())
	defer server.Close()

	poller, memory, vehicleID := newTestPoller(t, ctx, server.URL)

	if err := poller.PollOnce(ctx); err != nil {
		t.Fatalf("Poll cycle failed. %v", err)
	}

	if console.logins != 1 {
		t.Errorf("Expected 1 login, got %d", console.logins)
	}
	if console.polls != 1 {
		t.Errorf("Expected 1 poll, got %d", console.polls)
	}

	// Only the resolvable, well formed entry lands.
	history := memory.HistoryForVehicle(vehicleID)
	if len(history) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(history))
	}
	if history[0].Protocol != "console" {
		t.Errorf("Wrong protocol in history: %s", history[0].Protocol)
	}

	vehicle, err := memory.GetVehicle(ctx, vehicleID)
	if err != nil {
		t.Fatalf("Failed to read vehicle. %v", err)
	}
	if vehicle.LastSpeed != 42 {
		t.Errorf("Wrong snapshot speed: %f", vehicle.LastSpeed)
	}
}

func TestPollOnceReusesSession(t *testing.T) {
	ctx := testContext()

	console := &consoleServer{}
	server := httptest.NewServer(console.handler())
	defer server.Close()

	poller, _, _ := newTestPoller(t, ctx, server.URL)

	if err := poller.PollOnce(ctx); err != nil {
		t.Fatalf("Poll cycle failed. %v", err)
	}
	if err := poller.PollOnce(ctx); err != nil {
		t.Fatalf("Poll cycle failed. %v", err)
	}

	if console.logins != 1 {
		t.Errorf("Expected the session to be reused, got %d logins", console.logins)
	}
	if console.polls != 2 {
		t.Errorf("Expected 2 polls, got %d", console.polls)
	}
}

func TestPollOnceAuthFailure(t *testing.T) {
	ctx := testContext()

	console := &consoleServer{failLogin: true}
	server := httptest.NewServer(console.handler())
	defer server.Close()

	poller, _, _ := newTestPoller(t, ctx, server.URL)

	for i := 0; i < maxAuthRetries; i++ {
		err := poller.PollOnce(ctx)
		if !errors.Is(err, ErrUpstreamAuth) {
			t.Errorf("Wrong error! Expected: %v Actual: %v", ErrUpstreamAuth, err)
		}
	}

	if poller.authFailures != maxAuthRetries {
		t.Errorf("Wrong failure count! Expected: %d Actual: %d", maxAuthRetries, poller.authFailures)
	}
	if console.polls != 0 {
		t.Errorf("Positions must not be fetched without a session, got %d polls", console.polls)
	}
}

func TestPollOnceExpiredSessionTriggersReauth(t *testing.T) {
	ctx := testContext()

	console := &consoleServer{}
	server := httptest.NewServer(console.handler())
	defer server.Close()

	poller, _, _ := newTestPoller(t, ctx, server.URL)

	if err := poller.PollOnce(ctx); err != nil {
		t.Fatalf("Poll cycle failed. %v", err)
	}

	// The console drops the session: the cycle fails with an auth error and
	// the next one logs in again.
	console.mu.Lock()
	console.expireToken = true
	console.mu.Unlock()

	err := poller.PollOnce(ctx)
	if !errors.Is(err, ErrUpstreamAuth) {
		t.Fatalf("Wrong error! Expected: %v Actual: %v", ErrUpstreamAuth, err)
	}

	console.mu.Lock()
	console.expireToken = false
	console.mu.Unlock()

	if err := poller.PollOnce(ctx); err != nil {
		t.Fatalf("Poll cycle failed. %v", err)
	}
	if console.logins != 2 {
		t.Errorf("Expected a second login after session expiry, got %d", console.logins)
	}
}
