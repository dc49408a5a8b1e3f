package cloudsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type memoryEndpoint struct {
	mutex     sync.Mutex
	envelopes map[string]Envelope
}

func newMemoryEndpoint() *memoryEndpoint {
	return &memoryEndpoint{envelopes: map[string]Envelope{}}
}

func (endpoint *memoryEndpoint) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	endpoint.mutex.Lock()
	defer endpoint.mutex.Unlock()

	switch request.Method {
	case http.MethodPost:
		var envelope Envelope
		if decodeErr := json.NewDecoder(request.Body).Decode(&envelope); decodeErr != nil {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}
		endpoint.envelopes[envelope.Hash] = envelope
		responseWriter.WriteHeader(http.StatusOK)
	case http.MethodGet:
		envelope, found := endpoint.envelopes[request.URL.Query().Get(hashQueryParameter)]
		if !found {
			responseWriter.WriteHeader(http.StatusNotFound)
			return
		}
		responseWriter.Header().Set(contentTypeHeaderName, jsonContentType)
		_ = json.NewEncoder(responseWriter).Encode(envelope)
	default:
		responseWriter.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, endpointURL string) *Client {
	t.Helper()
	client, clientErr := NewClient(Config{EndpointURL: endpointURL})
	if clientErr != nil {
		t.Fatalf("construct client: %v", clientErr)
	}
	return client
}

func TestPushPullRoundTrip(t *testing.T) {
	endpoint := newMemoryEndpoint()
	testServer := httptest.NewServer(endpoint)
	defer testServer.Close()

	client := newTestClient(t, testServer.URL)
	document := syncDocument{Snapshots: []string{"2024-03-01"}, Queue: 2}

	if pushErr := client.Push(context.Background(), document, "shared passphrase"); pushErr != nil {
		t.Fatalf("push: %v", pushErr)
	}

	var restored syncDocument
	found, pullErr := client.Pull(context.Background(), "shared passphrase", &restored)
	if pullErr != nil {
		t.Fatalf("pull: %v", pullErr)
	}
	if !found {
		t.Fatal("expected document for passphrase")
	}
	if restored.Queue != document.Queue {
		t.Fatalf("queue mismatch: got %d, want %d", restored.Queue, document.Queue)
	}
}

func TestPushSendsEnvelopeMetadata(t *testing.T) {
	endpoint := newMemoryEndpoint()
	testServer := httptest.NewServer(endpoint)
	defer testServer.Close()

	client := newTestClient(t, testServer.URL)
	if pushErr := client.Push(context.Background(), syncDocument{Queue: 7}, "metadata passphrase"); pushErr != nil {
		t.Fatalf("push: %v", pushErr)
	}

	expectedHash := DeriveKeyHash("metadata passphrase")
	endpoint.mutex.Lock()
	envelope, found := endpoint.envelopes[expectedHash]
	endpoint.mutex.Unlock()
	if !found {
		t.Fatalf("no envelope stored under hash %q", expectedHash)
	}
	if envelope.Version != payloadVersion {
		t.Fatalf("version: got %d, want %d", envelope.Version, payloadVersion)
	}
	if envelope.UpdatedAt == "" {
		t.Fatal("expected updated_at to be populated")
	}
	if envelope.EncryptedData == "" || envelope.Salt == "" || envelope.IV == "" {
		t.Fatalf("incomplete encrypted payload: %+v", envelope.EncryptedPayload)
	}
}

func TestPullReportsMissingDocument(t *testing.T) {
	endpoint := newMemoryEndpoint()
	testServer := httptest.NewServer(endpoint)
	defer testServer.Close()

	client := newTestClient(t, testServer.URL)
	var restored syncDocument
	found, pullErr := client.Pull(context.Background(), "unused passphrase", &restored)
	if pullErr != nil {
		t.Fatalf("pull: %v", pullErr)
	}
	if found {
		t.Fatal("expected no document for fresh endpoint")
	}
}

func TestPullSurfacesServerError(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.WriteHeader(http.StatusInternalServerError)
	}))
	defer testServer.Close()

	client := newTestClient(t, testServer.URL)
	var restored syncDocument
	if _, pullErr := client.Pull(context.Background(), "any passphrase", &restored); pullErr == nil {
		t.Fatal("expected error for server failure")
	}
}
