package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultEndpointURL           = "https://dashboard-phi-three-98.vercel.app/api/sync"
	payloadVersion               = 1
	hashQueryParameter           = "hash"
	contentTypeHeaderName        = "Content-Type"
	jsonContentType              = "application/json"
	defaultDialTimeout           = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultHTTPTimeout           = 30 * time.Second
	maxResponseBodyBytes         = 4 * 1024 * 1024
	parseEndpointErrFormat       = "parse sync endpoint: %w"
	encodeEnvelopeErrFormat      = "encode sync envelope: %w"
	buildRequestErrFormat        = "build sync request: %w"
	sendRequestErrFormat         = "send sync request: %w"
	decodeResponseErrFormat      = "decode sync response: %w"
	unexpectedStatusErrFormat    = "sync endpoint returned status %d"
	timestampWireLayout          = "2006-01-02T15:04:05.000000Z"
)

// Envelope is the wire document stored at the remote endpoint.
type Envelope struct {
	EncryptedPayload
	Hash      string `json:"hash"`
	UpdatedAt string `json:"updated_at"`
	Version   int    `json:"version"`
}

// Config customizes a Client.
type Config struct {
	EndpointURL string
	Client      *http.Client
}

// Client pushes and pulls encrypted documents.
type Client struct {
	endpointURL *url.URL
	httpClient  *http.Client
	now         func() time.Time
}

// NewClient constructs a Client with default transport timeouts.
func NewClient(configuration Config) (*Client, error) {
	endpointString := strings.TrimSpace(configuration.EndpointURL)
	if endpointString == "" {
		endpointString = defaultEndpointURL
	}
	endpointURL, err := url.Parse(endpointString)
	if err != nil {
		return nil, fmt.Errorf(parseEndpointErrFormat, err)
	}

	httpClient := configuration.Client
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: defaultDialTimeout}).DialContext,
				TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
				ResponseHeaderTimeout: defaultResponseHeaderTimeout,
			},
		}
	}

	return &Client{
		endpointURL: endpointURL,
		httpClient:  httpClient,
		now:         time.Now,
	}, nil
}

// Push encrypts the document with the passphrase and stores it remotely.
func (client *Client) Push(ctx context.Context, document any, passphrase string) error {
	payload, err := EncryptPayload(document, passphrase)
	if err != nil {
		return err
	}

	envelope := Envelope{
		EncryptedPayload: payload,
		Hash:             DeriveKeyHash(passphrase),
		UpdatedAt:        client.now().UTC().Format(timestampWireLayout),
		Version:          payloadVersion,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf(encodeEnvelopeErrFormat, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.endpointURL.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf(buildRequestErrFormat, err)
	}
	request.Header.Set(contentTypeHeaderName, jsonContentType)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf(sendRequestErrFormat, err)
	}
	defer drainAndClose(response.Body)

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf(unexpectedStatusErrFormat, response.StatusCode)
	}
	return nil
}

// Pull fetches and decrypts the remote document into target. It reports
// false without error when no document exists for the passphrase.
func (client *Client) Pull(ctx context.Context, passphrase string, target any) (bool, error) {
	requestURL := *client.endpointURL
	query := requestURL.Query()
	query.Set(hashQueryParameter, DeriveKeyHash(passphrase))
	requestURL.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return false, fmt.Errorf(buildRequestErrFormat, err)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return false, fmt.Errorf(sendRequestErrFormat, err)
	}
	defer drainAndClose(response.Body)

	if response.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if response.StatusCode != http.StatusOK {
		return false, fmt.Errorf(unexpectedStatusErrFormat, response.StatusCode)
	}

	var envelope Envelope
	decoder := json.NewDecoder(io.LimitReader(response.Body, maxResponseBodyBytes))
	if err := decoder.Decode(&envelope); err != nil {
		return false, fmt.Errorf(decodeResponseErrFormat, err)
	}
	if envelope.EncryptedData == "" {
		return false, errors.New("sync response missing encrypted payload")
	}
	if err := DecryptPayload(envelope.EncryptedPayload, passphrase, target); err != nil {
		return false, err
	}
	return true, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxResponseBodyBytes))
	_ = body.Close()
}
