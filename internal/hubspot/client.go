// Package hubspot is a small client for the contacts endpoints of the HubSpot CRM v3 API. It
// authenticates every call with a private app token sent as bearer token.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/metrics"
	"gitlab.com/dirk.krummacker/hubspot-contacts-proxy/internal/model"
	pub "gitlab.com/dirk.krummacker/hubspot-contacts-proxy/pkg/model"
)

const (
	// DefaultBaseURL is the address of the public HubSpot API.
	DefaultBaseURL = "https://api.hubapi.com"
	// DefaultTimeout bounds every outbound call.
	DefaultTimeout = 15 * time.Second

	contactsPath = "/crm/v3/objects/contacts"
	searchPath   = contactsPath + "/search"

	// maxLogBody limits how much of an upstream error body ends up in the logs.
	maxLogBody = 4 * 1024
)

// Operation names, used in errors, logs and metrics.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpGet    = "get"
	OpList   = "list"
	OpSearch = "search"
	OpDelete = "delete"
)

// ErrUnreachable is wrapped by every error that is caused by the CRM not answering at all, be it a
// refused connection, a DNS failure or a timeout.
var ErrUnreachable = errors.New("hubspot: API unreachable")

// StatusError is returned when the CRM answered with a status code the operation does not accept.
type StatusError struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hubspot: %s returned status %d", e.Op, e.StatusCode)
}

// HasStatus reports whether err is a *StatusError with the given status code.
func HasStatus(err error, status int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == status
}

// Config controls how the Client behaves.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.CRMMetrics
}

// Client wraps the HubSpot contacts endpoints. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    *metrics.CRMMetrics
	logger     zerolog.Logger
}

// New creates a Client, filling in defaults for everything that is not set.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		metrics:    cfg.Metrics,
		logger:     log.With().Str("component", "hubspot").Logger(),
	}
}

// CreateContact creates a contact with the given properties and returns the new record. A contact
// with an email that already exists is rejected by HubSpot with status 409.
func (c *Client) CreateContact(ctx context.Context, properties map[string]string) (*pub.Contact, error) {
	body, err := json.Marshal(model.PropertiesInput{Properties: properties})
	if err != nil {
		return nil, fmt.Errorf("hubspot: marshal create body: %w", err)
	}
	data, err := c.invoke(ctx, OpCreate, http.MethodPost, contactsPath, nil, body,
		http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	var contact pub.Contact
	if err := json.Unmarshal(data, &contact); err != nil {
		return nil, fmt.Errorf("hubspot: decode created contact: %w", err)
	}
	return &contact, nil
}

// UpdateContact overwrites the given properties of the contact with the given id. Properties that
// are not mentioned keep their value.
func (c *Client) UpdateContact(ctx context.Context, id string, properties map[string]string) error {
	body, err := json.Marshal(model.PropertiesInput{Properties: properties})
	if err != nil {
		return fmt.Errorf("hubspot: marshal update body: %w", err)
	}
	_, err = c.invoke(ctx, OpUpdate, http.MethodPatch, contactPath(id), nil, body,
		http.StatusOK, http.StatusNoContent)
	return err
}

// GetContact returns the raw JSON of the contact with the given id. The properties argument is a
// comma separated list of property names.
func (c *Client) GetContact(ctx context.Context, id string, properties string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("properties", properties)
	return c.invoke(ctx, OpGet, http.MethodGet, contactPath(id), query, nil, http.StatusOK)
}

// ListContacts returns the raw JSON of one page of contacts. The after cursor is passed on as is
// and omitted if empty.
func (c *Client) ListContacts(ctx context.Context, limit int, after string, properties string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("properties", properties)
	if after != "" {
		query.Set("after", after)
	}
	return c.invoke(ctx, OpList, http.MethodGet, contactsPath, query, nil, http.StatusOK)
}

// SearchContacts runs a search and returns the raw JSON of the result.
func (c *Client) SearchContacts(ctx context.Context, req model.SearchRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("hubspot: marshal search body: %w", err)
	}
	return c.invoke(ctx, OpSearch, http.MethodPost, searchPath, nil, body, http.StatusOK)
}

// DeleteContact archives the contact with the given id. HubSpot answers a successful deletion with
// 204, but 200 and 202 are accepted as well.
func (c *Client) DeleteContact(ctx context.Context, id string) error {
	_, err := c.invoke(ctx, OpDelete, http.MethodDelete, contactPath(id), nil, nil,
		http.StatusOK, http.StatusAccepted, http.StatusNoContent)
	return err
}

// DecodeSearchResult parses the raw JSON returned by SearchContacts.
func DecodeSearchResult(data json.RawMessage) (*pub.SearchResult, error) {
	var result pub.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("hubspot: decode search result: %w", err)
	}
	return &result, nil
}

func contactPath(id string) string {
	return contactsPath + "/" + url.PathEscape(id)
}

func (c *Client) invoke(ctx context.Context, op, method, path string, query url.Values, body []byte, accepted ...int) ([]byte, error) {
	start := time.Now()
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, query), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("hubspot: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveCall(op, metrics.OutcomeUnreachable, 0, time.Since(start))
		c.logger.Error().
			Err(err).
			Str("op", op).
			Dur("duration", time.Since(start)).
			Msg("error connecting to HubSpot")
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveCall(op, metrics.OutcomeUnreachable, resp.StatusCode, time.Since(start))
		return nil, fmt.Errorf("%w: %s: read response: %v", ErrUnreachable, op, err)
	}

	for _, status := range accepted {
		if resp.StatusCode == status {
			c.metrics.ObserveCall(op, metrics.OutcomeSuccess, resp.StatusCode, time.Since(start))
			return data, nil
		}
	}

	c.metrics.ObserveCall(op, metrics.OutcomeStatus, resp.StatusCode, time.Since(start))
	logged := data
	if len(logged) > maxLogBody {
		logged = logged[:maxLogBody]
	}
	c.logger.Warn().
		Str("op", op).
		Int("status", resp.StatusCode).
		Bytes("upstream_body", logged).
		Msg("HubSpot returned an unexpected status")
	return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: data}
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}
