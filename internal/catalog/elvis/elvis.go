// Package elvis implements catalog.Client against the Elvis DAM REST API.
package elvis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/dupewatch/internal/transport"
	"github.com/agentstation/dupewatch/pkg/catalog"
	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
)

// ServiceName identifies the catalog in errors and logs.
const ServiceName = "elvis"

// API endpoints, relative to the server URL.
const (
	searchPath         = "/services/search"
	updatePath         = "/services/update"
	createRelationPath = "/services/createRelation"
)

// Config holds connection settings for an Elvis server.
type Config struct {
	// BaseURL is the server root, e.g. https://dam.example.com
	BaseURL string

	// Token is an API token sent as a bearer credential
	Token string

	// Username and Password are used when no token is set
	Username string
	Password string

	// Timeout bounds each HTTP request
	Timeout time.Duration

	// SearchLimit caps the number of hits requested per search
	SearchLimit int

	// MetadataToReturn lists the fields requested with search hits
	MetadataToReturn []string
}

// Client is an HTTP catalog client. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	transport *transport.Client
	limit     int
	fields    string
}

// New creates a client from cfg.
func New(cfg Config, opts ...transport.Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewConfigError("catalog", "url is required", nil)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.NewConfigError("catalog", "invalid url "+cfg.BaseURL, err)
	}

	limit := cfg.SearchLimit
	if limit <= 0 {
		limit = constants.DefaultSearchLimit
	}
	fields := cfg.MetadataToReturn
	if len(fields) == 0 {
		fields = []string{constants.ChecksumField}
	}

	auth := transport.NewAuthenticator(cfg.Token, cfg.Username, cfg.Password)
	opts = append([]transport.Option{transport.WithService(ServiceName), transport.WithTimeout(cfg.Timeout)}, opts...)

	return &Client{
		base:      base,
		transport: transport.New(auth, opts...),
		limit:     limit,
		fields:    strings.Join(fields, ","),
	}, nil
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// searchResponse is the body of /services/search.
type searchResponse struct {
	FirstResult   int `json:"firstResult"`
	MaxResultHits int `json:"maxResultHits"`
	TotalHits     int `json:"totalHits"`
	Hits          []struct {
		ID       string         `json:"id"`
		Metadata map[string]any `json:"metadata"`
	} `json:"hits"`
}

// Search implements catalog.Client.
func (c *Client) Search(ctx context.Context, query string) (*catalog.SearchResult, error) {
	params := url.Values{
		"q":                {query},
		"metadataToReturn": {c.fields},
		"num":              {strconv.Itoa(c.limit)},
	}

	resp, err := c.transport.Get(ctx, c.endpoint(searchPath)+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var body searchResponse
	if err := transport.DecodeResponse(resp, ServiceName, &body); err != nil {
		return nil, err
	}

	result := &catalog.SearchResult{
		TotalHits: body.TotalHits,
		Hits:      make([]catalog.Asset, 0, len(body.Hits)),
	}
	for _, h := range body.Hits {
		result.Hits = append(result.Hits, catalog.Asset{ID: h.ID, Metadata: h.Metadata})
	}
	return result, nil
}

// Update implements catalog.Client. The patch is sent as a JSON string in
// the metadata form field.
func (c *Client) Update(ctx context.Context, assetID string, metadata map[string]any) error {
	patch, err := json.Marshal(metadata)
	if err != nil {
		return errors.WrapParse("json", "metadata", err)
	}

	return c.post(ctx, updatePath, url.Values{
		"id":       {assetID},
		"metadata": {string(patch)},
	})
}

// CreateRelation implements catalog.Client. A relation that already
// exists is reported as errors.ErrAlreadyExists.
func (c *Client) CreateRelation(ctx context.Context, sourceID, targetID, relationType string) error {
	err := c.post(ctx, createRelationPath, url.Values{
		"relationType": {relationType},
		"target1Id":    {sourceID},
		"target2Id":    {targetID},
	})
	if err != nil && isAlreadyExists(err) {
		return errors.Join(errors.ErrAlreadyExists, err)
	}
	return err
}

// post sends a form and checks both the HTTP status and the in-body error
// Elvis sometimes reports with a 200.
func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	resp, err := c.transport.PostForm(ctx, c.endpoint(path), form)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := transport.DecodeResponse(resp, ServiceName, &body); err != nil {
		var perr *errors.ParseError
		if errors.As(err, &perr) {
			// empty or non-JSON success bodies are fine
			return nil
		}
		return err
	}
	return bodyError(path, body)
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// bodyError converts an Elvis {"errorcode":..,"message":..} body to an APIError.
func bodyError(path string, body map[string]any) error {
	code, ok := body["errorcode"]
	if !ok || code == nil {
		return nil
	}

	status := http.StatusInternalServerError
	if n, ok := code.(float64); ok && n >= 400 && n < 600 {
		status = int(n)
	}
	msg, _ := body["message"].(string)
	if msg == "" {
		msg = http.StatusText(status)
	}
	apiErr := errors.NewAPIError(ServiceName, status, msg)
	apiErr.Endpoint = path
	return apiErr
}

func isAlreadyExists(err error) bool {
	if errors.IsAlreadyExists(err) {
		return true
	}
	var apiErr *errors.APIError
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "already exists")
}

// Ensure Client implements catalog.Client.
var _ catalog.Client = (*Client)(nil)
