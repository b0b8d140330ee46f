// Package ingres provides the public Go SDK for the INGRES assistant API.
package ingres

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/ingres-ai/ingres-assistant/internal/api/connectapi"
)

// DefaultBaseURL is where a locally started ingres-api listens.
const DefaultBaseURL = "http://localhost:8000"

// Client talks to the assistant's Connect service.
type Client struct {
	ask    *connect.Client[connectapi.AskRequest, connectapi.AskResponse]
	news   *connect.Client[connectapi.GetNewsRequest, connectapi.GetNewsResponse]
	health *connect.Client[connectapi.HealthRequest, connectapi.HealthResponse]
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient creates a new assistant client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		if cfg.Timeout <= 0 {
			cfg.Timeout = 60 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := connectapi.ClientOptions()
	return &Client{
		ask: connect.NewClient[connectapi.AskRequest, connectapi.AskResponse](
			cfg.HTTPClient, cfg.BaseURL+connectapi.AskProcedure, opts...),
		news: connect.NewClient[connectapi.GetNewsRequest, connectapi.GetNewsResponse](
			cfg.HTTPClient, cfg.BaseURL+connectapi.GetNewsProcedure, opts...),
		health: connect.NewClient[connectapi.HealthRequest, connectapi.HealthResponse](
			cfg.HTTPClient, cfg.BaseURL+connectapi.HealthProcedure, opts...),
	}
}

// Point is one bar of a chart.
type Point struct {
	Name       string  `json:"name"`
	Extraction float64 `json:"extraction"`
}

// Reply is the assistant's answer to one message.
type Reply struct {
	Text        string   `json:"text"`
	ChartData   []Point  `json:"chartData"`
	Suggestions []string `json:"suggestions"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	VisualType  string   `json:"visualType,omitempty"`
	VisualData  any      `json:"visualData,omitempty"`
	SessionID   string   `json:"sessionId"`
}

// IndexCounts reports how many entities an index holds and how many were embedded.
type IndexCounts struct {
	Entities int `json:"entities"`
	Embedded int `json:"embedded"`
}

// Health is the server's readiness summary.
type Health struct {
	Status  string                 `json:"status"`
	Model   string                 `json:"model"`
	Indices map[string]IndexCounts `json:"indices"`
}

// ErrInvalidMessage is returned when the server rejects the message.
var ErrInvalidMessage = errors.New("invalid message")

// Ask sends one chat message. An empty sessionID starts a new session.
func (c *Client) Ask(ctx context.Context, sessionID, message string) (*Reply, error) {
	resp, err := c.ask.CallUnary(ctx, connect.NewRequest(&connectapi.AskRequest{
		Message:   message,
		SessionID: sessionID,
	}))
	if err != nil {
		if connect.CodeOf(err) == connect.CodeInvalidArgument {
			return nil, errors.Join(ErrInvalidMessage, err)
		}
		return nil, err
	}

	msg := resp.Msg
	reply := &Reply{
		Text:        msg.Text,
		ChartData:   make([]Point, 0, len(msg.ChartData)),
		Suggestions: msg.Suggestions,
		VisualData:  msg.VisualData,
		SessionID:   msg.SessionID,
	}
	for _, p := range msg.ChartData {
		if p != nil {
			reply.ChartData = append(reply.ChartData, Point{Name: p.Name, Extraction: p.Extraction})
		}
	}
	if msg.ImageURL != nil {
		reply.ImageURL = *msg.ImageURL
	}
	if msg.VisualType != nil {
		reply.VisualType = *msg.VisualType
	}
	return reply, nil
}

// News returns the latest headlines.
func (c *Client) News(ctx context.Context) ([]string, error) {
	resp, err := c.news.CallUnary(ctx, connect.NewRequest(&connectapi.GetNewsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.News, nil
}

// Health checks the service health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.health.CallUnary(ctx, connect.NewRequest(&connectapi.HealthRequest{}))
	if err != nil {
		return nil, err
	}
	h := &Health{
		Status:  resp.Msg.Status,
		Model:   resp.Msg.Model,
		Indices: make(map[string]IndexCounts, len(resp.Msg.Indices)),
	}
	for name, counts := range resp.Msg.Indices {
		h.Indices[name] = IndexCounts{Entities: int(counts.Entities), Embedded: int(counts.Embedded)}
	}
	return h, nil
}
