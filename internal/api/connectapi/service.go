// Package connectapi exposes the assistant as a Connect RPC service.
package connectapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/ingres-ai/ingres-assistant/internal/assistant"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

// ServiceName is the fully qualified Connect service name.
const ServiceName = "ingres.v1.AssistantService"

// Procedure paths.
const (
	AskProcedure     = "/" + ServiceName + "/Ask"
	GetNewsProcedure = "/" + ServiceName + "/GetNews"
	HealthProcedure  = "/" + ServiceName + "/Health"
)

// Assistant is the behaviour served over Connect.
type Assistant interface {
	Ask(ctx context.Context, req assistant.AskRequest) assistant.Reply
	News(ctx context.Context) []string
	Health() assistant.Health
}

// AssistantService implements the Connect assistant service.
type AssistantService struct {
	logger    *observability.Logger
	assistant Assistant
}

// NewAssistantService creates a new assistant service.
func NewAssistantService(logger *observability.Logger, a Assistant) *AssistantService {
	return &AssistantService{
		logger:    logger.WithOperation("connect"),
		assistant: a,
	}
}

const maxSessionID = 128

// AskRequest represents the Ask request message.
type AskRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChartPoint is one chart bar.
type ChartPoint struct {
	Name       string  `json:"name"`
	Extraction float64 `json:"extraction"`
}

// AskResponse represents the Ask response message.
type AskResponse struct {
	Text        string        `json:"text"`
	ChartData   []*ChartPoint `json:"chart_data"`
	Suggestions []string      `json:"suggestions"`
	ImageURL    *string       `json:"image_url,omitempty"`
	VisualType  *string       `json:"visual_type,omitempty"`
	VisualData  any           `json:"visual_data,omitempty"`
	SessionID   string        `json:"session_id"`
}

// GetNewsRequest is empty.
type GetNewsRequest struct{}

// GetNewsResponse carries up to three headlines.
type GetNewsResponse struct {
	News []string `json:"news"`
}

// HealthRequest is empty.
type HealthRequest struct{}

// HealthResponse reports index readiness.
type HealthResponse struct {
	Status  string            `json:"status"`
	Model   string            `json:"model"`
	Indices map[string]Counts `json:"indices"`
}

// Counts are per-index entity counts.
type Counts struct {
	Entities int32 `json:"entities"`
	Embedded int32 `json:"embedded"`
}

// Ask answers one chat turn.
func (s *AssistantService) Ask(ctx context.Context, req *connect.Request[AskRequest]) (*connect.Response[AskResponse], error) {
	msg := req.Msg
	if strings.TrimSpace(msg.Message) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("message is required"))
	}
	if len(msg.SessionID) > maxSessionID {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is too long"))
	}

	ctx = observability.ContextWithRequestID(ctx, requestID(req.Header()))
	reply := s.assistant.Ask(ctx, assistant.AskRequest{SessionID: msg.SessionID, Message: msg.Message})

	s.logger.WithContext(ctx).Debug().
		Str("session_id", reply.SessionID).
		Int("chart_points", len(reply.ChartData)).
		Msg("Connect ask served")

	return connect.NewResponse(toAskResponse(reply)), nil
}

// GetNews returns the latest headlines.
func (s *AssistantService) GetNews(ctx context.Context, _ *connect.Request[GetNewsRequest]) (*connect.Response[GetNewsResponse], error) {
	news := s.assistant.News(ctx)
	if news == nil {
		news = []string{}
	}
	return connect.NewResponse(&GetNewsResponse{News: news}), nil
}

// Health reports service readiness.
func (s *AssistantService) Health(_ context.Context, _ *connect.Request[HealthRequest]) (*connect.Response[HealthResponse], error) {
	h := s.assistant.Health()
	resp := &HealthResponse{
		Status:  h.Status,
		Model:   h.Model,
		Indices: make(map[string]Counts, len(h.Indices)),
	}
	for cat, st := range h.Indices {
		resp.Indices[string(cat)] = Counts{Entities: int32(st.Entities), Embedded: int32(st.Embedded)}
	}
	return connect.NewResponse(resp), nil
}

// NewHandler mounts the service. The returned path prefix goes on the mux.
func NewHandler(svc *AssistantService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(AskProcedure, connect.NewUnaryHandler(AskProcedure, svc.Ask, opts...))
	mux.Handle(GetNewsProcedure, connect.NewUnaryHandler(GetNewsProcedure, svc.GetNews, opts...))
	mux.Handle(HealthProcedure, connect.NewUnaryHandler(HealthProcedure, svc.Health, opts...))
	return "/" + ServiceName + "/", mux
}

// ClientOptions returns the options a Go client needs to talk to NewHandler.
func ClientOptions() []connect.ClientOption {
	return []connect.ClientOption{connect.WithCodec(jsonCodec{})}
}

func toAskResponse(r assistant.Reply) *AskResponse {
	resp := &AskResponse{
		Text:        r.Text,
		ChartData:   make([]*ChartPoint, 0, len(r.ChartData)),
		Suggestions: r.Suggestions,
		ImageURL:    r.ImageURL,
		VisualType:  r.VisualType,
		VisualData:  r.VisualData,
		SessionID:   r.SessionID,
	}
	for _, p := range r.ChartData {
		resp.ChartData = append(resp.ChartData, &ChartPoint{Name: p.Name, Extraction: p.Extraction})
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}
	return resp
}

func requestID(h http.Header) string {
	if id := h.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
