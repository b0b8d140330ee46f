package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ingres-ai/ingres-assistant/internal/assistant"
)

type textEvent struct {
	T string `json:"t"`
}

type metaEvent struct {
	M streamMeta `json:"m"`
}

type streamMeta struct {
	ChartData   []assistant.ChartPoint `json:"chartData"`
	Suggestions []string               `json:"suggestions"`
	ImageURL    *string                `json:"imageUrl"`
	VisualType  *string                `json:"visualType"`
	VisualData  any                    `json:"visualData"`
	ShowLegend  bool                   `json:"showLegend"`
	SessionID   string                 `json:"sessionId"`
}

// stream writes the reply text word by word as server-sent events and ends
// with one metadata event.
func (h *AssistantHandler) stream(w http.ResponseWriter, r *http.Request, reply assistant.Reply) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	ctx := r.Context()

	for _, chunk := range chunks(reply.Text) {
		if ctx.Err() != nil {
			return
		}
		if err := writeEvent(w, textEvent{T: chunk}); err != nil {
			h.logger.WithContext(ctx).Debug().Err(err).Msg("stream aborted")
			return
		}
		_ = rc.Flush()
	}

	meta := metaEvent{M: streamMeta{
		ChartData:   reply.ChartData,
		Suggestions: reply.Suggestions,
		ImageURL:    reply.ImageURL,
		VisualType:  reply.VisualType,
		VisualData:  reply.VisualData,
		ShowLegend:  reply.VisualType != nil && *reply.VisualType == assistant.VisualStatusCard,
		SessionID:   reply.SessionID,
	}}
	if err := writeEvent(w, meta); err != nil {
		h.logger.WithContext(ctx).Debug().Err(err).Msg("stream aborted")
		return
	}
	_ = rc.Flush()
}

func writeEvent(w http.ResponseWriter, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", raw)
	return err
}

// chunks splits text after each space so that joining the chunks restores it.
func chunks(text string) []string {
	if text == "" {
		return nil
	}
	return strings.SplitAfter(text, " ")
}
