package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/riverchat/riverchat/server/generator"
	"github.com/riverchat/riverchat/server/middleware"
)

type streamPayload struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GenerateStream runs one generation turn and streams tokens to the client as
// server-sent events. Closing the connection cancels generation; the user
// message is already persisted by then.
func (s *APIV1Service) GenerateStream(c echo.Context) error {
	// The request context is cancelled when the client disconnects, which
	// propagates into the model stream.
	ctx := c.Request().Context()

	req := &generator.Request{
		UserID:   middleware.UserIDFromContext(c),
		ChatUID:  c.Param("uid"),
		Model:    c.QueryParam("model"),
		Message:  c.QueryParam("message"),
		TagUID:   c.QueryParam("tag"),
		UseTools: c.QueryParam("useTools") == "true",
	}

	events, err := s.generator.Generate(ctx, req)
	if err != nil {
		return httpError(err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	for ev := range events {
		switch {
		case ev.Err != nil:
			writeSSE(resp, "error", &streamPayload{Error: ev.Err.Error()})
		case ev.Done:
			writeSSE(resp, "done", &streamPayload{})
		default:
			writeSSE(resp, "message", &streamPayload{Content: ev.Delta})
		}
	}
	return nil
}

func writeSSE(resp *echo.Response, event string, payload *streamPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data)
	resp.Flush()
}
