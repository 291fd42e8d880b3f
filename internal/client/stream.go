package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/moltbunker/tierstake/internal/api"
	"github.com/moltbunker/tierstake/internal/staking"
)

// StreamEvents follows /v1/events/ws and calls fn for every event until ctx
// ends or the connection drops. With no channels every event is delivered.
func (c *APIClient) StreamEvents(ctx context.Context, channels []string, fn func(staking.Event)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer conn.Close()

	if len(channels) > 0 {
		data, err := json.Marshal(map[string][]string{"channels": channels})
		if err != nil {
			return err
		}
		if err := conn.WriteJSON(api.StreamMessage{Type: "subscribe", Data: data}); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		if msg.Type != "event" {
			continue
		}
		var ev staking.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		fn(ev)
	}
}
