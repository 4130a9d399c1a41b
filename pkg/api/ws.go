package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/metrics"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS layer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleOperationsWS streams operation updates for one endpoint. The caller
// subscribes to the broker and receives every event whose endpoint_id
// matches the query parameter; events for other endpoints are filtered out
// server-side.
func (s *Server) handleOperationsWS(w http.ResponseWriter, r *http.Request) {
	endpointID := r.URL.Query().Get("endpoint_id")
	if endpointID == "" {
		writeError(w, errdefs.Validation.New("endpoint_id query parameter is required"))
		return
	}
	if err := s.auth.AuthorizeSelf(identityFrom(r.Context()), endpointID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	metrics.WSClientsConnected.Inc()
	defer metrics.WSClientsConnected.Dec()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	// Reader goroutine: we never expect client frames, but reading is what
	// surfaces close frames and dead peers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			if event.EndpointID != endpointID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug().Err(err).Str("endpoint_id", endpointID).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
