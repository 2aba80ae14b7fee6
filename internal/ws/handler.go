package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single message write; a stalled client is dropped
// rather than backing the stream up.
const writeTimeout = 5 * time.Second

func (ws *WSServer) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	// main and only route for the WebSocket server
	mux.HandleFunc("/", ws.MainHandler)

	// Wrap the mux with CORS middleware
	return ws.corsMiddleware(mux)
}

func (ws *WSServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*") // Replace "*" with specific origins if needed
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "false") // Set to "true" if credentials are required

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Proceed with the next handler
		next.ServeHTTP(w, r)
	})
}

// MainHandler upgrades the connection and streams broadcaster events (order
// broadcasts, secret reveals) until the resolver disconnects.
func (ws *WSServer) MainHandler(w http.ResponseWriter, r *http.Request) {
	ws.logger.Info().Str("remote", r.RemoteAddr).Msg("websocket connection request")

	// Upgrade the HTTP connection to a WebSocket connection
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		http.Error(w, "WebSocket connection failed", http.StatusInternalServerError)
		return
	}
	defer c.CloseNow()

	// Buffered so the non-blocking broadcast fan-out can absorb short bursts.
	msgChan := make(chan []byte, 16)
	id := ws.broadcaster.RegisterReceiver(msgChan)
	defer ws.broadcaster.UnregisterReceiver(id)

	for {
		select {
		case m, ok := <-msgChan:
			if !ok {
				// Broadcaster shut down.
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
			err := c.Write(ctx, websocket.MessageText, m)
			cancel()
			if err != nil {
				ws.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("failed to write message")
				return
			}
		case <-r.Context().Done():
			// Client disconnected
			return
		}
	}
}
