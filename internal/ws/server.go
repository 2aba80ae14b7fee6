package ws

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"relayer/internal/relayer"
)

type WSServer struct {
	port        int
	broadcaster *relayer.Broadcaster
	logger      zerolog.Logger
}

func NewWSServer(broadcaster *relayer.Broadcaster, logger zerolog.Logger) *http.Server {
	port, _ := strconv.Atoi(os.Getenv("WS_PORT"))
	if port == 0 {
		port = 8081
	}

	NewWSServer := &WSServer{
		port:        port,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "ws").Logger(),
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewWSServer.port),
		Handler:      NewWSServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
