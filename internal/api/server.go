package api

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

type APIServer struct {
	port          int
	escrowFactory string
	relayer       *relayer.Relayer
	logger        zerolog.Logger
}

func NewAPIServer(rl *relayer.Relayer, logger zerolog.Logger) *http.Server {
	port, _ := strconv.Atoi(os.Getenv("API_PORT"))
	if port == 0 {
		port = 8080
	}
	escrowFactory := os.Getenv("ESCROW_FACTORY_ADDRESS")

	NewAPIServer := &APIServer{
		port:          port,
		escrowFactory: escrowFactory,
		relayer:       rl,
		logger:        logger.With().Str("component", "api").Logger(),
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewAPIServer.port),
		Handler:      NewAPIServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
