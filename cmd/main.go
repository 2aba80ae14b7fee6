package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"relayer/internal/api"
	"relayer/internal/chain"
	"relayer/internal/relayer"
	"relayer/internal/store"
	"relayer/internal/ws"
)

func initServer(server *http.Server, done chan bool, logger zerolog.Logger) {
	// Start the server in a separate goroutine
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Str("addr", server.Addr).Msg("server error")
		}
	}()

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	logger.Info().Msg("shutting down gracefully, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Str("addr", server.Addr).Msg("server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if lv, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lv != zerolog.NoLevel {
		level = lv
	}

	if os.Getenv("LOG_JSON") == "true" {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// relayerOptions wires the optional on-chain collaborators from the
// environment. Either side may be absent; the relayer then runs storage-only
// for that concern.
func relayerOptions(logger zerolog.Logger) []relayer.Option {
	var opts []relayer.Option

	if rpc := os.Getenv("EVM_RPC_URL"); rpc != "" {
		chainID, err := strconv.ParseInt(os.Getenv("EVM_CHAIN_ID"), 10, 64)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid EVM_CHAIN_ID")
		}

		session, err := chain.Initialize(chain.Config{
			RPCURL:          rpc,
			SecretKey:       os.Getenv("EVM_SECRET_KEY"),
			ChainID:         big.NewInt(chainID),
			AuctionContract: common.HexToAddress(os.Getenv("AUCTION_CONTRACT_ADDRESS")),
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize signer session")
		}
		opts = append(opts, relayer.WithRegistrar(session))
		logger.Info().Str("rpc", rpc).Msg("auction registrar enabled")
	} else {
		logger.Warn().Msg("EVM_RPC_URL not set, auction registration disabled")
	}

	if rpc := os.Getenv("SUI_RPC_URL"); rpc != "" {
		opts = append(opts, relayer.WithConfirmer(chain.NewSuiConfirmer(rpc)))
		logger.Info().Str("rpc", rpc).Msg("withdrawal confirmer enabled")
	} else {
		logger.Warn().Msg("SUI_RPC_URL not set, withdrawal confirmation disabled")
	}

	return opts
}

func main() {
	logger := newLogger()

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "relayer.db"
	}
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", dbPath).Msg("failed to open store")
	}

	// Initialize the relayer
	rl := relayer.New(st, logger, relayerOptions(logger)...)

	// create the servers
	apiServer := api.NewAPIServer(rl, logger)
	wsServer := ws.NewWSServer(rl.Broadcaster(), logger)

	// Create apiDone channels to signal when the shutdown is complete
	apiDone := make(chan bool, 1)
	wsDone := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go initServer(apiServer, apiDone, logger)
	go initServer(wsServer, wsDone, logger)

	logger.Info().Str("api", apiServer.Addr).Str("ws", wsServer.Addr).Msg(fmt.Sprintf("relayer up, db at %s", dbPath))

	// Wait for the graceful shutdown to complete
	select {
	case <-apiDone:
		logger.Info().Msg("API server shutdown complete")
	case <-wsDone:
		logger.Info().Msg("WebSocket server shutdown complete")
	}

	rl.Close()
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("store close failed")
	}

	logger.Info().Msg("graceful shutdown complete")
}
