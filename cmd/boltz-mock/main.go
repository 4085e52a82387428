package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/test/mockboltz"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(envOrDefault("MOCK_BOLTZ_LOG_LEVEL", "info"))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	cfg := mockboltz.Config{
		ListenAddr:           envOrDefault("MOCK_BOLTZ_LISTEN_ADDR", ":9001"),
		Network:              parseNetwork(envOrDefault("MOCK_BOLTZ_NETWORK", "regtest")),
		AutoSwapCreatedDelay: parseDuration("MOCK_BOLTZ_AUTO_SWAP_CREATED_DELAY", 0),
		MinAmount:            parseUint64("MOCK_BOLTZ_MIN_AMOUNT", 1000),
		MaxAmount:            parseUint64("MOCK_BOLTZ_MAX_AMOUNT", 25_000_000),
		ServiceFeePPM:        parseUint64("MOCK_BOLTZ_SERVICE_FEE_PPM", 2500),
		MinerFeeSat:          parseUint64("MOCK_BOLTZ_MINER_FEE_SAT", 200),
	}

	srv, err := mockboltz.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create mock boltz server")
	}

	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("failed to start mock boltz server")
	}
	log.Infof("mock boltz started on %s", srv.URL())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down mock boltz...")
	if err := srv.Stop(); err != nil {
		log.WithError(err).Error("failed to stop mock boltz server")
	}
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseUint64(key string, fallback uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseNetwork(network string) *chaincfg.Params {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}
