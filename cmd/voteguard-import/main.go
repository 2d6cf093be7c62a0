package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/voteguard/voteguard-identity/internal/app"
	"github.com/voteguard/voteguard-identity/internal/config"
	"github.com/voteguard/voteguard-identity/internal/logging"
	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/identity.yaml", "path to identity service config")
	rosterPath := flag.String("roster", "", "path to roster json file")
	flag.Parse()

	if *rosterPath == "" {
		fmt.Fprintln(os.Stderr, "-roster is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	store, err := postgres.Open(context.Background(), cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	logger := logging.NewJSONLogger()
	services, err := app.BuildServices(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "service error: %v\n", err)
		os.Exit(1)
	}

	raw, err := os.ReadFile(*rosterPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read roster error: %v\n", err)
		os.Exit(1)
	}
	records, err := parseRoster(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roster parse error: %v\n", err)
		os.Exit(1)
	}

	outcomes := services.Provision.ImportIdentities(context.Background(), records)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(protocol.ImportResponse{Outcomes: outcomes}); err != nil {
		fmt.Fprintf(os.Stderr, "encode outcomes error: %v\n", err)
		os.Exit(1)
	}

	for _, outcome := range outcomes {
		if outcome.Status == protocol.ImportStatusFailed {
			os.Exit(2)
		}
	}
}

func parseRoster(raw []byte) ([]protocol.ImportRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var records []protocol.ImportRecord
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
