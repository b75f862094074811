package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/swarmforge/agent-quorum/api"
	"github.com/swarmforge/agent-quorum/communication"
	_ "github.com/swarmforge/agent-quorum/config"
	"github.com/swarmforge/agent-quorum/consensus"
	"github.com/swarmforge/agent-quorum/core"
	"github.com/swarmforge/agent-quorum/storage"
)

func main() {
	apiPort := flag.Int("api-port", 3000, "API server port")
	natsURL := flag.String("nats", "", "NATS URL for the event bridge (empty disables it)")
	dataDir := flag.String("data-dir", "./data", "BadgerDB directory for audit records (empty disables persistence)")
	flag.Parse()

	bus := core.NewBus()
	engine := consensus.NewEngine(consensus.DefaultOptions(), bus)

	// Websocket event stream for dashboards.
	communication.GetWSManager().AttachBus(bus)

	// Optional NATS bridge for out-of-process collaborators.
	if *natsURL != "" {
		messenger, err := communication.NewMessenger(*natsURL)
		if err != nil {
			log.Fatalf("Failed to connect to NATS at %s: %v", *natsURL, err)
		}
		defer messenger.Close()
		messenger.BridgeEvents(bus)
		log.Printf("Connected to NATS at %s", *natsURL)
	}

	// Optional audit persistence of finalized proposals and quarantines.
	var audit *storage.AuditRepository
	if *dataDir != "" {
		store, err := storage.OpenStore(*dataDir)
		if err != nil {
			log.Fatalf("Failed to open audit store: %v", err)
		}
		defer store.Close()
		audit = storage.NewAuditRepository(store)
		audit.AttachBus(bus)
	}

	router := api.NewServer(engine, audit)

	go func() {
		if err := router.Run(fmt.Sprintf(":%d", *apiPort)); err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	}()
	log.Printf("Consensus node listening on :%d", *apiPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down: clearing proposal timers")
	engine.Shutdown()
}
