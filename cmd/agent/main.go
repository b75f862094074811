package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/swarmforge/agent-quorum/ai"
	"github.com/swarmforge/agent-quorum/communication"
	_ "github.com/swarmforge/agent-quorum/config"
	"github.com/swarmforge/agent-quorum/core"
)

// voterAgent reacts to proposal:created events on NATS, asks the reasoner
// for a stance, and submits its vote over the node's REST API.
type voterAgent struct {
	id       string
	apiURL   string
	reasoner *ai.Reasoner
	client   *http.Client
}

func main() {
	id := flag.String("id", "", "agent id (required)")
	apiURL := flag.String("api", "http://localhost:3000", "consensus node API URL")
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS URL")
	weight := flag.Float64("weight", 1.0, "initial voting weight")
	capabilities := flag.String("capabilities", "", "comma-separated capability list")
	flag.Parse()

	if *id == "" {
		log.Fatal("missing required -id flag")
	}

	agent := &voterAgent{
		id:       *id,
		apiURL:   strings.TrimRight(*apiURL, "/"),
		reasoner: ai.NewReasoner(os.Getenv("OPENAI_API_KEY")),
		client:   &http.Client{Timeout: 10 * time.Second},
	}

	var caps []string
	if *capabilities != "" {
		caps = strings.Split(*capabilities, ",")
	}
	if err := agent.register(*weight, caps); err != nil {
		log.Fatalf("Failed to register agent: %v", err)
	}
	log.Printf("Agent %s registered with node %s", agent.id, agent.apiURL)

	messenger, err := communication.NewMessenger(*natsURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer messenger.Close()

	subject := communication.SubjectFor(core.EventProposalCreated)
	if _, err := messenger.Subscribe(subject, agent.onProposal); err != nil {
		log.Fatalf("Failed to subscribe to %s: %v", subject, err)
	}
	log.Printf("Listening for proposals on %s", subject)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func (a *voterAgent) register(weight float64, capabilities []string) error {
	body, err := json.Marshal(map[string]interface{}{
		"id":           a.id,
		"weight":       weight,
		"capabilities": capabilities,
	})
	if err != nil {
		return err
	}
	resp, err := a.client.Post(a.apiURL+"/api/agents", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registration returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *voterAgent) onProposal(msg *nats.Msg) {
	var event struct {
		Payload struct {
			ID      string      `json:"id"`
			Type    string      `json:"type"`
			Content interface{} `json:"content"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("Failed to decode proposal event: %v", err)
		return
	}

	content, _ := json.Marshal(event.Payload.Content)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vote, reasoning := a.reasoner.DecideVote(ctx, event.Payload.Type, string(content))
	log.Printf("Voting %v on proposal %s: %s", vote, event.Payload.ID, reasoning)

	if err := a.submitVote(event.Payload.ID, vote, reasoning); err != nil {
		log.Printf("Failed to submit vote on %s: %v", event.Payload.ID, err)
	}
}

func (a *voterAgent) submitVote(proposalID string, vote bool, reasoning string) error {
	body, err := json.Marshal(map[string]interface{}{
		"agentId":   a.id,
		"vote":      vote,
		"reasoning": reasoning,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/proposals/%s/votes", a.apiURL, proposalID)
	resp, err := a.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vote returned status %d", resp.StatusCode)
	}
	return nil
}
