package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Reasoner produces a stance and rationale for a voter agent. Without an API
// key it falls back to deterministic mock decisions so local swarms run
// offline.
type Reasoner struct {
	client *openai.Client
	model  string
}

// NewReasoner builds a reasoner. An empty API key enables mock mode.
func NewReasoner(apiKey string) *Reasoner {
	r := &Reasoner{model: openai.GPT3Dot5Turbo}
	if apiKey == "" {
		log.Println("Warning: no OpenAI API key, using mock vote reasoning")
		return r
	}
	r.client = openai.NewClient(apiKey)
	return r
}

// DecideVote evaluates a proposal and returns a vote plus free-text
// reasoning. Errors degrade to the mock path rather than blocking the vote.
func (r *Reasoner) DecideVote(ctx context.Context, proposalType, content string) (bool, string) {
	if r.client == nil {
		return r.mockDecision(proposalType, content)
	}

	prompt := fmt.Sprintf(
		"You are a validator agent in a multi-agent swarm.\n"+
			"Proposal type: %s\n"+
			"Proposal content: %s\n"+
			"Evaluate whether the swarm should accept this proposal.\n"+
			"Respond with ACCEPT or REJECT on the first line, then one sentence of reasoning.",
		proposalType, content,
	)

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     r.model,
		MaxTokens: 256,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		log.Printf("LLM vote decision failed, falling back to mock: %v", err)
		return r.mockDecision(proposalType, content)
	}

	answer := resp.Choices[0].Message.Content
	vote := strings.Contains(strings.ToUpper(answer), "ACCEPT") &&
		!strings.Contains(strings.ToUpper(answer), "REJECT")
	return vote, strings.TrimSpace(answer)
}

// mockDecision hashes the proposal so repeated runs vote consistently.
func (r *Reasoner) mockDecision(proposalType, content string) (bool, string) {
	h := fnv.New32a()
	h.Write([]byte(proposalType))
	h.Write([]byte(content))
	vote := h.Sum32()%4 != 0 // lean positive, reject a quarter of the time

	if vote {
		return true, fmt.Sprintf("Mock evaluation: %s proposal looks consistent with swarm goals", proposalType)
	}
	return false, fmt.Sprintf("Mock evaluation: %s proposal carries unjustified risk", proposalType)
}
