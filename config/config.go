package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

func init() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	// OPENAI_API_KEY is optional: voter agents fall back to mock reasoning
	// without it.
	if os.Getenv("OPENAI_API_KEY") == "" {
		log.Println("Warning: OPENAI_API_KEY not set, agents will use mock reasoning")
	}
}

// OpenAIKey returns the configured OpenAI API key, if any.
func OpenAIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}
