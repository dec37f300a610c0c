package facttrace

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Configuration constants
var (
	// OpenRouterAPIKey is the API key for OpenRouter
	OpenRouterAPIKey string

	// ModelFast is the model used for the debating agents
	ModelFast = "openai/gpt-4.1-mini"

	// ModelJudge is the model used for the final verdict
	ModelJudge = "openai/gpt-5.2"

	// OpenRouterAPIURL is the endpoint for OpenRouter API
	OpenRouterAPIURL = "https://openrouter.ai/api/v1/chat/completions"

	// ResultPath is the file mirror for the latest verdict
	ResultPath = "data/result.json"

	// CasesPath is the CSV file holding the claim/truth cases
	CasesPath = "Atlas.csv"

	// DefaultDebateRounds is the number of Advocate/Skeptic rounds
	DefaultDebateRounds = 2

	// Timeout constants
	ModelQueryTimeout = 120 * time.Second
	SourceTimeout     = 30 * time.Second

	// CasesCacheTTL is the time-to-live for the parsed case catalog
	CasesCacheTTL = 5 * time.Minute

	// CORS allowed origins (configurable via environment)
	// In development (empty/default), allows any localhost port
	// In production, set CORS_ALLOWED_ORIGINS environment variable
	CORSAllowedOrigins = []string{}

	// MaxRequestBodySize is the maximum allowed request body size (1MB)
	MaxRequestBodySize int64 = 1 << 20
)

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Load .env file - try multiple locations
	envLocations := []string{
		".env",    // Current directory
		"../.env", // Parent directory
	}

	// Try to find and load .env file
	envLoaded := false
	for _, envPath := range envLocations {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				log.Printf("Loaded .env from: %s", absPath)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		log.Printf("Warning: .env file not found in any expected location")
	}

	// Get OpenRouter API key
	OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	if OpenRouterAPIKey == "" {
		log.Fatal("OPENROUTER_API_KEY environment variable is required")
	}

	if fast := os.Getenv("FACTTRACE_MODEL_FAST"); fast != "" {
		ModelFast = fast
	}
	if judge := os.Getenv("FACTTRACE_MODEL_JUDGE"); judge != "" {
		ModelJudge = judge
	}
	if result := os.Getenv("FACTTRACE_RESULT_PATH"); result != "" {
		ResultPath = result
	}
	if cases := os.Getenv("FACTTRACE_CASES_PATH"); cases != "" {
		CasesPath = cases
	}

	// Load CORS origins from environment if provided. Comma-separated:
	// origins carry a scheme, so a path-list separator would split them.
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		CORSAllowedOrigins = []string{}
		for _, origin := range strings.Split(corsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				CORSAllowedOrigins = append(CORSAllowedOrigins, origin)
			}
		}
	}

	log.Println("Configuration loaded successfully")
}
