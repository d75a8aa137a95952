package planner

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"

	"itinerary-planner/internal/archive"
	"itinerary-planner/internal/awsutil"
	"itinerary-planner/internal/config"
	"itinerary-planner/internal/itinerary"
)

// New builds the planner selected by cfg.Planner.
func New(ctx context.Context, cfg config.Config, repo itinerary.Repository, archiver archive.Archiver, log zerolog.Logger) (Planner, error) {
	var model ChatModel
	switch cfg.Planner {
	case "", "demo":
		return NewDemo(repo, archiver, cfg.DemoStepDelay, log), nil
	case "bedrock":
		awsCfg, err := awsutil.Load(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		model = NewBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID)
	case "openai":
		m, err := NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, err
		}
		model = m
	default:
		return nil, fmt.Errorf("unknown planner %q", cfg.Planner)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPToolTimeout}
	tools := []Tool{NewHTTPTool(httpClient, cfg.HTTPMaxCalls)}
	tools = append(tools, NewOpenTripMap(cfg.OpenTripMapURL, cfg.OpenTripMapKey, httpClient).Tools()...)
	tools = append(tools, NewSaveItineraryTool(repo), NewGetItinerariesTool(repo))

	return NewAgent(model, tools, AgentConfig{
		MaxTurns:     cfg.MaxAgentTurns,
		WindowSize:   cfg.ConversationSize,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		HTTPMaxCalls: cfg.HTTPMaxCalls,
	}, archiver, log), nil
}
