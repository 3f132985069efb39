// Package providers implements the engine's Generator collaborator over
// OpenAI-compatible chat-completions APIs.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dotsetgreg/refrag/pkg/engine"
)

const defaultHTTPTimeout = 300 * time.Second

// ChatGenerator calls a chat-completions endpoint with the assembled
// context pack and returns the generated answer plus token usage.
type ChatGenerator struct {
	providerName string
	apiBase      string
	model        string
	apiKey       string
	maxTokens    int
	temperature  float64
	extraHeaders map[string]string
	httpClient   *http.Client
}

// GeneratorSettings configures a ChatGenerator.
type GeneratorSettings struct {
	Name        string
	APIBase     string
	APIKey      string
	Model       string
	Proxy       string
	MaxTokens   int
	Temperature float64
}

// NewChatGenerator builds a generator from settings; name, base, key and
// model are required.
func NewChatGenerator(settings GeneratorSettings) (*ChatGenerator, error) {
	name := strings.TrimSpace(strings.ToLower(settings.Name))
	if name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	apiBase := strings.TrimRight(strings.TrimSpace(settings.APIBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("%s API base not configured", name)
	}
	if strings.TrimSpace(settings.APIKey) == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}
	if strings.TrimSpace(settings.Model) == "" {
		return nil, fmt.Errorf("%s model is required", name)
	}

	client := &http.Client{Timeout: defaultHTTPTimeout}
	if proxy := strings.TrimSpace(settings.Proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse %s proxy: %w", name, err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	headers := map[string]string{}
	if name == "openrouter" {
		headers["HTTP-Referer"] = "https://github.com/dotsetgreg/refrag"
		headers["X-Title"] = "refrag"
	}

	return &ChatGenerator{
		providerName: name,
		apiBase:      apiBase,
		model:        strings.TrimSpace(settings.Model),
		apiKey:       strings.TrimSpace(settings.APIKey),
		maxTokens:    settings.MaxTokens,
		temperature:  settings.Temperature,
		extraHeaders: headers,
		httpClient:   client,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate renders the context pack into a grounded prompt and calls the
// chat-completions endpoint.
func (g *ChatGenerator) Generate(ctx context.Context, query string, pack engine.ContextPack) (engine.Generation, error) {
	if g == nil {
		return engine.Generation{}, fmt.Errorf("generator not initialized")
	}

	requestBody := map[string]interface{}{
		"model": g.model,
		"messages": []chatMessage{
			{Role: "system", Content: RenderSystemPrompt(pack)},
			{Role: "user", Content: query},
		},
	}
	if g.maxTokens > 0 {
		requestBody["max_tokens"] = g.maxTokens
	}
	if g.temperature > 0 {
		requestBody["temperature"] = g.temperature
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return engine.Generation{}, fmt.Errorf("marshal %s request: %w", g.providerName, err)
	}

	endpoint := g.apiBase + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return engine.Generation{}, fmt.Errorf("create %s request: %w", g.providerName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	for name, value := range g.extraHeaders {
		req.Header.Set(name, value)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return engine.Generation{}, fmt.Errorf("send %s request: %w", g.providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.Generation{}, fmt.Errorf("read %s response: %w", g.providerName, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return engine.Generation{}, fmt.Errorf("%s API request failed: status=%d error=%s",
			g.providerName, resp.StatusCode, extractAPIError(body))
	}

	generation, err := parseChatCompletionsResponse(body)
	if err != nil {
		return engine.Generation{}, fmt.Errorf("parse %s response: %w", g.providerName, err)
	}
	generation.Provider = g.providerName
	return generation, nil
}

func parseChatCompletionsResponse(body []byte) (engine.Generation, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return engine.Generation{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return engine.Generation{}, fmt.Errorf("response contains no choices")
	}

	generation := engine.Generation{Content: apiResponse.Choices[0].Message.Content}
	if apiResponse.Usage != nil {
		generation.Usage = engine.GenerationUsage{
			PromptTokens:     apiResponse.Usage.PromptTokens,
			CompletionTokens: apiResponse.Usage.CompletionTokens,
			TotalTokens:      apiResponse.Usage.TotalTokens,
		}
	}
	return generation, nil
}

func extractAPIError(body []byte) string {
	var apiError struct {
		Error struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiError); err == nil && apiError.Error.Message != "" {
		return apiError.Error.Message
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 300 {
		trimmed = trimmed[:300] + "..."
	}
	return trimmed
}
