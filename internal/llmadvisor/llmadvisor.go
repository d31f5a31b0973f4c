// Package llmadvisor calls an LLM to suggest repairs for overlapping
// routes and to generate candidate utterances for a route. It is purely
// advisory: callers decide whether to apply anything it returns, and
// every operation degrades to a nil result on any API or parse failure
// rather than blocking the caller.
package llmadvisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/intenthub/internal/models"
	"github.com/ajitpratap0/intenthub/pkg/xmlutil"
)

// Provider names the LLM backend a tagged-variant config targets. All
// providers other than Gemini speak the OpenAI-compatible chat-completions
// wire format; only the endpoint, model, and key differ.
type Provider string

const (
	ProviderDeepSeek   Provider = "deepseek"
	ProviderOpenRouter Provider = "openrouter"
	ProviderDoubao     Provider = "doubao"
	ProviderQwen       Provider = "qwen"
	ProviderGemini     Provider = "gemini"
)

const (
	requestTimeout  = 30 * time.Second
	maxResponseSize = 2 << 20
)

// Config is the tagged-variant shape every provider shares. RepairPrompt
// and GeneratePrompt are operator-overridable via settings; an empty value
// falls back to the package default template.
type Config struct {
	Provider      Provider
	BaseURL       string
	Model         string
	APIKey        string
	Temperature   float64
	RepairPrompt  string
	GeneratePrompt string
}

// Advisor issues LLM calls on behalf of DiagnosticsEngine.
type Advisor struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
	}
}

const repairPromptTemplate = `You are a routing taxonomy reviewer for a semantic intent router.

Two routes have overlapping utterances and are difficult for the router to
tell apart. Propose a rationalization for how to separate them, new example
utterances to add to <route_a> that would not be confused with <route_b>,
and which of <route_a>'s existing utterances are the source of the conflict.

Return ONLY a JSON object with this exact schema:
{"rationalization": "<brief explanation>", "new_utterances": ["..."], "conflicting_utterances": ["..."]}

<route_a name="%s">
%s</route_a>

<route_b name="%s">
%s</route_b>`

// SuggestRepair asks the LLM how to disentangle routeA from routeB given
// the utterance pairs the diagnostics engine found overlapping. Returns
// (nil, nil) if the call or parse fails; the caller must treat that as
// "no suggestion available", not an error.
func (a *Advisor) SuggestRepair(ctx context.Context, routeA, routeB models.Route, conflicts []models.InstanceConflict) (*models.RepairSuggestion, error) {
	if len(conflicts) == 0 {
		return nil, nil
	}

	var utterancesA, utterancesB strings.Builder
	for _, u := range routeA.Utterances {
		fmt.Fprintf(&utterancesA, "- %s\n", xmlutil.Escape(u))
	}
	for _, u := range routeB.Utterances {
		fmt.Fprintf(&utterancesB, "- %s\n", xmlutil.Escape(u))
	}

	tmpl := repairPromptTemplate
	if a.cfg.RepairPrompt != "" {
		tmpl = a.cfg.RepairPrompt
	}
	prompt := fmt.Sprintf(tmpl,
		xmlutil.Escape(routeA.Name), utterancesA.String(),
		xmlutil.Escape(routeB.Name), utterancesB.String())

	text, err := a.complete(ctx, "You are a precise routing taxonomy assistant. Output only valid JSON.", prompt)
	if err != nil {
		a.logger.Warn("llmadvisor: suggest_repair call failed, returning no suggestion", "error", err)
		return nil, nil
	}

	var result models.RepairSuggestion
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		a.logger.Warn("llmadvisor: could not parse suggest_repair response", "response", text, "error", err)
		return nil, nil
	}
	return &result, nil
}

const generatePromptTemplate = `You are generating additional example utterances for an intent router route.

Route name: %s
Route description: %s
Existing utterances:
%s
Generate %d new, varied utterances that clearly belong to this route and
are phrased differently than the existing ones. Avoid duplicating any
existing utterance.

Return ONLY a JSON object with this exact schema:
{"utterances": ["..."]}`

type generateResponse struct {
	Utterances []string `json:"utterances"`
}

// GenerateUtterances asks the LLM for count new candidate utterances for a
// route. Returns (nil, nil) on any failure, same degrade-gracefully
// contract as SuggestRepair.
func (a *Advisor) GenerateUtterances(ctx context.Context, route models.Route, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	var existing strings.Builder
	for _, u := range route.Utterances {
		fmt.Fprintf(&existing, "- %s\n", xmlutil.Escape(u))
	}

	tmpl := generatePromptTemplate
	if a.cfg.GeneratePrompt != "" {
		tmpl = a.cfg.GeneratePrompt
	}
	prompt := fmt.Sprintf(tmpl,
		xmlutil.Escape(route.Name), xmlutil.Escape(route.Description), existing.String(), count)

	text, err := a.complete(ctx, "You are a precise utterance generation assistant. Output only valid JSON.", prompt)
	if err != nil {
		a.logger.Warn("llmadvisor: generate_utterances call failed, returning none", "error", err)
		return nil, nil
	}

	var result generateResponse
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		a.logger.Warn("llmadvisor: could not parse generate_utterances response", "response", text, "error", err)
		return nil, nil
	}
	return dedupAgainst(result.Utterances, route.Utterances, count), nil
}

// dedupAgainst drops any candidate already present in reference, then caps
// the result at limit. The LLM is told not to repeat existing utterances,
// but nothing stops it from doing so anyway.
func dedupAgainst(candidates, reference []string, limit int) []string {
	seen := make(map[string]struct{}, len(reference))
	for _, u := range reference {
		seen[u] = struct{}{}
	}

	out := make([]string, 0, limit)
	for _, c := range candidates {
		if len(out) >= limit {
			break
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// complete routes to the right wire format for the configured provider
// and returns the raw text of the model's reply.
func (a *Advisor) complete(ctx context.Context, system, prompt string) (string, error) {
	if a.cfg.Provider == ProviderGemini {
		return a.completeGemini(ctx, system, prompt)
	}
	return a.completeOpenAICompatible(ctx, system, prompt)
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (a *Advisor) completeOpenAICompatible(ctx context.Context, system, prompt string) (string, error) {
	reqBody, err := json.Marshal(chatCompletionRequest{
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	raw, err := a.do(req)
	if err != nil {
		return "", err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in chat completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (a *Advisor) completeGemini(ctx context.Context, system, prompt string) (string, error) {
	reqBody, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: system + "\n\n" + prompt}}},
		},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(a.cfg.BaseURL, "/"), a.cfg.Model, a.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := a.do(req)
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty candidates in gemini response")
	}
	return strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text), nil
}

func (a *Advisor) do(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}
	return raw, nil
}
