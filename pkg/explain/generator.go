package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

const upstreamName = "explain-llm"

// Generator turns a fact set into a short natural-language summary via an
// external generateContent endpoint. The route decision never depends on it:
// callers treat a failed or slow generation as a missing explanation, not an
// error.
type Generator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Config for the generator. An empty BaseURL disables generation entirely.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewGenerator builds the client. Returns nil when no endpoint is configured;
// a nil Generator is valid and always reports itself disabled.
func NewGenerator(cfg Config) *Generator {
	if cfg.BaseURL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Generator{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}

// Enabled reports whether an endpoint is configured.
func (g *Generator) Enabled() bool { return g != nil }

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Explain renders the fact set into the model prompt and returns the
// generated summary. Every failure comes back as UPSTREAM_UNAVAILABLE so the
// handler can degrade to a fact-only response.
func (g *Generator) Explain(ctx context.Context, facts models.FactSet) (string, error) {
	if g == nil {
		return "", routerr.New(routerr.KindConfiguration, "explanation endpoint not configured")
	}

	start := time.Now()
	text, err := g.generate(ctx, facts)
	metrics.ExplainLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExplainErrors.Inc()
		return "", err
	}
	metrics.ExplainCounter.Inc()
	return text, nil
}

func (g *Generator) generate(ctx context.Context, facts models.FactSet) (string, error) {
	prompt, err := renderPrompt(facts)
	if err != nil {
		return "", routerr.Wrap(routerr.KindConfiguration, err, "render explanation prompt")
	}

	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", routerr.Wrap(routerr.KindConfiguration, err, "encode explanation request")
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", routerr.Wrap(routerr.KindConfiguration, err, "build explanation request")
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("x-goog-api-key", g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", routerr.UpstreamUnavailable(upstreamName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", routerr.UpstreamUnavailable(upstreamName,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", routerr.UpstreamUnavailable(upstreamName, fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", routerr.UpstreamUnavailable(upstreamName, fmt.Errorf("empty response"))
	}

	text := strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", routerr.UpstreamUnavailable(upstreamName, fmt.Errorf("blank explanation"))
	}
	return text, nil
}

// renderPrompt embeds the fact set as JSON so the model only ever narrates
// numbers the engine computed. The instructions forbid inventing figures.
func renderPrompt(facts models.FactSet) (string, error) {
	encoded, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("You are a cross-chain transaction routing assistant. ")
	b.WriteString("Summarize the chosen route below for an end user in 2-3 plain sentences. ")
	b.WriteString("Use only the numbers in the facts, rounded to cents. ")
	b.WriteString("Mention why the route beats the listed alternates when any exist. ")
	b.WriteString("Do not invent prices, fees, or chains that are not in the facts.\n\nFacts:\n")
	b.Write(encoded)
	return b.String(), nil
}
