package taskhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AIConfig selects and configures the generative backend for autopilot.
// Provider is "local" (self-hosted generate endpoint) or "remote" (hosted
// API with a key).
type AIConfig struct {
	Provider string        `json:"provider" yaml:"provider"`
	Host     string        `json:"host,omitempty" yaml:"host"`
	Endpoint string        `json:"endpoint,omitempty" yaml:"endpoint"`
	Model    string        `json:"model" yaml:"model"`
	APIKey   string        `json:"apiKey,omitempty" yaml:"api_key"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// AIProvider produces raw model output for a prompt. The caller owns
// response parsing and validation.
type AIProvider interface {
	Generate(ctx context.Context, prompt, system string) (string, error)
}

func NewAIProvider(cfg AIConfig, httpClient *http.Client) (AIProvider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "local":
		host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
		if host == "" {
			host = "http://127.0.0.1:11434"
		}
		return &localAIProvider{host: host, model: cfg.Model, httpClient: httpClient}, nil
	case "remote":
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
		if endpoint == "" {
			return nil, fmt.Errorf("%w: remote ai provider requires endpoint", ErrInvalidInput)
		}
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("%w: remote ai provider requires api key", ErrInvalidInput)
		}
		return &remoteAIProvider{endpoint: endpoint, model: cfg.Model, apiKey: cfg.APIKey, httpClient: httpClient}, nil
	case "":
		return nil, fmt.Errorf("%w: ai provider not configured", ErrInvalidInput)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

// localAIProvider talks to a self-hosted generation endpoint
// (POST {host}/api/generate).
type localAIProvider struct {
	host       string
	model      string
	httpClient *http.Client
}

type localGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
	System string `json:"system,omitempty"`
}

type localGenerateResponse struct {
	Response string `json:"response"`
}

func (p *localAIProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	body, err := json.Marshal(localGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
		System: system,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("local ai generate failed: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var parsed localGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", err
	}
	return parsed.Response, nil
}

// remoteAIProvider talks to a hosted generative API with bearer-key auth.
type remoteAIProvider struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

type remoteGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

type remoteGenerateResponse struct {
	Text string `json:"text"`
}

func (p *remoteAIProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	body, err := json.Marshal(remoteGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		System: system,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("remote ai generate failed: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var parsed remoteGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", err
	}
	return parsed.Text, nil
}
