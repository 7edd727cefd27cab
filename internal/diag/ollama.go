package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultOllamaModel  = "qwen3:14b"
	DefaultOllamaPrompt = "List files in current directory and check if README.md exists"
)

// OllamaOptions configures CompareOllama.
type OllamaOptions struct {
	BaseURL    string
	Model      string
	Prompt     string
	NumPredict int
	// Timeout bounds each endpoint call.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// EndpointResult is the timing of one endpoint call.
type EndpointResult struct {
	Name    string
	Elapsed time.Duration
	Length  int
	Preview string
	Err     error
}

// ModelStatus is what /api/show reports about the model.
type ModelStatus struct {
	Loaded     bool
	NumPredict bool
	Parameters string
	Err        error
}

// OllamaComparison collects the results of CompareOllama.
type OllamaComparison struct {
	Endpoints []EndpointResult
	Model     ModelStatus
}

type ollamaProbe struct {
	opts   OllamaOptions
	client *http.Client
}

// CompareOllama sends the same prompt to the native chat and generate endpoints
// and the OpenAI-compatible endpoint of a local Ollama, then reads the model info.
// It shows whether slowness comes from the endpoint choice or the model itself.
func CompareOllama(ctx context.Context, opts OllamaOptions) OllamaComparison {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOllamaURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Model == "" {
		opts.Model = DefaultOllamaModel
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultOllamaPrompt
	}
	if opts.NumPredict <= 0 {
		opts.NumPredict = 200
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	p := &ollamaProbe{opts: opts, client: opts.HTTPClient}
	if p.client == nil {
		p.client = &http.Client{}
	}

	var result OllamaComparison
	result.Endpoints = append(result.Endpoints,
		p.timed(ctx, "/api/chat", p.chat),
		p.timed(ctx, "/api/generate", func(ctx context.Context) (string, error) { return p.generate(ctx, nil) }),
		p.timed(ctx, "/api/generate (num_predict)", func(ctx context.Context) (string, error) {
			return p.generate(ctx, map[string]any{
				"temperature": 0.7,
				"top_k":       40,
				"top_p":       0.9,
				"num_predict": opts.NumPredict,
			})
		}),
		p.timed(ctx, "/v1/chat/completions", p.openAI),
	)
	result.Model = p.show(ctx)
	return result
}

func (p *ollamaProbe) timed(ctx context.Context, name string, call func(context.Context) (string, error)) EndpointResult {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	start := time.Now()
	text, err := call(ctx)
	return EndpointResult{
		Name:    name,
		Elapsed: time.Since(start),
		Length:  len([]rune(text)),
		Preview: truncate(strings.TrimSpace(text), 200),
		Err:     err,
	}
}

func (p *ollamaProbe) chat(ctx context.Context) (string, error) {
	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	err := p.post(ctx, "/api/chat", map[string]any{
		"model":    p.opts.Model,
		"messages": []map[string]string{{"role": "user", "content": p.opts.Prompt}},
		"stream":   false,
	}, &out)
	return out.Message.Content, err
}

func (p *ollamaProbe) generate(ctx context.Context, options map[string]any) (string, error) {
	body := map[string]any{
		"model":  p.opts.Model,
		"prompt": p.opts.Prompt,
		"stream": false,
	}
	if options != nil {
		body["options"] = options
	}
	var out struct {
		Response string `json:"response"`
	}
	err := p.post(ctx, "/api/generate", body, &out)
	return out.Response, err
}

func (p *ollamaProbe) openAI(ctx context.Context) (string, error) {
	client := openai.NewClient(
		option.WithBaseURL(p.opts.BaseURL+"/v1/"),
		option.WithAPIKey("ollama"),
		option.WithHTTPClient(p.client),
		option.WithMaxRetries(0),
	)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(p.opts.Prompt),
		},
		MaxTokens: openai.Int(int64(p.opts.NumPredict)),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *ollamaProbe) show(ctx context.Context) ModelStatus {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var out struct {
		Parameters string         `json:"parameters"`
		ModelInfo  map[string]any `json:"model_info"`
	}
	if err := p.post(ctx, "/api/show", map[string]any{"name": p.opts.Model}, &out); err != nil {
		return ModelStatus{Err: err}
	}
	return ModelStatus{
		Loaded:     out.ModelInfo != nil,
		NumPredict: strings.Contains(out.Parameters, "num_predict"),
		Parameters: truncate(out.Parameters, 200),
	}
}

func (p *ollamaProbe) post(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
