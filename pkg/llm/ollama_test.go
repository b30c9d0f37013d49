package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaProvider_Execute(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"llama3.1","message":{"role":"assistant","content":"{\"products\":[]}"},"done":true,"prompt_eval_count":120,"eval_count":30}`))
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}

	resp, err := p.Execute(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "extract"},
			{Role: RoleUser, Content: "Roses 10 DT"},
		},
		MaxTokens:   1500,
		Temperature: 0.1,
		JSONSchema:  map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got.Model != "llama3.1" {
		t.Errorf("request model = %q, want default llama3.1", got.Model)
	}
	if got.Stream {
		t.Error("request should not stream")
	}
	if got.Options.NumPredict != 1500 || got.Options.Temperature != 0.1 {
		t.Errorf("request options = %+v", got.Options)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("request messages = %+v", got.Messages)
	}
	if string(got.Format) != `{"type":"object"}` {
		t.Errorf("request format = %s", got.Format)
	}

	if resp.Content != `{"products":[]}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.Total() != 150 {
		t.Errorf("Usage.Total() = %d, want 150", resp.Usage.Total())
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL, Model: "missing"})
	_, err := p.Execute(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err == nil {
		t.Fatal("Execute() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error = %v, want status and body", err)
	}
}

func TestRegistry(t *testing.T) {
	want := []string{"anthropic", "ollama", "openai"}
	got := AvailableProviders()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("AvailableProviders() = %v, want %v", got, want)
	}

	if _, err := NewProvider("nope", ProviderConfig{}); err == nil {
		t.Error("NewProvider(unknown) expected error, got nil")
	}

	p, err := NewProvider("ollama", ProviderConfig{})
	if err != nil {
		t.Fatalf("NewProvider(ollama) error = %v", err)
	}
	if p.Name() != "ollama" || p.Model() != GetDefaultModel("ollama") {
		t.Errorf("provider = %s/%s", p.Name(), p.Model())
	}

	if _, err := NewProvider("anthropic", ProviderConfig{}); err == nil {
		t.Error("NewProvider(anthropic) without key expected error, got nil")
	}
}

func TestUsage_Add(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5}.Add(Usage{InputTokens: 3, OutputTokens: 2})
	if u.InputTokens != 13 || u.OutputTokens != 7 || u.Total() != 20 {
		t.Errorf("Add() = %+v", u)
	}
}
