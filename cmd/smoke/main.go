// Command smoke exercises a running canon server end to end: health, account,
// estimate, and, when a source entity is given, a context preview plus one
// charged generation.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type settings struct {
	BaseURL    string `env:"SMOKE_BASE_URL" envDefault:"http://localhost:8080"`
	UserID     string `env:"SMOKE_USER_ID" envDefault:"smoke-user"`
	SourceID   string `env:"SMOKE_SOURCE_ID"`
	TargetType string `env:"SMOKE_TARGET_TYPE" envDefault:"Character"`
}

type step struct {
	name   string
	method string
	path   string
	body   any
	want   int
}

func main() {
	_ = godotenv.Load()

	var s settings
	if err := env.Parse(&s); err != nil {
		log.Fatal("invalid smoke settings", "err", err)
	}
	client := &http.Client{Timeout: 2 * time.Minute}

	steps := []step{
		{"health", http.MethodGet, "/healthz", nil, http.StatusOK},
		{"account", http.MethodGet, "/v1/me", nil, http.StatusOK},
		{"estimate", http.MethodPost, "/v1/estimate", map[string]any{"targetType": s.TargetType, "entityCount": 2, "creativity": 0.5}, http.StatusOK},
	}
	if s.SourceID != "" {
		gen := map[string]any{"sourceEntityId": s.SourceID, "targetType": s.TargetType, "quantity": 1}
		steps = append(steps,
			step{"context preview", http.MethodPost, "/v1/context/preview", gen, http.StatusOK},
			step{"generate", http.MethodPost, "/v1/generate", gen, http.StatusOK},
			step{"history", http.MethodGet, "/v1/credits/history?limit=5", nil, http.StatusOK},
		)
	} else {
		log.Warn("SMOKE_SOURCE_ID not set, skipping generation")
	}

	for i, st := range steps {
		log.Info("running", "step", i+1, "name", st.name)
		out, err := send(client, s, st)
		if err != nil {
			log.Fatal("FAILED", "step", st.name, "err", err)
		}
		log.Info("PASSED", "step", st.name, "response", truncate(out, 300))
	}
}

func send(client *http.Client, s settings, st step) (string, error) {
	var body io.Reader
	if st.body != nil {
		data, err := json.Marshal(st.body)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(st.method, s.BaseURL+st.path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", s.UserID)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != st.want {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, data)
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
