package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/machina/internal/config"
)

// operatorClient is the thin HTTP client the stop/tools/dev-mode/gc
// subcommands use to talk to a running `machina serve`, mirroring the
// teacher's cmd/agent_chat_client.go "plain net/http against the gateway,
// bearer token from config" shape.
type operatorClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newOperatorClient(cfg *config.Config) *operatorClient {
	return &operatorClient{
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		token:   cfg.Gateway.Token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *operatorClient) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = strings.NewReader(string(data))
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w (is `machina serve` running?)", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
