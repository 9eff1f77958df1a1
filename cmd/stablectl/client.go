package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hedgepool/config"
)

// apiClient talks to the stabled HTTP API.
type apiClient struct {
	base    string
	token   string
	account string
	http    *http.Client
}

func newAPIClient(base, token, account string) *apiClient {
	return &apiClient{
		base:    strings.TrimRight(strings.TrimSpace(base), "/"),
		token:   strings.TrimSpace(token),
		account: strings.TrimSpace(account),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type apiError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *apiError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("stabled: %d: %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("stabled: %d: %s", e.Status, e.Message)
}

// do sends body as JSON and returns the raw response payload.
func (c *apiClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.account != "" {
		req.Header.Set("X-Account", c.account)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		_ = json.Unmarshal(payload, &failure)
		if failure.Error == "" {
			failure.Error = strings.TrimSpace(string(payload))
		}
		return nil, &apiError{Status: resp.StatusCode, Message: failure.Error, RequestID: failure.RequestID}
	}
	return payload, nil
}

// readAssets loads collateral listings from a YAML document holding either a
// list or an "assets" key.
func readAssets(path string) ([]config.Asset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Assets []config.Asset `yaml:"assets"`
	}
	if err := yaml.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Assets) > 0 {
		return wrapped.Assets, nil
	}
	var list []config.Asset
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s: no assets", path)
	}
	return list, nil
}

func printJSON(w io.Writer, payload json.RawMessage) error {
	var out bytes.Buffer
	if err := json.Indent(&out, payload, "", "  "); err != nil {
		_, err = w.Write(payload)
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}
