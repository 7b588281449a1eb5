package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient is a thin HTTP client for beamcoded's REST surface, grounded
// on the teacher CLI's pattern of one small per-agent request/response
// round trip per command (send.go, ls.go) but over HTTP instead of a
// Unix socket.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type sessionSummary struct {
	SessionID string `json:"session_id"`
	Adapter   string `json:"adapter"`
	Status    string `json:"status"`
	Model     string `json:"model,omitempty"`
}

func (c *apiClient) listSessions() ([]sessionSummary, error) {
	var out []sessionSummary
	if err := c.do(http.MethodGet, "/sessions/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) createSession(adapter string) (sessionSummary, error) {
	var out sessionSummary
	body := map[string]any{"adapter": adapter}
	if err := c.do(http.MethodPost, "/sessions/", body, &out); err != nil {
		return sessionSummary{}, err
	}
	return out, nil
}

func (c *apiClient) deleteSession(sessionID string) error {
	return c.do(http.MethodDelete, "/sessions/"+sessionID, nil, nil)
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytesToString(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func bytesToString(b []byte) string {
	s := string(b)
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}
