// Package cli implements the nexusctl command line client.
package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to the Nexus HTTP API
type Client struct {
	http *resty.Client
}

// NewClient creates an API client for baseURL (http://host:port)
func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return &Client{http: client}
}

// APIError is a non-2xx API response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
}

func (c *Client) do(method, path string, body interface{}) (json.RawMessage, error) {
	req := c.http.R()
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}

	if resp.IsError() {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(resp.String())
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &APIError{Status: resp.StatusCode(), Message: msg}
	}

	// Unwrap the {"data": ...} envelope when present
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(resp.Body(), &envelope) == nil && len(envelope.Data) > 0 {
		return envelope.Data, nil
	}
	return resp.Body(), nil
}

// Get performs a GET request
func (c *Client) Get(path string) (json.RawMessage, error) {
	return c.do("GET", path, nil)
}

// Post performs a POST request with a JSON body
func (c *Client) Post(path string, body interface{}) (json.RawMessage, error) {
	return c.do("POST", path, body)
}

// Delete performs a DELETE request
func (c *Client) Delete(path string) (json.RawMessage, error) {
	return c.do("DELETE", path, nil)
}

// RegisterWorker registers a worker with the orchestrator
func (c *Client) RegisterWorker(id string, capabilities []string, endpoint string) error {
	_, err := c.Post("/api/mcu/workers", map[string]interface{}{
		"worker_id":    id,
		"capabilities": capabilities,
		"endpoint":     endpoint,
	})
	return err
}

// Heartbeat refreshes a worker's liveness
func (c *Client) Heartbeat(id string) error {
	_, err := c.Post("/api/mcu/workers/"+id+"/heartbeat", nil)
	return err
}
