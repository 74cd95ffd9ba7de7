// Package gateway invokes the external function endpoint that runs a test
// plan. The function's internals are opaque; the gateway only cares that
// the call is accepted.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Request struct {
	URL       string
	Secret    string
	Timeout   time.Duration
	Payload   Payload
	AttemptID string
}

type Payload struct {
	TriggerID   string `json:"trigger_id"`
	ExecutionID string `json:"execution_id"`
	PlanID      string `json:"plan_id"`
	ScheduledAt string `json:"scheduled_at"`
	FiredAt     string `json:"fired_at"`
	Source      string `json:"source"`
}

type Result struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r Result) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r Result) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

type HTTPInvoker struct {
	client *http.Client
}

func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{
		client: &http.Client{},
	}
}

// Invoke posts the payload with an HMAC signature.
// Headers: X-Testdeck-Attempt-ID, X-Testdeck-Execution-ID, X-Testdeck-Signature
func (s *HTTPInvoker) Invoke(ctx context.Context, req Request) Result {
	start := time.Now()

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return Result{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	signature := computeSignature(req.Secret, body)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Testdeck-Attempt-ID", req.AttemptID)
	httpReq.Header.Set("X-Testdeck-Execution-ID", req.Payload.ExecutionID)
	httpReq.Header.Set("X-Testdeck-Signature", signature)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Result{Error: fmt.Errorf("invoke: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets function endpoints verify incoming invocations.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
