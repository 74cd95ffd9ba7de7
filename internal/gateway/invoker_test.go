package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInvoke_SignsAndDeliversPayload(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	invoker := NewHTTPInvoker()
	result := invoker.Invoke(context.Background(), Request{
		URL:       srv.URL,
		Secret:    "s3cret",
		AttemptID: "attempt-1",
		Payload: Payload{
			TriggerID:   "trigger-1",
			ExecutionID: "execution-1",
			PlanID:      "plan-1",
			ScheduledAt: "2024-01-15T03:30:00Z",
			FiredAt:     "2024-01-15T03:30:05Z",
			Source:      "schedule",
		},
	})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got status=%d err=%v", result.StatusCode, result.Error)
	}

	var payload Payload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("payload is not valid json: %v", err)
	}
	if payload.ExecutionID != "execution-1" {
		t.Errorf("expected execution-1, got %s", payload.ExecutionID)
	}

	if got := gotHeaders.Get("X-Testdeck-Attempt-ID"); got != "attempt-1" {
		t.Errorf("expected attempt header, got %q", got)
	}
	if got := gotHeaders.Get("X-Testdeck-Execution-ID"); got != "execution-1" {
		t.Errorf("expected execution header, got %q", got)
	}

	signature := gotHeaders.Get("X-Testdeck-Signature")
	if !VerifySignature("s3cret", gotBody, signature) {
		t.Error("signature does not verify against the body")
	}
	if VerifySignature("wrong", gotBody, signature) {
		t.Error("signature verified with the wrong secret")
	}
}

func TestInvoke_ConnectionErrorIsRetryable(t *testing.T) {
	invoker := NewHTTPInvoker()
	result := invoker.Invoke(context.Background(), Request{
		URL:     "http://127.0.0.1:1", // nothing listens here
		Timeout: time.Second,
	})

	if result.Error == nil {
		t.Fatal("expected a connection error")
	}
	if !result.IsRetryable() {
		t.Error("connection errors must be retryable")
	}
}

func TestResult_Classification(t *testing.T) {
	cases := []struct {
		name      string
		result    Result
		success   bool
		retryable bool
	}{
		{"ok", Result{StatusCode: 200}, true, false},
		{"created", Result{StatusCode: 201}, true, false},
		{"bad request", Result{StatusCode: 400}, false, false},
		{"not found", Result{StatusCode: 404}, false, false},
		{"rate limited", Result{StatusCode: 429}, false, true},
		{"server error", Result{StatusCode: 500}, false, true},
		{"bad gateway", Result{StatusCode: 502}, false, true},
		{"transport error", Result{Error: io.EOF}, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.result.IsSuccess(); got != tc.success {
				t.Errorf("IsSuccess = %v, want %v", got, tc.success)
			}
			if got := tc.result.IsRetryable(); got != tc.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}

func TestInvoke_TimeoutAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	invoker := NewHTTPInvoker()
	result := invoker.Invoke(context.Background(), Request{
		URL:     srv.URL,
		Timeout: 20 * time.Millisecond,
	})

	if result.Error == nil {
		t.Fatal("expected timeout error")
	}
	if !result.IsRetryable() {
		t.Error("timeouts must be retryable")
	}
}
