package metrics

import (
	"errors"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		err        error
		want       string
	}{
		{"timeout error", 0, errors.New("context deadline exceeded"), StatusClassTimeout},
		{"client timeout", 0, errors.New("Client.Timeout exceeded while awaiting headers"), StatusClassTimeout},
		{"connection refused", 0, errors.New("dial tcp 127.0.0.1:9999: connect: connection refused"), StatusClassConnectionError},
		{"no such host", 0, errors.New("lookup runner.invalid: no such host"), StatusClassConnectionError},
		{"network unreachable", 0, errors.New("connect: network is unreachable"), StatusClassConnectionError},
		{"other error", 0, errors.New("unexpected EOF"), StatusClassOtherError},
		{"200 ok", 200, nil, StatusClass2xx},
		{"204 no content", 204, nil, StatusClass2xx},
		{"404 not found", 404, nil, StatusClass4xx},
		{"429 rate limited", 429, nil, StatusClass4xx},
		{"500 server error", 500, nil, StatusClass5xx},
		{"503 unavailable", 503, nil, StatusClass5xx},
		{"redirect unhandled", 302, nil, StatusClassOtherError},
		{"zero status no error", 0, nil, StatusClassOtherError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyStatus(tc.statusCode, tc.err)
			if got != tc.want {
				t.Errorf("ClassifyStatus(%d, %v) = %q, want %q", tc.statusCode, tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyStatus_ErrorTakesPrecedence(t *testing.T) {
	// When both an error and a status code are present the error wins;
	// the response never completed.
	got := ClassifyStatus(200, errors.New("read timeout"))
	if got != StatusClassTimeout {
		t.Errorf("expected timeout class, got %q", got)
	}
}
