package domain

import "time"

// FunctionConfig points a trigger at the external function endpoint that
// actually runs the test plan. The gateway signs requests with Secret.
type FunctionConfig struct {
	URL     string
	Secret  string // HMAC secret
	Timeout time.Duration
}
