// function-receiver is a local endpoint for exercising trigger invocations.
// It records every request, optionally verifies the HMAC signature, and
// always answers 200 so retries can be observed from the sender side.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type request struct {
	Timestamp string            `json:"timestamp"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Signature string            `json:"signature_check,omitempty"` // ok, mismatch, unsigned
}

type stats struct {
	Count        int64     `json:"count"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	lastRequests []request
	since        time.Time
	maxStored    = 50
	secret       string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("SECRET")

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/run", runHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("function-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func runHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := request{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   headers,
		Body:      string(body),
		Signature: checkSignature(r.Header.Get("X-Testdeck-Signature"), body),
	}

	mu.Lock()
	count++
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("run received #%d (signature=%s): %s", current, req.Signature, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

// checkSignature verifies the hex HMAC-SHA256 of the body when SECRET is set.
func checkSignature(signature string, body []byte) string {
	if secret == "" {
		return ""
	}
	if signature == "" {
		return "unsigned"
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if hmac.Equal([]byte(signature), []byte(expected)) {
		return "ok"
	}
	return "mismatch"
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
