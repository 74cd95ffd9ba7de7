package main

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/testdeck/testdeck/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

func productionConfig() config.Config {
	return config.Config{
		ReconcileEnabled:        true,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
		DispatcherWorkers:       4,
	}
}

func TestLogConfigWarnings_ProductionConfigSilent(t *testing.T) {
	output := captureLogOutput(productionConfig())

	if strings.Contains(output, "WARNING") {
		t.Error("did not expect any warnings, got:", output)
	}
	if strings.Contains(output, "INFO") {
		t.Error("did not expect any INFO messages, got:", output)
	}
}

func TestLogConfigWarnings_NoReconciler(t *testing.T) {
	cfg := productionConfig()
	cfg.ReconcileEnabled = false

	output := captureLogOutput(cfg)
	if !strings.Contains(output, "WARNING [P0]: RECONCILE_ENABLED=false") {
		t.Error("expected no-reconciler P0 warning, got:", output)
	}
}

func TestLogConfigWarnings_NoMetrics(t *testing.T) {
	cfg := productionConfig()
	cfg.MetricsEnabled = false

	output := captureLogOutput(cfg)
	if !strings.Contains(output, "WARNING [P1]: METRICS_ENABLED=false") {
		t.Error("expected no-metrics P1 warning, got:", output)
	}
}

func TestLogConfigWarnings_BreakerDisabled(t *testing.T) {
	cfg := productionConfig()
	cfg.CircuitBreakerThreshold = 0

	output := captureLogOutput(cfg)
	if !strings.Contains(output, "INFO: CIRCUIT_BREAKER_THRESHOLD=0") {
		t.Error("expected breaker-disabled INFO, got:", output)
	}
}

func TestLogConfigWarnings_SingleWorker(t *testing.T) {
	cfg := productionConfig()
	cfg.DispatcherWorkers = 1

	output := captureLogOutput(cfg)
	if !strings.Contains(output, "INFO: DISPATCHER_WORKERS=1") {
		t.Error("expected single-worker INFO, got:", output)
	}
}

func TestLogConfigWarnings_AllWarnings(t *testing.T) {
	cfg := config.Config{DispatcherWorkers: 1}
	output := captureLogOutput(cfg)

	expected := []string{
		"WARNING [P0]: RECONCILE_ENABLED=false",
		"WARNING [P1]: METRICS_ENABLED=false",
		"INFO: CIRCUIT_BREAKER_THRESHOLD=0",
		"INFO: DISPATCHER_WORKERS=1",
	}
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}
