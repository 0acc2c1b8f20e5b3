package db

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPoolStats_JSONShape(t *testing.T) {
	stats := &PoolStats{
		TotalConns:      10,
		IdleConns:       5,
		AcquiredConns:   5,
		MaxConns:        20,
		AcquireCount:    100,
		AcquireDuration: "1.5s",
		Healthy:         true,
	}

	data, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_duration", "healthy"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("expected key %q in pool stats payload", key)
		}
	}
}

func TestReadinessPayload_ErrorOnlyWhenUnhealthy(t *testing.T) {
	body := readiness{Status: "healthy", Pool: &PoolStats{Healthy: true}}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"error"`) {
		t.Errorf("healthy payload should omit error, got %s", data)
	}

	body.Status = "unhealthy"
	body.Error = "dial tcp 127.0.0.1:5432: connection refused"
	data, err = json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "connection refused") {
		t.Errorf("unhealthy payload should carry the error, got %s", data)
	}
}
