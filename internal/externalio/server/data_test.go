package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"simbridge/internal/global"
	"simbridge/internal/metrics"
	"strings"
	"testing"
	"time"
)

// Decodes either a result list or a JSON error
func decodeResults(t *testing.T, body []byte) (results []metrics.JMetric, errMsg string) {
	t.Helper()
	if strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		var je Jerror
		if err := json.Unmarshal(body, &je); err != nil {
			t.Fatalf("failed decoding JSON error %q: %v", body, err)
		}
		errMsg = je.Msg
		return
	}
	if err := json.Unmarshal(body, &results); err != nil {
		t.Fatalf("failed decoding results %q: %v", body, err)
	}
	return
}

func TestHandleData_BridgeNamespaces(t *testing.T) {
	registry := bridgeRegistry(time.Now())
	ctx := context.Background()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCount  int
		wantNS     string
	}{
		{"every controller", "Bridge/Controller/?name=cycles", http.StatusOK, 4, ""},
		{"one controller", "Bridge/Controller/plc1?name=cycles", http.StatusOK, 2, "Bridge/Controller/plc1"},
		{"queue under broker prefix", "Bridge/Broker?name=depth", http.StatusOK, 2, "Bridge/Broker/WriteRequests/Queue"},
		{"relative start skips older round", "Bridge/Broker?name=dispatched&starttime=-15s", http.StatusOK, 1, "Bridge/Broker"},
		{"absolute start", "Bridge/Controller/plc2?name=cycles&starttime=2001-01-02T01:02:03.001Z", http.StatusOK, 2, "Bridge/Controller/plc2"},
		{"unknown metric", "Bridge/Broker?name=late_enqueues", http.StatusOK, 0, ""},
		{"controller outside window", "Bridge/Controller/?name=cycles&endtime=2001-01-02T01:02:03.001Z&starttime=2001-01-01T01:02:03.001Z", http.StatusOK, 0, ""},
		{"invalid start", "?starttime=badtime", http.StatusBadRequest, 0, ""},
		{"start in the future", "?starttime=+15m", http.StatusBadRequest, 0, ""},
		{"invalid end", "?endtime=+2y", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, global.DataPath+tt.path, nil)

			handleData(ctx, registry.Search, rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status=%d want=%d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			results, errMsg := decodeResults(t, rr.Body.Bytes())
			if len(results) != tt.wantCount {
				t.Fatalf("expected %d results, got %d (error %q)", tt.wantCount, len(results), errMsg)
			}
			if tt.wantCount == 0 && errMsg == "" {
				t.Fatalf("expected JSON error for empty result")
			}
			for _, result := range results {
				if tt.wantNS != "" && result.Namespace != tt.wantNS {
					t.Fatalf("expected namespace %q, got %q", tt.wantNS, result.Namespace)
				}
			}
		})
	}
}

func TestHandleAggregation_BridgeNamespaces(t *testing.T) {
	registry := bridgeRegistry(time.Now())
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		wantRaw string
		wantErr bool
	}{
		{"cycles summed over controllers", "Bridge/Controller/?name=cycles&aggregation=sum", "1970", false},
		{"peak queue depth", "Bridge/Broker/WriteRequests/Queue?name=depth&aggregation=max", "4", false},
		{"average dispatch", "Bridge/Broker?name=dispatched&aggregation=avg", "4", false},
		{"lowest cycle count", "Bridge/Controller/plc2?name=cycles&aggregation=min", "480", false},
		{"unknown aggregation", "Bridge/Broker?name=dispatched&aggregation=median", "", true},
		{"unknown metric", "Bridge/Broker?name=relayed&aggregation=sum", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, global.AggregationPath+tt.path, nil)

			handleAggregation(ctx, registry.Aggregate, rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("status=%d want=%d", rr.Code, http.StatusOK)
			}
			if tt.wantErr {
				var je Jerror
				if err := json.NewDecoder(rr.Body).Decode(&je); err != nil || je.Msg == "" {
					t.Fatalf("expected JSON error, got %q (%v)", rr.Body.String(), err)
				}
				return
			}

			var result metrics.JMetric
			if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
				t.Fatalf("failed decoding aggregate: %v", err)
			}
			if result.Value.Raw != tt.wantRaw {
				t.Fatalf("expected raw %q, got %q", tt.wantRaw, result.Value.Raw)
			}
			if result.Type != string(metrics.Summary) {
				t.Fatalf("expected summary type, got %q", result.Type)
			}
		})
	}
}

func TestListener_ServesRegistry(t *testing.T) {
	registry := bridgeRegistry(time.Now())

	server, err := SetupListener(context.Background(), global.HTTPListenPort, Sources{
		Search:      registry.Search,
		Discover:    registry.Discover,
		Aggregation: registry.Aggregate,
		Latest:      registry.Latest,
	})
	if err != nil {
		t.Fatalf("SetupListener error: %v", err)
	}
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + global.DataPath + "Bridge/Controller/plc1?name=cycle_time_avg")
	if err != nil {
		t.Fatalf("data request failed: %v", err)
	}
	var results []metrics.JMetric
	err = json.NewDecoder(resp.Body).Decode(&results)
	resp.Body.Close()
	if err != nil || len(results) != 2 || results[0].Value.Unit != "ns" {
		t.Fatalf("unexpected data response %+v (%v)", results, err)
	}

	// Exposition carries only the newest round
	resp, err = http.Get(ts.URL + global.PrometheusPath)
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("reading exposition: %v", err)
	}
	body := buf.String()
	for _, want := range []string{
		"simbridge_bridge_broker_dispatched",
		"simbridge_bridge_broker_writerequests_queue_depth",
		"simbridge_bridge_controller_plc1_cycles",
		"simbridge_bridge_controller_plc2_cycles",
		"simbridge_bridge_controller_plc2_cycles{type=\"counter\",unit=\"count\"} 490",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}
