package server

import (
	"context"
	"net/http"
	"simbridge/internal/global"
	"simbridge/internal/metrics"
	"strings"
	"time"
)

// Handles metric search requests based on time for data
func handleData(baseCtx context.Context, search DataSearcher, serverResponder http.ResponseWriter, clientRequest *http.Request) {
	rawNamespace := strings.TrimPrefix(clientRequest.URL.Path, global.DataPath)
	reqNamespace := splitNamespace(rawNamespace)

	reqName := clientRequest.FormValue("name")

	reqStartTime, reqEndTime, err := parseTimeRange(clientRequest, time.Now())
	if err != nil {
		serverResponder.WriteHeader(http.StatusBadRequest)
		return
	}

	// Query internal metric registry
	rawResults := search(reqName, reqNamespace, reqStartTime, reqEndTime)

	var results []metrics.JMetric
	for _, rawResult := range rawResults {
		results = append(results, rawResult.Convert())
	}

	if len(results) == 0 {
		jResp(baseCtx, serverResponder, Jerror{Msg: "Search returned no results"})
	} else {
		jResp(baseCtx, serverResponder, results)
	}
}

// Path remainder to namespace, empty when no namespace given
func splitNamespace(rawNamespace string) (namespace []string) {
	rawNamespace = strings.Trim(rawNamespace, "/")
	if rawNamespace == "" {
		return
	}
	namespace = strings.Split(rawNamespace, "/")
	return
}
