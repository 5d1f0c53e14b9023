// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sidecarprobe/pkg/logging"
)

func TestMetricsRouter_Healthz(t *testing.T) {
	router := NewMetricsRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsServer_StartShutdown(t *testing.T) {
	m, err := StartMetricsServer("127.0.0.1:0", logging.Discard())
	require.NoError(t, err)

	resp, err := http.Get("http://" + m.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")
	assert.NoError(t, m.Shutdown())
}

func TestStartMetricsServer_BadAddress(t *testing.T) {
	_, err := StartMetricsServer("203.0.113.250:0", logging.Discard())
	assert.Error(t, err)
}
