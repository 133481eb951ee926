package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/report"
)

func sampleRows() []report.Row {
	diff := 1e-7
	return []report.Row{
		{Case: "test_nn_Linear", Module: "Linear", Device: "cpu", Outcome: "passed", MaxAbsDiff: &diff, Duration: time.Millisecond},
		{Case: "test_nn_GELU", Module: "GELU", Device: "cpu", Outcome: "expected_failure", Message: "forward output differs"},
		{Case: "test_nn_Tanh", Module: "Tanh", Device: "cpu", Outcome: "failed", Message: "gradient differs"},
	}
}

func TestServer_Full(t *testing.T) {
	store := newReportStore()
	srv := NewServer(store)
	mux := srv.routes()

	t.Run("Health Check", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/health", nil)
		rr := httptest.NewRecorder()

		mux.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})

	t.Run("Ingest Arrow Report", func(t *testing.T) {
		rec := report.Build(memory.NewGoAllocator(), sampleRows())
		require.NotNil(t, rec)
		defer rec.Release()
		var buf bytes.Buffer
		require.NoError(t, report.WriteIPC(&buf, rec))

		req, _ := http.NewRequest("POST", "/report/arrow", &buf)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Collected 3 rows", rr.Body.String())
		assert.Len(t, store.Snapshot(), 3)
	})

	t.Run("Reject Bad Arrow Body", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/report/arrow", bytes.NewReader([]byte("not arrow")))
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Get Report", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/report", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/cbor", rr.Header().Get("Content-Type"))
		var resp reportResponse
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Summary.Total)
		assert.Equal(t, []string{"test_nn_Tanh"}, resp.Summary.Failing)
		require.Len(t, resp.Rows, 3)
		require.NotNil(t, resp.Rows[0].MaxAbsDiff)
		assert.InDelta(t, 1e-7, *resp.Rows[0].MaxAbsDiff, 1e-12)
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		for _, tc := range []struct{ method, path string }{
			{"POST", "/report"},
			{"GET", "/report/arrow"},
		} {
			req, _ := http.NewRequest(tc.method, tc.path, nil)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, tc.path)
		}
	})
}

func TestFlightSinkCollectsPushedReports(t *testing.T) {
	store := newReportStore()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewParityFlightServer(store))
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	defer server.Shutdown()

	prevServer, prevReport := *serverAddr, *reportPath
	defer func() { *serverAddr, *reportPath = prevServer, prevReport }()
	*serverAddr = server.Addr().String()
	*reportPath = filepath.Join(t.TempDir(), "report.arrow")

	require.NoError(t, deliver(context.Background(), sampleRows()))

	got := store.Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, "test_nn_GELU", got[1].Case)
	assert.FileExists(t, *reportPath)
}

func TestDeliverNothing(t *testing.T) {
	prev := *serverAddr
	defer func() { *serverAddr = prev }()
	*serverAddr = "127.0.0.1:1"
	assert.NoError(t, deliver(context.Background(), nil))
}

func TestSetupRegistersDefaultTable(t *testing.T) {
	prev := *devicesFlag
	defer func() { *devicesFlag = prev }()
	*devicesFlag = "cpu, cuda"

	suite, err := setup()
	require.NoError(t, err)
	defer suite.Close()

	var cuda int
	for _, v := range suite.Variants() {
		if v.Device == "cuda" {
			cuda++
			assert.NotEmpty(t, v.SkipReason, v.CaseName())
		}
	}
	assert.Positive(t, cuda)
	assert.Contains(t, suite.Source(), "func Linear_test_forward_backward() error")
}

func TestMatcher(t *testing.T) {
	m, err := matcher("")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = matcher("Linear$")
	require.NoError(t, err)
	assert.True(t, m("test_nn_Linear"))
	assert.False(t, m("test_nn_Linear_no_bias"))

	_, err = matcher("(")
	assert.Error(t, err)

	assert.Equal(t, []string{"cpu", "cuda:0"}, splitDevices(" cpu,,cuda:0 "))
}
