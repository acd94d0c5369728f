package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/export"
	"github.com/danmuck/busmirror/internal/receiver"
	"github.com/danmuck/busmirror/internal/sink"
	"github.com/danmuck/busmirror/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

const canFrameHex = "01 05 000000000000 00000000 000c 000a e1 02 03 00000123 02 aabb"

func wire(t *testing.T) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(canFrameHex, " ", ""))
	if err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return b
}

func newTestServer(deps Deps) *Server {
	return New("bmird-test", "127.0.0.1:0", nil, deps, zerolog.Nop())
}

func do(s *Server, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)

	ready := false
	s := newTestServer(Deps{Ready: func() bool { return ready }})

	if rr := do(s, http.MethodGet, "/health", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rr.Code)
	}
	if rr := do(s, http.MethodGet, "/ready", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected ready 503 before start, got %d", rr.Code)
	}
	ready = true
	rr := do(s, http.MethodGet, "/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ready 200, got %d", rr.Code)
	}
	testlog.Logf("api/http: GET /ready status=%d", rr.Code)

	if rr := do(s, http.MethodGet, "/metrics", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rr.Code)
	}
}

func TestDecodeRawAndHexBodies(t *testing.T) {
	testlog.Start(t)

	s := newTestServer(Deps{})
	raw := wire(t)

	rr := do(s, http.MethodPost, "/decode", "application/octet-stream", raw)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var view export.FrameView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.SequenceNumber != 5 || len(view.Items) != 1 || view.Items[0].FrameID.ID != 0x123 {
		t.Fatalf("unexpected view: %+v", view)
	}

	body, _ := json.Marshal(map[string]string{"hex": hex.EncodeToString(raw)})
	rr = do(s, http.MethodPost, "/decode", "application/json", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for hex body, got %d body=%s", rr.Code, rr.Body.String())
	}
	testlog.Logf("api/http: POST /decode status=%d", rr.Code)
}

func TestDecodeErrorsReportKind(t *testing.T) {
	testlog.Start(t)

	s := newTestServer(Deps{})
	raw := wire(t)

	cases := []struct {
		name string
		body []byte
		kind string
	}{
		{"short header", raw[:5], "truncated_header"},
		{"short item", raw[:len(raw)-1], "truncated_data_item"},
	}
	for _, tc := range cases {
		rr := do(s, http.MethodPost, "/decode", "application/octet-stream", tc.body)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", tc.name, rr.Code)
		}
		var resp map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode body: %v", tc.name, err)
		}
		if resp["kind"] != tc.kind {
			t.Fatalf("%s: expected kind %q, got %#v", tc.name, tc.kind, resp)
		}
	}

	rr := do(s, http.MethodPost, "/decode", "application/json", []byte(`{"hex":"zz"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad hex, got %d", rr.Code)
	}
}

func TestDecodeEmptyBodyIsNotAnError(t *testing.T) {
	testlog.Start(t)

	s := newTestServer(Deps{})
	for _, tc := range []struct {
		name        string
		contentType string
		body        []byte
	}{
		{"raw", "application/octet-stream", nil},
		{"hex", "application/json", []byte(`{"hex":""}`)},
	} {
		rr := do(s, http.MethodPost, "/decode", tc.contentType, tc.body)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 for empty input, got %d body=%s", tc.name, rr.Code, rr.Body.String())
		}
		var resp map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode body: %v", tc.name, err)
		}
		if resp["empty"] != true {
			t.Fatalf("%s: expected empty=true, got %#v", tc.name, resp)
		}
		if _, ok := resp["kind"]; ok {
			t.Fatalf("%s: expected no error kind, got %#v", tc.name, resp)
		}
	}
}

func TestDecodeBestEffortReturnsPartialFrame(t *testing.T) {
	testlog.Start(t)

	s := newTestServer(Deps{Decoder: busmirror.NewDecoder(busmirror.Options{BestEffort: true})})
	raw := append(wire(t), 0x00, 0x01, 0x21)
	rr := do(s, http.MethodPost, "/decode", "application/octet-stream", raw)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var resp struct {
		Kind  string            `json:"kind"`
		Item  int               `json:"item"`
		Frame *export.FrameView `json:"frame"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Kind != "truncated_data_item" || resp.Item != 1 || resp.Frame == nil || len(resp.Frame.Items) != 1 {
		t.Fatalf("unexpected partial response: %s", rr.Body.String())
	}
}

func TestStatsAndRecentFrames(t *testing.T) {
	testlog.Start(t)

	recent := sink.NewRecent(4)
	for seq := uint8(1); seq <= 3; seq++ {
		_ = recent.Handle(context.Background(), sink.Event{
			Source:   "udp",
			Received: time.Unix(int64(seq), 0),
			Frame:    &busmirror.Frame{Header: busmirror.Header{SequenceNumber: seq}, Items: []busmirror.DataItem{}},
		})
	}
	s := newTestServer(Deps{
		Stats:  func() receiver.Stats { return receiver.Stats{Datagrams: 3, Frames: 3} },
		Recent: recent,
	})

	rr := do(s, http.MethodGet, "/stats", "", nil)
	var stats receiver.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil || stats.Datagrams != 3 {
		t.Fatalf("unexpected stats: %s err=%v", rr.Body.String(), err)
	}

	rr = do(s, http.MethodGet, "/frames/recent?limit=2", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Total  uint64             `json:"total"`
		Frames []export.FrameView `json:"frames"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 3 || len(body.Frames) != 2 || body.Frames[0].SequenceNumber != 2 {
		t.Fatalf("unexpected recent frames: %+v", body)
	}

	if rr := do(s, http.MethodGet, "/frames/recent?limit=x", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
	if rr := do(s, http.MethodGet, "/frames/stream", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected stream route to be absent, got %d", rr.Code)
	}
}
