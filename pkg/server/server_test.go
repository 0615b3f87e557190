package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/flux"
	"voicelink/pkg/logic/pipeline"
	"voicelink/pkg/server/connection"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSession struct {
	requests atomic.Int32
}

func (f *fakeSession) ID() string { return "conv-1" }

func (f *fakeSession) Stats() pipeline.Stats {
	return pipeline.Stats{ID: "conv-1", State: "ACTIVE", ChunksForwarded: 42}
}

func (f *fakeSession) RequestTermination() {
	f.requests.Add(1)
}

func TestServer_Health(t *testing.T) {
	srv := New(0, &fakeSession{})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_ConversationStats(t *testing.T) {
	srv := New(0, &fakeSession{})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversation", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats pipeline.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, "conv-1", stats.ID)
	assert.Equal(t, "ACTIVE", stats.State)
	assert.EqualValues(t, 42, stats.ChunksForwarded)
}

func TestServer_TerminateIsIdempotent(t *testing.T) {
	session := &fakeSession{}
	srv := New(0, session)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/conversation", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	}
	assert.EqualValues(t, 2, session.requests.Load())
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := New(0, &fakeSession{})
	addr, err := srv.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
}

func newWHIP(t *testing.T, onClose func()) (*Server, *WHIPServer) {
	t.Helper()

	factory, err := connection.NewWebRTCFactory(0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })

	source, err := flux.NewWebRTCSource(codec.Format{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)
	sink, err := flux.NewWebRTCSink()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = source.Release()
		_ = sink.Release()
	})

	whip := NewWHIPServer(factory, source, sink, onClose)
	srv := New(0, &fakeSession{})
	srv.EnableWHIP(whip)
	t.Cleanup(whip.Close)
	return srv, whip
}

func clientOffer(t *testing.T) string {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gather := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gather
	return pc.LocalDescription().SDP
}

func postOffer(srv *Server, sdp string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/whip", strings.NewReader(sdp))
	req.Header.Set("Content-Type", "application/sdp")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestWHIP_BadOffer(t *testing.T) {
	srv, _ := newWHIP(t, nil)

	w := postOffer(srv, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/whip", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWHIP_SinglePeer(t *testing.T) {
	var closed atomic.Int32
	srv, _ := newWHIP(t, func() { closed.Add(1) })

	w := postOffer(srv, clientOffer(t))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/sdp", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "m=audio")
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/whip/sessions/"))

	w = postOffer(srv, clientOffer(t))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/whip/sessions/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, location, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Eventually(t, func() bool { return closed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}
