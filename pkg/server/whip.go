package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/flux"
	"voicelink/pkg/server/connection"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// WHIPServer 接入一个浏览器对端作为对话的输入输出设备。
// 设备属于同一个对话，所以同一时间只接受一个对端。
type WHIPServer struct {
	factory *connection.WebRTCFactory
	source  *flux.WebRTCSource
	sink    *flux.WebRTCSink
	onClose func()

	mu   sync.Mutex
	conn *connection.WebRTCConnection
}

// NewWHIPServer 创建 WHIP 服务。onClose 在对端断开时调用，可以为 nil。
func NewWHIPServer(factory *connection.WebRTCFactory, source *flux.WebRTCSource, sink *flux.WebRTCSink, onClose func()) *WHIPServer {
	return &WHIPServer{
		factory: factory,
		source:  source,
		sink:    sink,
		onClose: onClose,
	}
}

// HandleWHIP 处理 WHIP 请求。请求体可以是 application/sdp，也可以是 JSON 形式的 SessionDescription。
func (s *WHIPServer) HandleWHIP(c *gin.Context) {
	offer, rawSDP, err := parseOffer(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse offer"})
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "a peer is already connected"})
		return
	}
	conn, err := s.factory.CreateConnection(s.source, s.sink)
	if err != nil {
		s.mu.Unlock()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.conn = conn
	s.mu.Unlock()

	answer, err := conn.Answer(offer)
	if err != nil {
		logger.Error("WHIP negotiation failed: %v", err)
		s.drop(conn)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	go s.watch(conn)

	logger.Info("WHIP session %s established", conn.ID())
	c.Header("Location", fmt.Sprintf("/whip/sessions/%s", conn.ID()))
	if rawSDP {
		c.Data(http.StatusCreated, "application/sdp", []byte(answer.SDP))
		return
	}
	c.JSON(http.StatusCreated, answer)
}

// HandleDelete 对端主动结束会话
func (s *WHIPServer) HandleDelete(c *gin.Context) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || conn.ID() != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	conn.Stop()
	c.Status(http.StatusOK)
}

// Close 断开当前对端
func (s *WHIPServer) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Stop()
	}
}

// watch 对端断开后通知对话结束
func (s *WHIPServer) watch(conn *connection.WebRTCConnection) {
	<-conn.Done()
	logger.Info("WHIP session %s closed", conn.ID())
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *WHIPServer) drop(conn *connection.WebRTCConnection) {
	conn.Stop()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

func parseOffer(c *gin.Context) (webrtc.SessionDescription, bool, error) {
	if strings.HasPrefix(c.ContentType(), "application/sdp") {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return webrtc.SessionDescription{}, true, err
		}
		if len(body) == 0 {
			return webrtc.SessionDescription{}, true, fmt.Errorf("empty offer")
		}
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(body)}, true, nil
	}

	var offer webrtc.SessionDescription
	if err := c.ShouldBindJSON(&offer); err != nil {
		return offer, false, err
	}
	if offer.SDP == "" {
		return offer, false, fmt.Errorf("empty offer")
	}
	return offer, false, nil
}
