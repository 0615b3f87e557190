package connection

import (
	"fmt"
	"net"
	"sync"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/flux"

	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// WebRTCFactory 创建共享同一个 UDP 端口的 WebRTC 连接
type WebRTCFactory struct {
	api          *webrtc.API
	webrtcConfig webrtc.Configuration
	udpConn      *net.UDPConn
	udpMux       ice.UDPMux
}

// NewWebRTCFactory 在 udpPort 上监听媒体流，publicIPs 非空时作为对外公布的 host 候选地址
func NewWebRTCFactory(udpPort int, publicIPs []string) (*WebRTCFactory, error) {
	// 1. 创建 UDP 监听器
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{
		IP:   net.IPv4(0, 0, 0, 0),
		Port: udpPort,
	})
	if err != nil {
		return nil, fmt.Errorf("listen udp %d: %w", udpPort, err)
	}
	logger.Info("Listening for media on UDP %s", udpConn.LocalAddr())

	// 2. 创建 UDP Mux，所有连接复用同一个端口
	udpMux := webrtc.NewICEUDPMux(nil, udpConn)

	// 3. 配置 SettingEngine
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetICEUDPMux(udpMux)
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	if len(publicIPs) > 0 {
		settingEngine.SetNAT1To1IPs(publicIPs, webrtc.ICECandidateTypeHost)
	}

	return &WebRTCFactory{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		webrtcConfig: webrtc.Configuration{
			ICEServers:         []webrtc.ICEServer{},
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
			BundlePolicy:       webrtc.BundlePolicyMaxBundle,
			RTCPMuxPolicy:      webrtc.RTCPMuxPolicyRequire,
		},
		udpConn: udpConn,
		udpMux:  udpMux,
	}, nil
}

// LocalAddr 媒体监听地址
func (f *WebRTCFactory) LocalAddr() net.Addr {
	return f.udpConn.LocalAddr()
}

// Close 关闭 UDP 监听
func (f *WebRTCFactory) Close() error {
	return f.udpMux.Close()
}

var _ Connection = (*WebRTCConnection)(nil)

// WebRTCConnection 一个浏览器对端。远端音轨交给 source，sink 写入本地音轨。
type WebRTCConnection struct {
	id              string
	peerConnection  *webrtc.PeerConnection
	localAudioTrack *webrtc.TrackLocalStaticSample
	source          *flux.WebRTCSource
	sink            *flux.WebRTCSink
	stopOnce        sync.Once
	stopCh          chan struct{}
}

// CreateConnection 创建一个双向音频连接
func (f *WebRTCFactory) CreateConnection(source *flux.WebRTCSource, sink *flux.WebRTCSink) (*WebRTCConnection, error) {
	peerConnection, err := f.api.NewPeerConnection(f.webrtcConfig)
	if err != nil {
		return nil, err
	}

	conn := &WebRTCConnection{
		id:             uuid.NewString(),
		peerConnection: peerConnection,
		source:         source,
		sink:           sink,
		stopCh:         make(chan struct{}),
	}

	// 添加音频收发器
	transceiver, err := peerConnection.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		_ = peerConnection.Close()
		return nil, err
	}

	track, ok := transceiver.Sender().Track().(*webrtc.TrackLocalStaticSample)
	if !ok {
		_ = peerConnection.Close()
		return nil, fmt.Errorf("unexpected local track type %T", transceiver.Sender().Track())
	}
	conn.localAudioTrack = track
	sink.SetTrack(track)

	peerConnection.OnTrack(func(remoteTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if remoteTrack.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logger.Info("[%s] Remote audio track %s codec=%s", conn.id, remoteTrack.ID(), remoteTrack.Codec().MimeType)
		source.SetTrack(remoteTrack)
	})

	conn.setupCallbacks()
	return conn, nil
}

func (c *WebRTCConnection) setupCallbacks() {
	c.peerConnection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Info("[%s] ICE Connection State changed: %s", c.id, state.String())
	})

	c.peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("[%s] Connection State changed: %s", c.id, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			go c.Stop()
		}
	})

	c.peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			logger.Debug("[%s] Local ICE candidate: %s", c.id, candidate.String())
		}
	})
}

func (c *WebRTCConnection) ID() string {
	return c.id
}

func (c *WebRTCConnection) Done() <-chan struct{} {
	return c.stopCh
}

// Answer 应用远端 offer 并返回收集完候选地址的 answer
func (c *WebRTCConnection) Answer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.peerConnection.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := c.peerConnection.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.peerConnection)
	if err = c.peerConnection.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	// 等待 ICE 候选者收集完成
	select {
	case <-gatherComplete:
	case <-c.stopCh:
		return nil, fmt.Errorf("connection %s stopped", c.id)
	}

	return c.peerConnection.LocalDescription(), nil
}

// Stop 关闭对端连接。音频设备由对话负责释放。
func (c *WebRTCConnection) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if err := c.peerConnection.Close(); err != nil {
			logger.Warn("[%s] Failed to close peer connection: %v", c.id, err)
		}
		logger.Info("[%s] WebRTC connection stopped", c.id)
	})
}
