package flux

import (
	"errors"
	"io"
	"sync"
	"time"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/resampler"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// readRTPFunc 读取下一个 RTP 包，音轨结束时返回 io.EOF
type readRTPFunc func() (*rtp.Packet, error)

// WebRTCSource 把远端音轨的 opus 包解码为目标格式的 PCM 音频块
type WebRTCSource struct {
	name      string
	format    codec.Format
	mu        sync.Mutex
	attached  bool
	decoder   *codec.OpusDecoder
	converter *resampler.Converter
	queue     *chunkQueue
	seq       uint64
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewWebRTCSource 创建一个新的 WebRTC 音频源，音轨到达后调用 SetTrack
func NewWebRTCSource(format codec.Format) (*WebRTCSource, error) {
	decoder, err := codec.NewOpusDecoder(48000, 1)
	if err != nil {
		return nil, err
	}
	s := &WebRTCSource{
		name:      "WebRTCSource",
		format:    format,
		decoder:   decoder,
		converter: resampler.NewConverter(format),
		stopCh:    make(chan struct{}),
	}
	s.queue = newChunkQueue(s.name, defaultQueueSize)
	return s, nil
}

func (s *WebRTCSource) Name() string {
	return s.name
}

func (s *WebRTCSource) Format() codec.Format {
	return s.format
}

// SetTrack 设置远程音轨并开始读取，只接受第一条音轨
func (s *WebRTCSource) SetTrack(track *webrtc.TrackRemote) {
	s.attach(track.ID(), track.Codec().MimeType, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
}

func (s *WebRTCSource) attach(id, mimeType string, read readRTPFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCh:
		return
	default:
	}
	if s.attached {
		logger.Warn("**%s** ignoring extra track %s", s.name, id)
		return
	}
	s.attached = true

	logger.Info("Started src component **%s** codec=%s", s.name, mimeType)
	s.wg.Add(1)
	go s.readLoop(read)
}

// readLoop 独占 decoder 和 converter，退出时关闭 converter
func (s *WebRTCSource) readLoop(read readRTPFunc) {
	defer s.wg.Done()
	defer s.closeCodec()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		rtpPacket, err := read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("**%s** remote track ended", s.name)
				return
			}
			logger.Warn("**%s** Failed to read RTP packet: %v", s.name, err)
			continue
		}

		pcm, err := s.decoder.Decode(rtpPacket.Payload)
		if err != nil {
			logger.Warn("**%s** Failed to decode opus packet seq=%d: %v", s.name, rtpPacket.SequenceNumber, err)
			continue
		}
		if len(pcm) == 0 {
			continue
		}

		samples, err := s.converter.ConvertSamples(pcm, s.decoder.Format())
		if err != nil {
			logger.Warn("**%s** Failed to convert audio: %v", s.name, err)
			continue
		}
		if len(samples) == 0 {
			continue
		}

		s.queue.push(codec.NewAudioChunkFromSamples(samples, s.seq, time.Now(), s.format))
		s.seq++
	}
}

// closeCodec 释放 soxr 重采样器，opus 解码器的内存由 GC 回收
func (s *WebRTCSource) closeCodec() {
	if err := s.converter.Close(); err != nil {
		logger.Warn("**%s** Failed to close resampler: %v", s.name, err)
	}
	s.converter = nil
	s.decoder = nil
}

func (s *WebRTCSource) TryRead() (*codec.AudioChunk, bool) {
	return s.queue.tryPop()
}

// Release 停止读取。ReadRTP 在连接关闭前可能一直阻塞，所以这里不等待读取协程，
// 协程退出时自己关闭 converter。
func (s *WebRTCSource) Release() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stopCh)
		attached := s.attached
		s.mu.Unlock()
		if !attached {
			s.closeCodec()
		}
		logger.Info("Released component: %s", s.name)
	})
	return nil
}
