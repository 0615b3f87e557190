package stt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/resampler"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const deepgramKeepAliveInterval = 5 * time.Second

// DeepgramConfig Deepgram 流式识别配置
type DeepgramConfig struct {
	APIKey      string
	URL         string // wss://api.deepgram.com/v1/listen
	Model       string
	Language    string
	Endpointing int // 静音多少毫秒后给出 speech_final
	SampleRate  int
}

// deepgramResult 是 Results 消息中用到的字段
type deepgramResult struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

type deepgramControl struct {
	Type string `json:"type"`
}

// Deepgram 通过 websocket 把 PCM16 音频发送给 Deepgram，返回带标点的识别结果
type Deepgram struct {
	name   string
	cfg    DeepgramConfig
	format codec.Format
	dialer *websocket.Dialer

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	converter *resampler.Converter
	stream    *transcriptStream
	stopCh    chan struct{}
	stopping  bool
	wg        sync.WaitGroup
}

func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.URL == "" {
		cfg.URL = "wss://api.deepgram.com/v1/listen"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Deepgram{
		name:   "DeepgramASR",
		cfg:    cfg,
		format: codec.Format{SampleRate: cfg.SampleRate, Channels: 1},
		dialer: websocket.DefaultDialer,
		stream: newTranscriptStream(256),
	}
}

func (d *Deepgram) Name() string {
	return d.name
}

func (d *Deepgram) buildURL() (string, error) {
	base, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", err
	}
	q := base.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.format.SampleRate))
	q.Set("channels", strconv.Itoa(d.format.Channels))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	if d.cfg.Model != "" {
		q.Set("model", d.cfg.Model)
	}
	if d.cfg.Language != "" {
		q.Set("language", d.cfg.Language)
	}
	if d.cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(d.cfg.Endpointing))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// Start 建立 websocket 连接，阻塞到连接建立或 ctx 结束
func (d *Deepgram) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return ErrAlreadyStarted
	}

	wsURL, err := d.buildURL()
	if err != nil {
		return fmt.Errorf("failed to build Deepgram URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, _, err := d.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	d.conn = conn
	d.converter = resampler.NewConverter(d.format)
	d.stopCh = make(chan struct{})

	d.wg.Add(2)
	go d.readLoop(conn)
	go d.keepAlive(conn, d.stopCh)

	logger.Info("Start component: %s (model=%s, language=%s)", d.name, d.cfg.Model, d.cfg.Language)
	return nil
}

func (d *Deepgram) readLoop(conn *websocket.Conn) {
	defer d.wg.Done()
	defer d.stream.close()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			d.mu.Lock()
			stopping := d.stopping
			d.mu.Unlock()
			if !stopping {
				logger.Error("**%s** connection closed unexpectedly: %v", d.name, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var result deepgramResult
		if err := sonic.Unmarshal(message, &result); err != nil {
			logger.Warn("**%s** failed to decode message: %v", d.name, err)
			continue
		}
		if result.Type != "Results" || len(result.Channel.Alternatives) == 0 {
			continue
		}

		text := result.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}
		if result.IsFinal {
			logger.Info("**%s** Sentence end: text=%s speech_final=%v", d.name, text, result.SpeechFinal)
		}
		d.stream.emit(Transcript{Text: text, Final: result.IsFinal, At: time.Now()})
	}
}

// keepAlive 没有音频时保持连接
func (d *Deepgram) keepAlive(conn *websocket.Conn, stopCh chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(deepgramKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := d.writeControl(conn, "KeepAlive"); err != nil {
				logger.Debug("**%s** keepalive failed: %v", d.name, err)
			}
		}
	}
}

func (d *Deepgram) writeControl(conn *websocket.Conn, msgType string) error {
	msg, err := sonic.Marshal(deepgramControl{Type: msgType})
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (d *Deepgram) Consume(chunk *codec.AudioChunk) error {
	d.mu.Lock()
	conn := d.conn
	if conn == nil {
		d.mu.Unlock()
		return ErrNotStarted
	}
	samples, err := d.converter.Convert(chunk)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	if len(samples) == 0 {
		return nil
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, codec.SamplesToBytes(samples)); err != nil {
		return fmt.Errorf("%s: write audio: %w", d.name, err)
	}
	return nil
}

func (d *Deepgram) Transcripts() <-chan Transcript {
	return d.stream.C()
}

// Stop 发送 CloseStream，等服务端返回剩余结果后关闭连接
func (d *Deepgram) Stop() error {
	d.mu.Lock()
	conn := d.conn
	if conn == nil || d.stopping {
		d.mu.Unlock()
		if conn == nil {
			d.stream.close()
		}
		return nil
	}
	d.stopping = true
	close(d.stopCh)
	d.mu.Unlock()

	if err := d.writeControl(conn, "CloseStream"); err != nil {
		logger.Debug("**%s** CloseStream failed: %v", d.name, err)
	}

	// 服务端处理完 CloseStream 后会关闭连接，超时后主动关闭
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	if err := conn.Close(); err != nil {
		logger.Debug("**%s** close connection: %v", d.name, err)
	}
	<-done

	d.mu.Lock()
	d.converter.Close()
	d.mu.Unlock()
	logger.Info("Stopped component: %s", d.name)
	return nil
}
