package flux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/resampler"

	"github.com/gordonklaus/portaudio"
)

var (
	paMu   sync.Mutex
	paRefs int
)

// acquirePortAudio 引用计数地初始化 PortAudio，输入输出设备共享同一次初始化
func acquirePortAudio() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio initialize: %w", err)
		}
	}
	paRefs++
	return nil
}

func releasePortAudio() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		return nil
	}
	paRefs--
	if paRefs == 0 {
		return portaudio.Terminate()
	}
	return nil
}

// findDevice 按名字查找设备，name 为空时返回默认设备
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if input && d.MaxInputChannels > 0 || !input && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("audio device %q not found", name)
}

// PortAudioSource 麦克风输入
type PortAudioSource struct {
	name          string
	device        string
	format        codec.Format
	frameDuration time.Duration
	stream        *portaudio.Stream
	buf           []int16
	queue         *chunkQueue
	seq           uint64
	startOnce     sync.Once
	stopOnce      sync.Once
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewPortAudioSource 打开输入设备，采集在第一次 TryRead 时开始
func NewPortAudioSource(device string, format codec.Format, frameDuration time.Duration) (*PortAudioSource, error) {
	if frameDuration <= 0 {
		frameDuration = 20 * time.Millisecond
	}
	if err := acquirePortAudio(); err != nil {
		return nil, err
	}

	info, err := findDevice(device, true)
	if err != nil {
		releasePortAudio()
		return nil, err
	}

	s := &PortAudioSource{
		name:          "PortAudioSource",
		device:        info.Name,
		format:        format,
		frameDuration: frameDuration,
		buf:           make([]int16, format.SamplesPerFrame(frameDuration)),
		stopCh:        make(chan struct{}),
	}
	s.queue = newChunkQueue(s.name, defaultQueueSize)

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = len(s.buf) / format.Channels

	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		releasePortAudio()
		return nil, fmt.Errorf("error opening input stream on %q: %w", info.Name, err)
	}
	s.stream = stream
	return s, nil
}

func (s *PortAudioSource) Name() string {
	return s.name
}

func (s *PortAudioSource) Format() codec.Format {
	return s.format
}

func (s *PortAudioSource) TryRead() (*codec.AudioChunk, bool) {
	s.startOnce.Do(func() {
		if err := s.stream.Start(); err != nil {
			logger.Error("**%s** Failed to start input stream: %v", s.name, err)
			return
		}
		logger.Info("Start component: %s (%s)", s.name, s.device)
		s.wg.Add(1)
		go s.captureLoop()
	})
	return s.queue.tryPop()
}

func (s *PortAudioSource) captureLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			// 输入溢出时丢掉这一帧，继续采集
			logger.Warn("**%s** Error reading from stream: %v", s.name, err)
			continue
		}
		s.queue.push(codec.NewAudioChunkFromSamples(s.buf, s.seq, time.Now(), s.format))
		s.seq++
	}
}

func (s *PortAudioSource) Release() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		// Stop 让阻塞中的 Read 返回
		if stopErr := s.stream.Stop(); stopErr != nil {
			logger.Debug("**%s** stop stream: %v", s.name, stopErr)
		}
		s.wg.Wait()
		err = s.stream.Close()
		if termErr := releasePortAudio(); err == nil {
			err = termErr
		}
		logger.Info("Released component: %s", s.name)
	})
	return err
}

// PortAudioSink 扬声器输出
type PortAudioSink struct {
	name       string
	device     string
	format     codec.Format
	stream     *portaudio.Stream
	buf        []int16
	mu         sync.Mutex
	converter  *resampler.Converter
	generation atomic.Uint64
	releaseMu  sync.Once
}

func NewPortAudioSink(device string, format codec.Format, frameDuration time.Duration) (*PortAudioSink, error) {
	if frameDuration <= 0 {
		frameDuration = 20 * time.Millisecond
	}
	if err := acquirePortAudio(); err != nil {
		return nil, err
	}

	info, err := findDevice(device, false)
	if err != nil {
		releasePortAudio()
		return nil, err
	}

	s := &PortAudioSink{
		name:      "PortAudioSink",
		device:    info.Name,
		format:    format,
		buf:       make([]int16, format.SamplesPerFrame(frameDuration)),
		converter: resampler.NewConverter(format),
	}

	params := portaudio.LowLatencyParameters(nil, info)
	params.Output.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = len(s.buf) / format.Channels

	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		releasePortAudio()
		return nil, fmt.Errorf("error opening output stream on %q: %w", info.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		releasePortAudio()
		return nil, fmt.Errorf("error starting output stream on %q: %w", info.Name, err)
	}
	s.stream = stream
	logger.Info("Start component: %s (%s)", s.name, s.device)
	return s, nil
}

func (s *PortAudioSink) Name() string {
	return s.name
}

func (s *PortAudioSink) Format() codec.Format {
	return s.format
}

// Write 按帧阻塞写入设备，Clear 之后尚未写出的部分被丢弃
func (s *PortAudioSink) Write(ctx context.Context, chunk *codec.AudioChunk) error {
	gen := s.generation.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	samples, err := s.converter.Convert(chunk)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}

	for off := 0; off < len(samples); off += len(s.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.generation.Load() != gen {
			return nil
		}
		n := copy(s.buf, samples[off:])
		for i := n; i < len(s.buf); i++ {
			s.buf[i] = 0
		}
		if err := s.stream.Write(); err != nil {
			// 输出欠载不影响后续帧
			logger.Debug("**%s** write stream: %v", s.name, err)
		}
	}
	return nil
}

func (s *PortAudioSink) Clear() error {
	s.generation.Add(1)
	s.mu.Lock()
	s.converter.Reset()
	s.mu.Unlock()
	return nil
}

func (s *PortAudioSink) Release() error {
	var err error
	s.releaseMu.Do(func() {
		s.generation.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stream.Stop()
		err = s.stream.Close()
		s.converter.Close()
		if termErr := releasePortAudio(); err == nil {
			err = termErr
		}
		logger.Info("Released component: %s", s.name)
	})
	return err
}
