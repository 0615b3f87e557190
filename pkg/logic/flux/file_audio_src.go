package flux

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"voicelink/internal/protocol/wav"
	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
)

// FileAudioSource 从 WAV 文件读取音频，按帧时长实时节拍产出。
// 文件读完后持续产出静音帧，让下游的静音断句照常工作。
type FileAudioSource struct {
	name          string
	filePath      string
	frameDuration time.Duration
	file          *os.File
	reader        *wav.Reader
	format        codec.Format
	queue         *chunkQueue
	seq           uint64
	eof           atomic.Bool
	startOnce     sync.Once
	stopOnce      sync.Once
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewFileAudioSource 打开 WAV 文件并校验格式，读取在第一次 TryRead 时开始
func NewFileAudioSource(filePath string, frameDuration time.Duration) (*FileAudioSource, error) {
	if frameDuration <= 0 {
		frameDuration = 20 * time.Millisecond
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader, err := wav.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create WAV reader: %w", err)
	}

	s := &FileAudioSource{
		name:          "FileAudioSource",
		filePath:      filePath,
		frameDuration: frameDuration,
		file:          file,
		reader:        reader,
		format:        reader.Format(),
		stopCh:        make(chan struct{}),
	}
	s.queue = newChunkQueue(s.name, defaultQueueSize)
	return s, nil
}

func (s *FileAudioSource) Name() string {
	return s.name
}

func (s *FileAudioSource) Format() codec.Format {
	return s.format
}

// Exhausted 文件是否已经读完
func (s *FileAudioSource) Exhausted() bool {
	return s.eof.Load()
}

func (s *FileAudioSource) TryRead() (*codec.AudioChunk, bool) {
	s.startOnce.Do(func() {
		logger.Info("Start component: %s (%s, %dHz, %dch)", s.name, s.filePath, s.format.SampleRate, s.format.Channels)
		s.wg.Add(1)
		go s.readLoop()
	})
	return s.queue.tryPop()
}

// readLoop 循环读取音频数据
func (s *FileAudioSource) readLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.frameDuration)
	defer ticker.Stop()

	pcmBuf := make([]int16, s.format.SamplesPerFrame(s.frameDuration))
	for {
		n := 0
		if !s.eof.Load() {
			var err error
			n, err = s.reader.ReadSamples(pcmBuf)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Error("**%s** Failed to read WAV data: %v", s.name, err)
				}
				s.eof.Store(true)
				logger.Info("**%s** reached end of %s, emitting silence", s.name, s.filePath)
			}
		}

		// 如果读取的数据不足一帧，用静音填充
		for i := n; i < len(pcmBuf); i++ {
			pcmBuf[i] = 0
		}

		s.queue.push(codec.NewAudioChunkFromSamples(pcmBuf, s.seq, time.Now(), s.format))
		s.seq++

		// 控制发送速度，模拟实时音频流
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (s *FileAudioSource) Release() error {
	var err error
	s.stopOnce.Do(func() {
		// 占用 startOnce：正在启动的 readLoop 先完成 wg.Add，之后的 TryRead 不再启动
		s.startOnce.Do(func() {})
		close(s.stopCh)
		s.wg.Wait()
		err = s.file.Close()
		logger.Info("Released component: %s", s.name)
	})
	return err
}
