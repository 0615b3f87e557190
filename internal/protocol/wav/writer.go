package wav

import (
	"fmt"
	"io"
	"os"
	"time"

	"voicelink/pkg/logic/codec"
)

// Writer 把音频块顺序写入 WAV 文件，Close 时回填长度字段
type Writer struct {
	ws       io.WriteSeeker
	format   codec.Format
	dataSize uint32
}

// NewWriter 写入占位文件头，音频块必须与 format 一致
func NewWriter(ws io.WriteSeeker, format codec.Format) (*Writer, error) {
	if err := newFmtChunk(format).validate(); err != nil {
		return nil, fmt.Errorf("invalid WAV format: %w", err)
	}
	if _, err := ws.Write(encodeHeader(format, 0)); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return &Writer{ws: ws, format: format}, nil
}

// Create 创建文件并返回写入器
func Create(filename string, format codec.Format) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	w, err := NewWriter(file, format)
	if err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// Write 追加一个音频块
func (w *Writer) Write(chunk *codec.AudioChunk) error {
	if chunk.Format() != w.format {
		return fmt.Errorf("%w: got %+v, file is %+v", ErrFormatMismatch, chunk.Format(), w.format)
	}
	if uint64(w.dataSize)+uint64(chunk.Len()) > maxDataSize {
		return ErrTooLarge
	}

	n, err := w.ws.Write(chunk.Payload())
	w.dataSize += uint32(n)
	if err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", chunk.Seq(), err)
	}
	return nil
}

// Duration 已写入音频的时长
func (w *Writer) Duration() time.Duration {
	return w.format.Duration(int(w.dataSize / 2))
}

// Close 回填文件头中的长度并关闭底层文件
func (w *Writer) Close() error {
	if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	if _, err := w.ws.Write(encodeHeader(w.format, w.dataSize)); err != nil {
		return fmt.Errorf("failed to update header: %w", err)
	}
	if closer, ok := w.ws.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
