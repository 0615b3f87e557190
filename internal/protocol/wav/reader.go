package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"voicelink/pkg/logic/codec"
)

// Reader 读取 WAV 文件的 data 块，跳过 LIST 等其他块
type Reader struct {
	rs         io.ReadSeeker
	format     codec.Format
	dataOffset int64
	dataSize   uint32
}

// NewReader 解析文件头并定位到 data 块开头
func NewReader(rs io.ReadSeeker) (*Reader, error) {
	r := &Reader{rs: rs}
	if err := r.parse(); err != nil {
		return nil, fmt.Errorf("failed to parse WAV file: %w", err)
	}
	return r, nil
}

func (r *Reader) parse() error {
	var riff [12]byte
	if _, err := io.ReadFull(r.rs, riff[:]); err != nil {
		return fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return fmt.Errorf("not a RIFF/WAVE file")
	}

	var fc fmtChunk
	foundFmt, foundData := false, false
	for !foundFmt || !foundData {
		var hdr [8]byte
		if _, err := io.ReadFull(r.rs, hdr[:]); err != nil {
			return fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])
		// 块按偶数字节对齐
		skip := int64(size) + int64(size&1)

		switch id {
		case "fmt ":
			if size < fmtChunkSize {
				return fmt.Errorf("fmt chunk too short: %d", size)
			}
			if err := binary.Read(r.rs, binary.LittleEndian, &fc); err != nil {
				return fmt.Errorf("failed to read format chunk: %w", err)
			}
			skip -= fmtChunkSize
			foundFmt = true
		case "data":
			offset, err := r.rs.Seek(0, io.SeekCurrent)
			if err != nil {
				return fmt.Errorf("failed to get data offset: %w", err)
			}
			r.dataOffset = offset
			r.dataSize = size
			foundData = true
		}

		if !foundFmt || !foundData {
			if _, err := r.rs.Seek(skip, io.SeekCurrent); err != nil {
				return fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}

	if err := fc.validate(); err != nil {
		return fmt.Errorf("invalid WAV format: %w", err)
	}
	r.format = fc.format()

	if _, err := r.rs.Seek(r.dataOffset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to data start: %w", err)
	}
	return nil
}

// ReadSamples 读取最多 len(samples) 个采样点，data 块读完时返回 io.EOF
func (r *Reader) ReadSamples(samples []int16) (int, error) {
	pos, err := r.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("failed to get read position: %w", err)
	}
	left := r.dataOffset + int64(r.dataSize) - pos
	if left <= 0 {
		return 0, io.EOF
	}

	want := int64(len(samples) * 2)
	if want > left {
		want = left
	}

	raw := make([]byte, want)
	n, err := io.ReadFull(r.rs, raw)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("failed to read samples: %w", err)
	}

	read := n / 2
	for i := 0; i < read; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	if n == 0 || int64(n) >= left {
		return read, io.EOF
	}
	return read, nil
}

// Format 文件的采样率和声道数
func (r *Reader) Format() codec.Format {
	return r.format
}

// Duration data 块对应的时长
func (r *Reader) Duration() time.Duration {
	return r.format.Duration(int(r.dataSize / 2))
}

// Close 关闭底层文件
func (r *Reader) Close() error {
	if closer, ok := r.rs.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
