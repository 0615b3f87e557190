package codec

import "time"

// EncodedFrame 是一帧编码后的音频（Opus），Timestamp 以采样点为单位
type EncodedFrame struct {
	payload   []byte
	timestamp uint32
	duration  time.Duration
}

func NewEncodedFrame(payload []byte, timestamp uint32, duration time.Duration) *EncodedFrame {
	return &EncodedFrame{
		payload:   payload,
		timestamp: timestamp,
		duration:  duration,
	}
}

func (f *EncodedFrame) Payload() []byte {
	return f.payload
}

func (f *EncodedFrame) Timestamp() uint32 {
	return f.timestamp
}

func (f *EncodedFrame) Duration() time.Duration {
	return f.duration
}
