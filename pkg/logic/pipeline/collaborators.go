package pipeline

import (
	"context"

	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/stt"
)

// collaborator 是对话依次启动、逆序停止的组件
type collaborator interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// Transcriber 语音识别。Consume 不应长时间阻塞，识别结果从 Transcripts 读取，
// Stop 之后该通道被关闭。
type Transcriber interface {
	collaborator
	Consume(chunk *codec.AudioChunk) error
	Transcripts() <-chan stt.Transcript
}

// Agent 对话代理，根据用户的一句话生成回复
type Agent interface {
	collaborator
	InitialMessage() string
	Respond(ctx context.Context, text string) (string, error)
}

// Synthesizer 语音合成，Speak 把音频写入构造时指定的输出设备
type Synthesizer interface {
	collaborator
	Speak(ctx context.Context, text string) error
}
