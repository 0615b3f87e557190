package agent

import (
	"errors"
	"fmt"
	"time"

	"voicelink/internal/config"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/dumper"
	"voicelink/pkg/logic/flux"
)

// Devices 对话使用的输入输出设备。Source 和 Sink 都已经加了释放保护，
// 可以同时交给对话和轮询循环。
type Devices struct {
	Source *flux.GuardedSource
	Sink   *flux.GuardedSink

	// 选择 webrtc 后端时非空，由 WHIP 服务接入对端
	WebRTCSource *flux.WebRTCSource
	WebRTCSink   *flux.WebRTCSink
}

// OpenDevices 按配置打开设备。输出设备打开失败时已打开的输入设备会被释放。
func OpenDevices(cfg *config.Config) (*Devices, error) {
	d := &Devices{}

	source, err := d.openSource(cfg.Audio.Input, cfg.Audio.FrameDuration)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", cfg.Audio.Input.Backend, err)
	}
	d.Source = flux.GuardSource(source)

	sink, err := d.openSink(cfg.Audio.Output, cfg.Audio.FrameDuration)
	if err != nil {
		_ = d.Source.Release()
		return nil, fmt.Errorf("open output %s: %w", cfg.Audio.Output.Backend, err)
	}
	d.Sink = flux.GuardSink(sink)
	return d, nil
}

func deviceFormat(dc config.AudioDeviceConfig) codec.Format {
	return codec.Format{SampleRate: dc.SampleRate, Channels: dc.Channels}
}

func (d *Devices) openSource(dc config.AudioDeviceConfig, frameDuration time.Duration) (flux.Source, error) {
	switch dc.Backend {
	case config.BackendPortAudio:
		return flux.NewPortAudioSource(dc.Device, deviceFormat(dc), frameDuration)
	case config.BackendFile:
		return flux.NewFileAudioSource(dc.Path, frameDuration)
	case config.BackendWebRTC:
		src, err := flux.NewWebRTCSource(deviceFormat(dc))
		if err != nil {
			return nil, err
		}
		d.WebRTCSource = src
		return src, nil
	case config.BackendNull:
		return flux.NewNullSource(deviceFormat(dc)), nil
	default:
		return nil, fmt.Errorf("unknown input backend %q", dc.Backend)
	}
}

func (d *Devices) openSink(dc config.AudioDeviceConfig, frameDuration time.Duration) (flux.Sink, error) {
	switch dc.Backend {
	case config.BackendPortAudio:
		return flux.NewPortAudioSink(dc.Device, deviceFormat(dc), frameDuration)
	case config.BackendWAV:
		return dumper.NewWAVDumper(dc.Path, deviceFormat(dc))
	case config.BackendPCM:
		return dumper.NewPCMDumper(dc.Path, deviceFormat(dc))
	case config.BackendOgg:
		return dumper.NewOggDumper(dc.Path, dc.Channels)
	case config.BackendWebRTC:
		sink, err := flux.NewWebRTCSink()
		if err != nil {
			return nil, err
		}
		d.WebRTCSink = sink
		return sink, nil
	case config.BackendNull:
		return flux.NewNullSink(deviceFormat(dc)), nil
	default:
		return nil, fmt.Errorf("unknown output backend %q", dc.Backend)
	}
}

// Release 释放两个设备，可以重复调用
func (d *Devices) Release() error {
	return errors.Join(d.Source.Release(), d.Sink.Release())
}
