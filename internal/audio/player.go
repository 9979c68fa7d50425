package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/iabetor/lrcplay/internal/logger"
)

// Player 播放内存中的单声道样本，用于歌曲开始前的语音播报。
// 与 FilePlayer 不同，Player 可以重复使用，每次 Play 创建一个新的设备。
type Player struct {
	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	channels uint32
	closed   bool
}

// NewPlayer 创建播报播放器。channels 为 2 时单声道样本会复制到左右声道。
func NewPlayer(channels int) (*Player, error) {
	if channels != 1 && channels != 2 {
		channels = 1
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("初始化播放上下文失败: %w", err)
	}
	return &Player{ctx: ctx, channels: uint32(channels)}, nil
}

// Play 播放 samples，阻塞到播放完成或 ctx 取消。
func (p *Player) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	actx := p.ctx
	p.mu.Unlock()

	feed := newPCMFeeder(Float32ToPCM16(samples), int(p.channels))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = p.channels
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInFrames = 512
	deviceConfig.Periods = 2

	device, err := malgo.InitDevice(actx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			feed.fill(out[:int(frameCount)*int(p.channels)*2])
		},
	})
	if err != nil {
		return fmt.Errorf("初始化播放设备失败: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("启动播放设备失败: %w", err)
	}
	defer device.Stop()

	select {
	case <-ctx.Done():
		logger.Debug("[audio] 播报被取消")
		return ctx.Err()
	case <-feed.done:
		logger.Debug("[audio] 播报完成")
		return nil
	}
}

// Close 释放播放上下文。
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}

// pcmFeeder 在设备回调中按需提供 16 位单声道 PCM，数据用完后输出静音并关闭 done。
type pcmFeeder struct {
	pcm      []byte
	pos      int
	channels int
	done     chan struct{}
	once     sync.Once
}

func newPCMFeeder(pcm []byte, channels int) *pcmFeeder {
	return &pcmFeeder{pcm: pcm, channels: channels, done: make(chan struct{})}
}

// fill 写满 out。立体声时每个样本写两次。
func (f *pcmFeeder) fill(out []byte) {
	step := 2 * f.channels
	i := 0
	for ; i+step <= len(out) && f.pos+2 <= len(f.pcm); i += step {
		for c := 0; c < f.channels; c++ {
			out[i+2*c] = f.pcm[f.pos]
			out[i+2*c+1] = f.pcm[f.pos+1]
		}
		f.pos += 2
	}
	for ; i < len(out); i++ {
		out[i] = 0
	}
	if f.pos+2 > len(f.pcm) {
		f.once.Do(func() { close(f.done) })
	}
}
