package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/hajimehoshi/go-mp3"

	"github.com/iabetor/lrcplay/internal/logger"
)

// ErrClosed 表示播放器已经释放。
var ErrClosed = errors.New("播放器已关闭")

// FilePlayer 播放本地 MP3 文件。
//
// 一个 FilePlayer 只服务一次播放：Load → Play → 等待 Done → Close。
// Play 不阻塞，播放结束、出错或调用 Stop 后 Done 返回的 channel 会被关闭。
type FilePlayer struct {
	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	channels uint32

	file       *os.File
	decoder    *mp3.Decoder
	sampleRate int
	device     *malgo.Device
	cancel     context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
	err      error
	started  bool
	closed   bool
}

// NewFilePlayer 创建文件播放器。
// channels: 输出声道数，1 为单声道（立体声会被混合），2 为原样输出。
func NewFilePlayer(channels int) (*FilePlayer, error) {
	if channels != 1 && channels != 2 {
		channels = 1
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("初始化播放上下文失败: %w", err)
	}

	return &FilePlayer{
		ctx:      ctx,
		channels: uint32(channels),
		done:     make(chan struct{}),
	}, nil
}

// Load 打开音频文件并初始化解码器。
func (fp *FilePlayer) Load(path string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.closed {
		return ErrClosed
	}
	if fp.decoder != nil {
		return fmt.Errorf("已加载音频文件，不能重复加载")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("打开音频文件失败: %w", err)
	}
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("创建 MP3 解码器失败: %w", err)
	}

	fp.file = f
	fp.decoder = decoder
	fp.sampleRate = decoder.SampleRate()
	logger.Debugf("[audio] 已加载: %s, 采样率 %d Hz", path, fp.sampleRate)
	return nil
}

// Duration 返回已加载文件的时长，未加载时返回 0。
func (fp *FilePlayer) Duration() time.Duration {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.decoder == nil || fp.sampleRate == 0 {
		return 0
	}
	// go-mp3 输出 16 位立体声，每帧 4 字节
	frames := fp.decoder.Length() / 4
	return time.Duration(frames) * time.Second / time.Duration(fp.sampleRate)
}

// Play 启动播放设备后立即返回。
func (fp *FilePlayer) Play() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.closed {
		return ErrClosed
	}
	if fp.decoder == nil {
		return fmt.Errorf("尚未加载音频文件")
	}
	if fp.started {
		return fmt.Errorf("播放已开始")
	}

	decodeCtx, cancel := context.WithCancel(context.Background())
	fp.cancel = cancel

	chunkBytes := fp.sampleRate * int(fp.channels) * 2 * 2 // 约 2 秒
	chunks, errCh := decodeChunks(decodeCtx, fp.decoder, int(fp.channels), chunkBytes)

	go func() {
		if err, ok := <-errCh; ok && err != nil {
			logger.Warnf("[audio] 解码失败: %v", err)
			fp.finish(err)
		}
	}()

	var pcm []byte
	pos := 0

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = fp.channels
	deviceConfig.SampleRate = uint32(fp.sampleRate)
	deviceConfig.PeriodSizeInFrames = 4096
	deviceConfig.Periods = 4

	callbacks := malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, frameCount uint32) {
			totalBytes := int(frameCount) * int(fp.channels) * 2
			writePos := 0

			for writePos < totalBytes {
				if pos >= len(pcm) {
					chunk, ok := <-chunks
					if !ok {
						for i := writePos; i < totalBytes; i++ {
							outputSamples[i] = 0
						}
						fp.finish(nil)
						return
					}
					pcm = chunk
					pos = 0
				}

				end := pos + (totalBytes - writePos)
				if end > len(pcm) {
					end = len(pcm)
				}
				copied := copy(outputSamples[writePos:], pcm[pos:end])
				pos = end
				writePos += copied
			}
		},
	}

	device, err := malgo.InitDevice(fp.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		cancel()
		return fmt.Errorf("初始化播放设备失败: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		cancel()
		return fmt.Errorf("启动播放设备失败: %w", err)
	}

	fp.device = device
	fp.started = true
	logger.Debug("[audio] 开始播放")
	return nil
}

// Done 返回播放结束信号。
func (fp *FilePlayer) Done() <-chan struct{} {
	return fp.done
}

// Err 返回导致播放结束的错误，正常播完或被 Stop 时为 nil。
func (fp *FilePlayer) Err() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.err
}

// Stop 停止播放，可以重复调用。
func (fp *FilePlayer) Stop() {
	fp.mu.Lock()
	if fp.cancel != nil {
		fp.cancel()
	}
	fp.mu.Unlock()
	fp.finish(nil)
}

// Close 停止播放并释放设备、文件和播放上下文。
func (fp *FilePlayer) Close() {
	fp.Stop()

	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.closed {
		return
	}
	fp.closed = true

	if fp.device != nil {
		fp.device.Uninit()
		fp.device = nil
	}
	if fp.file != nil {
		fp.file.Close()
		fp.file = nil
	}
	if fp.ctx != nil {
		_ = fp.ctx.Uninit()
		fp.ctx.Free()
		fp.ctx = nil
	}
	logger.Debug("[audio] 播放器已释放")
}

// finish 记录结束原因并关闭 done，只有第一次调用生效。
// 会在设备回调里被调用，不能阻塞。
func (fp *FilePlayer) finish(err error) {
	fp.doneOnce.Do(func() {
		fp.mu.Lock()
		fp.err = err
		fp.mu.Unlock()
		close(fp.done)
	})
}

// decodeChunks 在后台把 MP3 解码成设备格式的 PCM 块。
// 解码结束或 ctx 取消时关闭 chunks；解码出错时错误写入 errCh。
func decodeChunks(ctx context.Context, r io.Reader, channels, chunkBytes int) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte, 5)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(chunks)

		buf := make([]byte, 16384)
		var pending []byte
		var rest []byte // 上次读取剩下的不完整帧

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			n, err := r.Read(buf)
			if n > 0 {
				data := append(rest, buf[:n]...)
				whole := len(data) - len(data)%4
				pending = append(pending, devicePCM(data[:whole], channels)...)
				rest = append([]byte(nil), data[whole:]...)
				for len(pending) >= chunkBytes {
					chunk := make([]byte, chunkBytes)
					copy(chunk, pending[:chunkBytes])
					pending = pending[chunkBytes:]
					select {
					case chunks <- chunk:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					if len(pending) > 0 {
						select {
						case chunks <- pending:
						case <-ctx.Done():
						}
					}
					return
				}
				errCh <- fmt.Errorf("读取音频数据失败: %w", err)
				return
			}
		}
	}()

	return chunks, errCh
}

// devicePCM 将 go-mp3 输出的 16 位立体声转换为设备需要的格式。
func devicePCM(raw []byte, channels int) []byte {
	if channels == 2 {
		out := make([]byte, len(raw)-len(raw)%4)
		copy(out, raw)
		return out
	}
	return mixStereo(raw)
}
