package audio

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestDevicePCM(t *testing.T) {
	// 两帧立体声 + 2 个多余字节
	raw := []byte{0x00, 0x40, 0x00, 0x40, 0x00, 0xC0, 0x00, 0xC0, 0x01, 0x02}

	tests := []struct {
		name     string
		channels int
		wantLen  int
	}{
		{"单声道混合", 1, 4},
		{"立体声原样输出并丢弃不完整帧", 2, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := devicePCM(raw, tt.channels)
			if len(out) != tt.wantLen {
				t.Fatalf("长度: got %d, want %d", len(out), tt.wantLen)
			}
			if tt.channels == 2 && !bytes.Equal(out, raw[:8]) {
				t.Errorf("立体声应原样输出: %v", out)
			}
			if tt.channels == 1 && !bytes.Equal(out, []byte{0x00, 0x40, 0x00, 0xC0}) {
				t.Errorf("单声道混合结果错误: %v", out)
			}
		})
	}
}

func TestDecodeChunks(t *testing.T) {
	raw := make([]byte, 4*100) // 100 帧立体声静音
	chunks, errCh := decodeChunks(context.Background(), bytes.NewReader(raw), 2, 160)

	total := 0
	n := 0
	for c := range chunks {
		total += len(c)
		n++
	}
	if total != len(raw) {
		t.Errorf("总字节数: got %d, want %d", total, len(raw))
	}
	if n != 3 {
		t.Errorf("块数: got %d, want 3 (160+160+80)", n)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Errorf("不应有错误: %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) { return 0, errors.New("磁盘错误") }

func TestDecodeChunks_Error(t *testing.T) {
	chunks, errCh := decodeChunks(context.Background(), failingReader{}, 1, 1024)
	for range chunks {
	}
	err, ok := <-errCh
	if !ok || err == nil {
		t.Fatal("读取失败时应返回错误")
	}
}

// blockingReader 每次返回少量数据，永不结束。
type blockingReader struct{}

func (blockingReader) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return copy(p, make([]byte, 64)), nil
}

func TestDecodeChunks_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chunks, _ := decodeChunks(ctx, blockingReader{}, 2, 1<<20)
	cancel()

	select {
	case _, ok := <-chunks:
		for ok {
			_, ok = <-chunks
		}
	case <-time.After(2 * time.Second):
		t.Fatal("取消后解码 goroutine 应退出")
	}
}
