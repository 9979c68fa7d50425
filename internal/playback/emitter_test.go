package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iabetor/lrcplay/internal/lyrics"
)

// recordingSink 记录收到的歌词。
type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
}

func (s *recordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// recordingSleep 只记录等待时长，不真正等待。
type recordingSleep struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) Sleeps() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.sleeps))
	copy(out, r.sleeps)
	return out
}

func TestEmit_SleepDurations(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		offset time.Duration
		want   []time.Duration
	}{
		{
			name: "相邻时间差",
			doc:  "[00:00.00]a\n[00:01.50]b\n[00:04.00]c",
			want: []time.Duration{0, 1500 * time.Millisecond, 2500 * time.Millisecond},
		},
		{
			name: "第一行从会话开始计时",
			doc:  "[00:02.00]a\n[00:03.00]b",
			want: []time.Duration{2 * time.Second, time.Second},
		},
		{
			name:   "正偏移只推迟第一行",
			doc:    "[00:01.00]a\n[00:02.00]b",
			offset: 500 * time.Millisecond,
			want:   []time.Duration{1500 * time.Millisecond, time.Second},
		},
		{
			name:   "负偏移不会产生负等待",
			doc:    "[00:00.50]a\n[00:02.00]b",
			offset: -time.Second,
			want:   []time.Duration{0, time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingSleep{}
			err := Emit(context.Background(), lyrics.Parse(tt.doc), &recordingSink{}, EmitOptions{
				Offset: tt.offset,
				Sleep:  rec.Sleep,
			})
			if err != nil {
				t.Fatalf("Emit 失败: %v", err)
			}
			got := rec.Sleeps()
			if len(got) != len(tt.want) {
				t.Fatalf("等待次数: got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("第 %d 次等待: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEmit_NeverNegativeSleep(t *testing.T) {
	// 直接构造乱序的映射，Track 会排序，但偏移叠加后仍可能倒退
	track := lyrics.NewTrack(map[float64]string{0.1: "a", 0.2: "b", 5: "c"})
	rec := &recordingSleep{}
	if err := Emit(context.Background(), track, &recordingSink{}, EmitOptions{Offset: -3 * time.Second, Sleep: rec.Sleep}); err != nil {
		t.Fatal(err)
	}
	for i, d := range rec.Sleeps() {
		if d < 0 {
			t.Errorf("第 %d 次等待为负数: %v", i, d)
		}
	}
}

func TestEmit_UnsortedInputEmitsInOrder(t *testing.T) {
	sink := &recordingSink{}
	rec := &recordingSleep{}
	if err := Emit(context.Background(), lyrics.Parse("[00:02.00]b\n[00:01.00]a"), sink, EmitOptions{Sleep: rec.Sleep}); err != nil {
		t.Fatal(err)
	}
	got := sink.Lines()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("输出顺序错误: %v", got)
	}
}

func TestEmit_EmptyTextUsesGlyph(t *testing.T) {
	tests := []struct {
		name  string
		glyph string
		want  string
	}{
		{"默认符号", "", DefaultNoteGlyph},
		{"自定义符号", "~", "~"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			rec := &recordingSleep{}
			err := Emit(context.Background(), lyrics.Parse("[00:00.00] \n[00:01.00]\t"), sink, EmitOptions{NoteGlyph: tt.glyph, Sleep: rec.Sleep})
			if err != nil {
				t.Fatal(err)
			}
			for _, line := range sink.Lines() {
				if line != tt.want {
					t.Errorf("空白行应输出 %q，得到 %q", tt.want, line)
				}
			}
			if len(sink.Lines()) != 2 {
				t.Errorf("应输出 2 行: %v", sink.Lines())
			}
		})
	}
}

func TestEmit_EmptyTrackNoSleep(t *testing.T) {
	for _, track := range []*lyrics.Track{nil, lyrics.Parse("")} {
		rec := &recordingSleep{}
		sink := &recordingSink{}
		if err := Emit(context.Background(), track, sink, EmitOptions{Sleep: rec.Sleep}); err != nil {
			t.Fatal(err)
		}
		if len(rec.Sleeps()) != 0 || len(sink.Lines()) != 0 {
			t.Errorf("空歌词不应等待或输出: sleeps=%v lines=%v", rec.Sleeps(), sink.Lines())
		}
	}
}

func TestEmit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	sleep := func(ctx context.Context, d time.Duration) error {
		if d > 0 {
			cancel()
		}
		return ctx.Err()
	}

	err := Emit(ctx, lyrics.Parse("[00:00.00]a\n[00:01.00]b\n[00:02.00]c"), sink, EmitOptions{Sleep: sleep})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，得到 %v", err)
	}
	if got := sink.Lines(); len(got) != 1 || got[0] != "a" {
		t.Errorf("取消后不应继续输出: %v", got)
	}
}

func TestSleep_RealTimer(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Sleep 返回过早")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("已取消的 ctx 应立即返回: %v", err)
	}
}

func TestSinkFunc(t *testing.T) {
	var got string
	SinkFunc(func(s string) { got = s }).Emit("hello")
	if got != "hello" {
		t.Errorf("SinkFunc: got %q", got)
	}
}
