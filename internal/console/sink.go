// Package console 提供终端上的歌词输出。
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// clearLine 回到行首并清除整行。
const clearLine = "\r\033[K"

// LineSink 每句歌词单独打印一行。
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
	c  *color.Color
}

// NewLineSink 创建逐行输出。useColor 为 false 时输出纯文本，适合重定向到文件。
func NewLineSink(w io.Writer, useColor bool) *LineSink {
	return &LineSink{w: w, c: newColor(useColor, color.FgCyan)}
}

// Emit 打印一句歌词。
func (s *LineSink) Emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Fprintln(s.w, text)
}

// LabelSink 在同一行上刷新当前歌词，效果类似界面上的标签。
type LabelSink struct {
	mu      sync.Mutex
	w       io.Writer
	c       *color.Color
	written bool
}

// NewLabelSink 创建单行刷新输出。
func NewLabelSink(w io.Writer, useColor bool) *LabelSink {
	return &LabelSink{w: w, c: newColor(useColor, color.FgHiYellow, color.Bold)}
}

// Emit 用 text 替换当前行的内容。
func (s *LabelSink) Emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 换行会破坏单行刷新
	text = strings.ReplaceAll(text, "\n", " ")
	fmt.Fprint(s.w, clearLine)
	s.c.Fprint(s.w, text)
	s.written = true
}

// Finish 结束当前行，之后的输出从新行开始。
func (s *LabelSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written {
		fmt.Fprintln(s.w)
		s.written = false
	}
}

// Status 打印一条提示信息（搜索进度、播放结束等），与歌词的颜色区分开。
func Status(w io.Writer, useColor bool, format string, args ...interface{}) {
	newColor(useColor, color.FgHiBlack).Fprintf(w, format+"\n", args...)
}

// Errorf 打印一条错误信息。
func Errorf(w io.Writer, useColor bool, format string, args ...interface{}) {
	newColor(useColor, color.FgRed).Fprintf(w, format+"\n", args...)
}

func newColor(enabled bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}
