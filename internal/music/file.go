package music

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tcolgate/mp3"
)

const maxFilenameRunes = 120

// SafeFilename 把视频标题转换为可用的文件名（不含扩展名）。
// 去掉路径分隔符和各平台不允许的字符，标题为空时使用 fallback。
func SafeFilename(title, fallback string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, title)
	name = strings.Trim(strings.TrimSpace(name), ".")

	if utf8.RuneCountInString(name) > maxFilenameRunes {
		name = string([]rune(name)[:maxFilenameRunes])
		name = strings.TrimSpace(name)
	}
	if name == "" {
		name = fallback
	}
	return name
}

// AssetFilename 返回下载音频的文件名：<标题> [<视频ID>].mp3。
// 同名的不同视频（翻唱、重新上传）因此不会写到同一个文件。
func AssetFilename(title, videoID string) string {
	return SafeFilename(title, videoID) + " [" + videoID + "].mp3"
}

// ProbeDuration 逐帧扫描 MP3 文件计算时长，不需要完整解码。
func ProbeDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var duration time.Duration
	frames := 0

	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if err == io.EOF {
				break
			}
			if frames > 0 {
				// 文件尾部有垃圾数据时，使用已统计的时长
				break
			}
			return 0, fmt.Errorf("解析 MP3 帧失败: %w", err)
		}
		duration += frame.Duration()
		frames++
	}
	if frames == 0 {
		return 0, fmt.Errorf("没有找到 MP3 帧")
	}
	return duration, nil
}
