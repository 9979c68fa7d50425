package lyrics

import (
	"regexp"
	"strconv"
	"strings"
)

// linePattern 匹配 "[mm:ss.xx]歌词"。秒必须带小数部分，
// 所以 "[ar:歌手]"、"[00:12]" 之类的行都不会匹配。
var linePattern = regexp.MustCompile(`^\[(\d+):(\d+\.\d+)\](.*)`)

// Parse 将 LRC 文本解析为 Track。
//
// 不匹配的行（空行、元数据、格式错误）直接跳过，不会报错；
// 同一时间偏移出现多次时，后出现的行覆盖前面的。
func Parse(document string) *Track {
	lines := make(map[float64]string)

	for _, raw := range strings.Split(document, "\n") {
		raw = strings.TrimSuffix(raw, "\r")
		offset, text, ok := parseLine(raw)
		if !ok {
			continue
		}
		lines[offset] = text
	}

	t := &Track{lines: lines}
	t.seal()
	return t
}

// parseLine 解析单行歌词，返回时间偏移（秒）和去掉首尾空白的文本。
func parseLine(line string) (float64, string, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}

	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	seconds, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, "", false
	}

	return float64(minutes)*60 + seconds, strings.TrimSpace(m[3]), true
}
