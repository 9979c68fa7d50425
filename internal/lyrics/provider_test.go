package lyrics

import "testing"

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name   string
		author string
		title  string
		want   Query
	}{
		{
			name:   "Topic 频道",
			author: "周杰伦 - Topic",
			title:  "晴天",
			want:   Query{Artist: "周杰伦", Track: "晴天"},
		},
		{
			name:   "VEVO 频道加官方视频后缀",
			author: "RickAstleyVEVO",
			title:  "Rick Astley - Never Gonna Give You Up (Official Video)",
			want:   Query{Artist: "Rick Astley", Track: "Never Gonna Give You Up"},
		},
		{
			name:   "中文括号修饰",
			author: "某上传者",
			title:  "邓紫棋 - 光年之外【歌词】",
			want:   Query{Artist: "邓紫棋", Track: "光年之外"},
		},
		{
			name:   "方括号 MV",
			author: "Uploader",
			title:  "Adele - Hello [MV]",
			want:   Query{Artist: "Adele", Track: "Hello"},
		},
		{
			name:   "保留非修饰括号",
			author: "Coldplay",
			title:  "Fix You (Live)",
			want:   Query{Artist: "Coldplay", Track: "Fix You (Live)"},
		},
		{
			name:   "连字符后为空时不拆分",
			author: "Someone",
			title:  "Title - ",
			want:   Query{Artist: "Someone", Track: "Title -"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeQuery(tt.author, tt.title)
			if got != tt.want {
				t.Errorf("NormalizeQuery(%q, %q) = %+v, want %+v", tt.author, tt.title, got, tt.want)
			}
		})
	}
}
