package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToPCM16 把 [-1, 1] 范围的样本转换为 16 位小端 PCM，超出范围的值被钳位。
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = max(-1, min(1, s))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// PCM16ToFloat32 把 16 位小端 PCM 转换为 [-1, 1] 范围的样本，多余的单个字节被忽略。
func PCM16ToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[2*i:]))) / math.MaxInt16
	}
	return out
}

// mixStereo 把 16 位立体声 PCM 混合为单声道，左右声道取平均。
// go-mp3 的输出固定为 16 位立体声，不完整的尾帧被丢弃。
func mixStereo(raw []byte) []byte {
	frames := len(raw) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int32(int16(binary.LittleEndian.Uint16(raw[4*i:])))
		r := int32(int16(binary.LittleEndian.Uint16(raw[4*i+2:])))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16((l+r)/2)))
	}
	return out
}
