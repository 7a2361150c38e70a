package domain

import (
	"sort"
	"strings"
)

// Codec identifies an output codec a node can encode
type Codec string

const (
	CodecAAC     Codec = "AAC"
	CodecAPE     Codec = "APE"
	CodecDTS     Codec = "DTS"
	CodecFLAC    Codec = "FLAC"
	CodecH264    Codec = "H264"
	CodecH265    Codec = "H265"
	CodecOpus    Codec = "OPUS"
	CodecSpeex   Codec = "SPEEX"
	CodecTheora  Codec = "THEORA"
	CodecVorbis  Codec = "VORBIS"
	CodecVP8     Codec = "VP8"
	CodecVP9     Codec = "VP9"
	CodecWavpack Codec = "WAVPACK"
)

// CodecInfo describes how a codec is produced by the encoder.
type CodecInfo struct {
	ID        Codec    `json:"id"`
	Name      string   `json:"name"`
	Kind      TaskKind `json:"kind"`
	Encoder   string   `json:"encoder"`
	Container string   `json:"container"`
	Lossless  bool     `json:"lossless"`
}

type codecFactory func() CodecInfo

func videoCodec(id Codec, name, encoder, container string) codecFactory {
	return func() CodecInfo {
		return CodecInfo{ID: id, Name: name, Kind: TaskKindVideo, Encoder: encoder, Container: container}
	}
}

func audioCodec(id Codec, name, encoder, container string, lossless bool) codecFactory {
	return func() CodecInfo {
		return CodecInfo{ID: id, Name: name, Kind: TaskKindAudio, Encoder: encoder, Container: container, Lossless: lossless}
	}
}

var codecFactories = map[Codec]codecFactory{
	CodecH264:    videoCodec(CodecH264, "H.264/AVC", "libx264", "mkv"),
	CodecH265:    videoCodec(CodecH265, "H.265/HEVC", "libx265", "mkv"),
	CodecTheora:  videoCodec(CodecTheora, "Theora", "libtheora", "ogg"),
	CodecVP8:     videoCodec(CodecVP8, "VP8", "libvpx", "webm"),
	CodecVP9:     videoCodec(CodecVP9, "VP9", "libvpx-vp9", "webm"),
	CodecAAC:     audioCodec(CodecAAC, "AAC", "aac", "m4a", false),
	CodecAPE:     audioCodec(CodecAPE, "Monkey's Audio", "ape", "ape", true),
	CodecDTS:     audioCodec(CodecDTS, "DTS", "dca", "dts", false),
	CodecFLAC:    audioCodec(CodecFLAC, "FLAC", "flac", "flac", true),
	CodecOpus:    audioCodec(CodecOpus, "Opus", "libopus", "ogg", false),
	CodecSpeex:   audioCodec(CodecSpeex, "Speex", "libspeex", "ogg", false),
	CodecVorbis:  audioCodec(CodecVorbis, "Vorbis", "libvorbis", "ogg", false),
	CodecWavpack: audioCodec(CodecWavpack, "WavPack", "wavpack", "wv", true),
}

// LookupCodec resolves a codec id, case-insensitively.
func LookupCodec(id Codec) (CodecInfo, bool) {
	f, ok := codecFactories[Codec(strings.ToUpper(string(id)))]
	if !ok {
		return CodecInfo{}, false
	}
	return f(), true
}

// ParseCodecs turns a comma separated list into known codecs, skipping
// unknown names.
func ParseCodecs(list string) []Codec {
	var out []Codec
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if info, ok := LookupCodec(Codec(part)); ok {
			out = append(out, info.ID)
		}
	}
	return out
}

// AllCodecs lists every registered codec.
func AllCodecs() []Codec {
	out := make([]Codec, 0, len(codecFactories))
	for id := range codecFactories {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
