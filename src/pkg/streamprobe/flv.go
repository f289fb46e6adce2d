package streamprobe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

const (
	flvTagAudio  uint8 = 8
	flvTagVideo  uint8 = 9
	flvTagScript uint8 = 18

	flvHeaderSize    = 9
	flvTagHeaderSize = 15 // PreviousTagSize(4) + TagHeader(11)
	flvMaxTagSize    = 4 << 20

	// 视频 CodecID（第一个字节低 4 位）
	flvCodecAVC  uint8 = 7
	flvCodecHEVC uint8 = 12 // 非标准扩展

	flvAVCSeqHeader uint8 = 0

	flvFrameTypeCommand uint8 = 5

	// Enhanced FLV
	flvExPacketSequenceStart uint8 = 0

	hevcNALTypeSPS = 33

	defaultMaxTags = 64
)

var (
	// ErrNotFLV 数据不是 FLV
	ErrNotFLV = errors.New("不是有效的 FLV 格式")
	// ErrTagTooLarge tag 长度异常
	ErrTagTooLarge = errors.New("FLV tag 过大")
)

var flvAudioCodecs = map[uint8]string{
	0:  "pcm",
	1:  "adpcm",
	2:  "mp3",
	3:  "pcm_s16le",
	7:  "pcm_alaw",
	8:  "pcm_mulaw",
	10: "aac",
	11: "speex",
	13: "opus",
}

// flvScan 按 tag 首次出现的顺序累积各路流的信息
type flvScan struct {
	video     *StreamEntry
	audio     *StreamEntry
	meta      map[string]interface{}
	order     []*StreamEntry
	videoDone bool
}

func (s *flvScan) videoEntry() *StreamEntry {
	if s.video == nil {
		s.video = &StreamEntry{Kind: KindVideo}
		s.order = append(s.order, s.video)
	}
	return s.video
}

func (s *flvScan) audioEntry() *StreamEntry {
	if s.audio == nil {
		s.audio = &StreamEntry{Kind: KindAudio}
		s.order = append(s.order, s.audio)
	}
	return s.audio
}

func (s *flvScan) complete() bool {
	return s.videoDone && s.audio != nil && s.meta != nil
}

// scanFLV 读取 FLV 头和最多 maxTags 个 tag，生成 StreamDescriptor
func scanFLV(r io.Reader, maxTags int) (*StreamDescriptor, error) {
	if maxTags <= 0 {
		maxTags = defaultMaxTags
	}
	header := make([]byte, flvHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("读取 FLV 头失败: %w", err)
	}
	if header[0] != 'F' || header[1] != 'L' || header[2] != 'V' {
		return nil, ErrNotFLV
	}
	// DataOffset 一般为 9，大于 9 时跳过扩展部分
	if offset := binary.BigEndian.Uint32(header[5:9]); offset > flvHeaderSize {
		if _, err := io.CopyN(io.Discard, r, int64(offset-flvHeaderSize)); err != nil {
			return nil, fmt.Errorf("读取 FLV 头失败: %w", err)
		}
	}

	scan := &flvScan{}
	tagHeader := make([]byte, flvTagHeaderSize)
	for i := 0; i < maxTags && !scan.complete(); i++ {
		if _, err := io.ReadFull(r, tagHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("读取 FLV tag header 失败: %w", err)
		}
		tagType := tagHeader[4] & 0x1F
		size := uint32(tagHeader[5])<<16 | uint32(tagHeader[6])<<8 | uint32(tagHeader[7])
		if size > flvMaxTagSize {
			return nil, ErrTagTooLarge
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("读取 FLV tag body 失败: %w", err)
		}

		switch tagType {
		case flvTagScript:
			if scan.meta == nil {
				if meta := parseOnMetaData(body); meta != nil {
					scan.meta = meta
				}
			}
		case flvTagVideo:
			if !scan.videoDone {
				scan.handleVideo(body)
			}
		case flvTagAudio:
			if scan.audio == nil {
				scan.handleAudio(body)
			}
		}
	}

	return scan.descriptor(), nil
}

func (s *flvScan) handleAudio(data []byte) {
	if len(data) < 1 {
		return
	}
	format := data[0] >> 4
	entry := s.audioEntry()
	if name, ok := flvAudioCodecs[format]; ok {
		entry.Codec = name
	} else {
		entry.Codec = fmt.Sprintf("audio_%d", format)
	}
}

func (s *flvScan) handleVideo(data []byte) {
	if len(data) < 2 {
		return
	}
	// Enhanced FLV: 首字节最高位为 1，低 4 位为 PacketType，其后 4 字节为 FourCC
	if data[0]&0x80 != 0 {
		s.handleEnhancedVideo(data)
		return
	}

	frameType := (data[0] >> 4) & 0x07
	codecID := data[0] & 0x0F
	switch codecID {
	case flvCodecAVC:
		entry := s.videoEntry()
		entry.Codec = "h264"
		if len(data) > 5 && data[1] == flvAVCSeqHeader {
			if applyAVCConfig(entry, data[5:]) {
				s.videoDone = true
			}
		}
	case flvCodecHEVC:
		entry := s.videoEntry()
		entry.Codec = "hevc"
		if len(data) > 5 && data[1] == flvAVCSeqHeader {
			if applyHEVCConfig(entry, data[5:]) {
				s.videoDone = true
			}
		}
	default:
		if frameType == flvFrameTypeCommand {
			return
		}
		entry := s.videoEntry()
		entry.Codec = fmt.Sprintf("video_%d", codecID)
		s.videoDone = true
	}
}

func (s *flvScan) handleEnhancedVideo(data []byte) {
	if len(data) < 5 {
		return
	}
	packetType := data[0] & 0x0F
	entry := s.videoEntry()
	switch fourCC := string(data[1:5]); fourCC {
	case "hvc1":
		entry.Codec = "hevc"
		if packetType == flvExPacketSequenceStart && len(data) > 5 {
			if applyHEVCConfig(entry, data[5:]) {
				s.videoDone = true
			}
		}
	case "av01":
		entry.Codec = "av1"
		s.videoDone = true
	case "vp09":
		entry.Codec = "vp9"
		s.videoDone = true
	default:
		entry.Codec = fourCC
		s.videoDone = true
	}
}

// descriptor 合并 onMetaData：SPS 没给出的宽高、帧率用元数据补齐
func (s *flvScan) descriptor() *StreamDescriptor {
	if s.meta != nil {
		w, hasW := metaNumber(s.meta, "width")
		h, hasH := metaNumber(s.meta, "height")
		if s.video == nil && (hasW || hasH) {
			s.videoEntry()
		}
		if v := s.video; v != nil {
			if v.Width == nil && hasW && w > 0 {
				v.Width = intPtr(int(w))
			}
			if v.Height == nil && hasH && h > 0 {
				v.Height = intPtr(int(h))
			}
			if fr, ok := metaNumber(s.meta, "framerate"); ok && v.FrameRate == 0 && fr > 0 {
				v.FrameRate = fr
			}
			if br, ok := metaNumber(s.meta, "videodatarate"); ok && br > 0 {
				setExtra(v, "bit_rate_kbps", fmt.Sprintf("%d", int(br)))
			}
			if v.Codec == "" {
				v.Codec = metaCodec(s.meta, "videocodecid")
			}
		}
		if a := s.audio; a != nil {
			if br, ok := metaNumber(s.meta, "audiodatarate"); ok && br > 0 {
				setExtra(a, "bit_rate_kbps", fmt.Sprintf("%d", int(br)))
			}
		}
	}

	desc := &StreamDescriptor{FormatName: "flv", Prober: ProberNameNative}
	for i, e := range s.order {
		e.Index = i
		desc.Streams = append(desc.Streams, *e)
	}
	return desc
}

func setExtra(e *StreamEntry, k, v string) {
	if e.Extra == nil {
		e.Extra = make(map[string]string)
	}
	e.Extra[k] = v
}

func metaCodec(meta map[string]interface{}, key string) string {
	if s, ok := metaString(meta, key); ok {
		return normalizeCodecName(s)
	}
	if n, ok := metaNumber(meta, key); ok {
		return normalizeCodecName(fmt.Sprintf("%d", int(n)))
	}
	return ""
}

func normalizeCodecName(name string) string {
	switch name {
	case "avc1", "AVC", "7":
		return "h264"
	case "hvc1", "hev1", "HEVC", "12":
		return "hevc"
	case "mp4a", "AAC", "10":
		return "aac"
	default:
		return name
	}
}

// applyAVCConfig 从 AVCDecoderConfigurationRecord 中取第一个 SPS 解析宽高
func applyAVCConfig(entry *StreamEntry, record []byte) bool {
	// configurationVersion(1) profile(1) compat(1) level(1) lengthSize(1) numSPS(1)
	if len(record) < 8 {
		return false
	}
	if record[5]&0x1F == 0 {
		return false
	}
	spsLen := int(binary.BigEndian.Uint16(record[6:8]))
	if spsLen == 0 || 8+spsLen > len(record) {
		return false
	}
	return applyH264SPS(entry, record[8:8+spsLen])
}

// applyHEVCConfig 从 HEVCDecoderConfigurationRecord 中找到 SPS 解析宽高
func applyHEVCConfig(entry *StreamEntry, record []byte) bool {
	// 前 22 字节为固定字段，第 23 字节为 numOfArrays
	if len(record) < 23 {
		return false
	}
	numArrays := int(record[22])
	offset := 23
	for i := 0; i < numArrays; i++ {
		if offset+3 > len(record) {
			return false
		}
		naluType := record[offset] & 0x3F
		numNalus := int(binary.BigEndian.Uint16(record[offset+1 : offset+3]))
		offset += 3
		for j := 0; j < numNalus; j++ {
			if offset+2 > len(record) {
				return false
			}
			n := int(binary.BigEndian.Uint16(record[offset : offset+2]))
			offset += 2
			if offset+n > len(record) {
				return false
			}
			nalu := record[offset : offset+n]
			offset += n
			if naluType == hevcNALTypeSPS && n > 0 && applyH265SPS(entry, nalu) {
				return true
			}
		}
	}
	return false
}

func applyH264SPS(entry *StreamEntry, nalu []byte) bool {
	var sps h264.SPS
	if err := sps.Unmarshal(nalu); err != nil {
		return false
	}
	entry.Width = intPtr(sps.Width())
	entry.Height = intPtr(sps.Height())
	if fps := sps.FPS(); fps > 0 && fps < 300 {
		entry.FrameRate = fps
	}
	return true
}

func applyH265SPS(entry *StreamEntry, nalu []byte) bool {
	var sps h265.SPS
	if err := sps.Unmarshal(nalu); err != nil {
		return false
	}
	entry.Width = intPtr(sps.Width())
	entry.Height = intPtr(sps.Height())
	if fps := sps.FPS(); fps > 0 && fps < 300 {
		entry.FrameRate = fps
	}
	return true
}
