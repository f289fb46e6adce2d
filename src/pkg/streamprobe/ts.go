package streamprobe

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47

	// PMT stream_type
	tsStreamH264  = 0x1B
	tsStreamH265  = 0x24
	tsStreamAAC   = 0x0F
	tsStreamAC3   = 0x81
	tsStreamMPEG1 = 0x03
	tsStreamMPEG2 = 0x04

	h264NALTypeSPS = 7
)

var (
	// ErrNoTSSync 数据中找不到连续的 TS sync byte
	ErrNoTSSync = errors.New("未找到 TS sync byte")
	// ErrNoPMT 有限的数据中没有 PAT/PMT
	ErrNoPMT = errors.New("未找到 PAT/PMT，TS 数据可能不完整")
)

var tsStreamKinds = map[int]struct {
	kind  string
	codec string
}{
	tsStreamH264:  {KindVideo, "h264"},
	tsStreamH265:  {KindVideo, "hevc"},
	tsStreamAAC:   {KindAudio, "aac"},
	tsStreamAC3:   {KindAudio, "ac3"},
	tsStreamMPEG1: {KindAudio, "mp3"},
	tsStreamMPEG2: {KindAudio, "mp3"},
}

type tsPacket struct {
	pid          int
	payloadStart bool
	payload      []byte
}

// forEachTSPacket 从对齐位置开始遍历有 payload 的 TS 包
func forEachTSPacket(data []byte, start int, fn func(p tsPacket)) {
	for pos := start; pos+tsPacketSize <= len(data); pos += tsPacketSize {
		pkt := data[pos : pos+tsPacketSize]
		if pkt[0] != tsSyncByte {
			return
		}
		if pkt[3]&0x10 == 0 {
			continue
		}
		payloadOffset := 4
		if pkt[3]&0x20 != 0 {
			payloadOffset = 5 + int(pkt[4])
			if payloadOffset >= tsPacketSize {
				continue
			}
		}
		fn(tsPacket{
			pid:          (int(pkt[1]&0x1F) << 8) | int(pkt[2]),
			payloadStart: pkt[1]&0x40 != 0,
			payload:      pkt[payloadOffset:],
		})
	}
}

// psiSection 跳过 pointer_field 返回 section 数据
func psiSection(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	start := 1 + int(payload[0])
	if start >= len(payload) {
		return nil
	}
	return payload[start:]
}

type tsElementary struct {
	pid        int
	streamType int
}

// parseTS 解析 MPEG-TS 开头的一段数据：PAT → PMT → 视频 PES → SPS
func parseTS(data []byte) (*StreamDescriptor, error) {
	start := findTSSyncOffset(data)
	if start < 0 {
		return nil, ErrNoTSSync
	}

	pmtPID := -1
	var elems []tsElementary
	forEachTSPacket(data, start, func(p tsPacket) {
		if !p.payloadStart {
			return
		}
		switch {
		case p.pid == 0 && pmtPID < 0:
			pmtPID = parsePAT(psiSection(p.payload))
		case p.pid == pmtPID && elems == nil:
			elems = parsePMT(psiSection(p.payload))
		}
	})
	if pmtPID < 0 || elems == nil {
		return nil, ErrNoPMT
	}

	desc := &StreamDescriptor{FormatName: "mpegts", Prober: ProberNameNative}
	videoIdx := -1
	for _, el := range elems {
		k, ok := tsStreamKinds[el.streamType]
		if !ok {
			desc.Streams = append(desc.Streams, StreamEntry{
				Index: len(desc.Streams),
				Kind:  KindData,
				Extra: map[string]string{"stream_type": fmt.Sprintf("0x%02x", el.streamType)},
			})
			continue
		}
		if k.kind == KindVideo && videoIdx < 0 {
			videoIdx = len(desc.Streams)
		}
		desc.Streams = append(desc.Streams, StreamEntry{
			Index: len(desc.Streams),
			Kind:  k.kind,
			Codec: k.codec,
		})
	}
	if videoIdx < 0 {
		return desc, nil
	}

	video := elems[videoIdx]
	es := collectPES(data, start, video.pid)
	entry := &desc.Streams[videoIdx]
	for _, nalu := range splitAnnexB(es) {
		if len(nalu) == 0 {
			continue
		}
		if video.streamType == tsStreamH264 && nalu[0]&0x1F == h264NALTypeSPS {
			if applyH264SPS(entry, nalu) {
				break
			}
		}
		if video.streamType == tsStreamH265 && len(nalu) > 1 && (nalu[0]>>1)&0x3F == hevcNALTypeSPS {
			if applyH265SPS(entry, nalu) {
				break
			}
		}
	}
	return desc, nil
}

func parsePAT(section []byte) int {
	// table_id(1) section_length(2) ts_id(2) version(1) section_no(1) last_section_no(1)
	if len(section) < 12 || section[0] != 0x00 {
		return -1
	}
	sectionLength := (int(section[1]&0x0F) << 8) | int(section[2])
	end := min(3+sectionLength-4, len(section))
	for off := 8; off+4 <= end; off += 4 {
		programNumber := (int(section[off]) << 8) | int(section[off+1])
		if programNumber == 0 {
			continue // network PID
		}
		return (int(section[off+2]&0x1F) << 8) | int(section[off+3])
	}
	return -1
}

func parsePMT(section []byte) []tsElementary {
	if len(section) < 12 || section[0] != 0x02 {
		return nil
	}
	sectionLength := (int(section[1]&0x0F) << 8) | int(section[2])
	programInfoLength := (int(section[10]&0x0F) << 8) | int(section[11])
	end := min(3+sectionLength-4, len(section))

	elems := []tsElementary{}
	for off := 12 + programInfoLength; off+5 <= end; {
		esInfoLength := (int(section[off+3]&0x0F) << 8) | int(section[off+4])
		elems = append(elems, tsElementary{
			streamType: int(section[off]),
			pid:        (int(section[off+1]&0x1F) << 8) | int(section[off+2]),
		})
		off += 5 + esInfoLength
	}
	return elems
}

// collectPES 拼接某个 PID 的 PES payload，去掉 PES 头
func collectPES(data []byte, start, pid int) []byte {
	var es []byte
	forEachTSPacket(data, start, func(p tsPacket) {
		if p.pid != pid {
			return
		}
		payload := p.payload
		if p.payloadStart && len(payload) >= 9 && payload[0] == 0 && payload[1] == 0 && payload[2] == 1 {
			headerEnd := 9 + int(payload[8])
			if headerEnd >= len(payload) {
				return
			}
			payload = payload[headerEnd:]
		}
		es = append(es, payload...)
	})
	return es
}

func findTSSyncOffset(data []byte) int {
	for i := 0; i < tsPacketSize && i+tsPacketSize*2 < len(data); i++ {
		if data[i] == tsSyncByte &&
			data[i+tsPacketSize] == tsSyncByte &&
			data[i+tsPacketSize*2] == tsSyncByte {
			return i
		}
	}
	return -1
}

var annexBStartCode = []byte{0, 0, 1}

// splitAnnexB 按 00 00 01 / 00 00 00 01 起始码切分 NAL unit
func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	idx := bytes.Index(data, annexBStartCode)
	for idx >= 0 {
		start := idx + len(annexBStartCode)
		next := bytes.Index(data[start:], annexBStartCode)
		if next < 0 {
			nalus = append(nalus, data[start:])
			break
		}
		end := start + next
		// 4 字节起始码前导的 0，以及 trailing zero
		nalu := bytes.TrimRight(data[start:end], "\x00")
		nalus = append(nalus, nalu)
		idx = end
	}
	return nalus
}
