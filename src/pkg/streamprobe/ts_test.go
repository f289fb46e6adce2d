package streamprobe

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tsPacketWith(pid int, payloadStart bool, payload []byte) []byte {
	pkt := bytes.Repeat([]byte{0xFF}, tsPacketSize)
	pkt[0] = tsSyncByte
	pkt[1] = byte(pid>>8) & 0x1F
	if payloadStart {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x10
	copy(pkt[4:], payload)
	return pkt
}

// 一个 PMT PID 为 0x20 的节目，视频 H.264 PID 0x100，音频 AAC PID 0x101
func sampleTS() []byte {
	pat := []byte{
		0x00,             // pointer_field
		0x00, 0xB0, 0x0D, // table_id, section_length = 13
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0x00, 0x01, 0xE0, 0x20, // program 1 -> PMT PID 0x20
		0x00, 0x00, 0x00, 0x00, // CRC
	}
	pmt := []byte{
		0x00,
		0x02, 0xB0, 0x17, // table_id, section_length = 23
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0xE1, 0x00, // PCR PID
		0xF0, 0x00, // program_info_length
		0x1B, 0xE1, 0x00, 0xF0, 0x00, // H.264
		0x0F, 0xE1, 0x01, 0xF0, 0x00, // AAC
		0x00, 0x00, 0x00, 0x00,
	}
	var buf bytes.Buffer
	buf.Write(tsPacketWith(0, true, pat))
	buf.Write(tsPacketWith(0x20, true, pmt))
	buf.Write(tsPacketWith(0x1FFF, false, nil))
	buf.Write(tsPacketWith(0x1FFF, false, nil))
	return buf.Bytes()
}

func TestParseTS(t *testing.T) {
	desc, err := parseTS(sampleTS())
	require.NoError(t, err)
	assert.Equal(t, "mpegts", desc.FormatName)
	require.Len(t, desc.Streams, 2)
	assert.Equal(t, KindVideo, desc.Streams[0].Kind)
	assert.Equal(t, "h264", desc.Streams[0].Codec)
	assert.Nil(t, desc.Streams[0].Width, "没有 SPS 时不应当给出宽高")
	assert.Equal(t, KindAudio, desc.Streams[1].Kind)
	assert.Equal(t, "aac", desc.Streams[1].Codec)
}

func TestParseTS_Errors(t *testing.T) {
	_, err := parseTS([]byte("not a transport stream"))
	assert.True(t, errors.Is(err, ErrNoTSSync))

	var buf bytes.Buffer
	for i := 0; i < 4; i++ {
		buf.Write(tsPacketWith(0x1FFF, false, nil))
	}
	_, err = parseTS(buf.Bytes())
	assert.True(t, errors.Is(err, ErrNoPMT))
}

func TestFindTSSyncOffset(t *testing.T) {
	data := append([]byte{0x00, 0x01, 0x02}, sampleTS()...)
	assert.Equal(t, 3, findTSSyncOffset(data))
	assert.Equal(t, -1, findTSSyncOffset(nil))
}

func TestSplitAnnexB(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0xAA,
		0x00, 0x00, 0x01, 0x68, 0xBB,
		0x00, 0x00, 0x01, 0x65, 0xCC, 0xDD,
	}
	nalus := splitAnnexB(data)
	require.Len(t, nalus, 3)
	assert.Equal(t, []byte{0x67, 0xAA}, nalus[0])
	assert.Equal(t, []byte{0x68, 0xBB}, nalus[1])
	assert.Equal(t, []byte{0x65, 0xCC, 0xDD}, nalus[2])
	assert.Empty(t, splitAnnexB([]byte{0x01, 0x02}))
}

func TestParsePlaylist(t *testing.T) {
	base := mustParseURL(t, "https://cdn.example.com/live/index.m3u8?token=abc")

	pl, err := parsePlaylist("#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXTINF:2.0,\nseg-001.ts\nseg-002.ts\n", base)
	require.NoError(t, err)
	require.NotNil(t, pl.segment)
	assert.Equal(t, "https://cdn.example.com/live/seg-001.ts", pl.segment.String())

	pl, err = parsePlaylist("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nhttps://other.example.com/low.m3u8\n", base)
	require.NoError(t, err)
	require.NotNil(t, pl.variant)
	assert.Equal(t, "https://other.example.com/low.m3u8", pl.variant.String())

	pl, err = parsePlaylist("#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:2.0,\nseg.m4s\n", base)
	require.NoError(t, err)
	assert.True(t, pl.hasMap)

	_, err = parsePlaylist("<html></html>", base)
	assert.Error(t, err)
}

func TestNativeHLS_Probe(t *testing.T) {
	ts := sampleTS()
	mux := http.NewServeMux()
	mux.HandleFunc("/live/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nmedia.m3u8\n"))
	})
	mux.HandleFunc("/live/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXTINF:2.0,\nseg-1.ts\n"))
	})
	mux.HandleFunc("/live/seg-1.ts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-65535", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(ts)
	})
	mux.HandleFunc("/live/fmp4.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:2.0,\nseg.m4s\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := &NativeHLS{Client: srv.Client()}
	desc, err := p.Probe(context.Background(), srv.URL+"/live/master.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "hls", desc.FormatName)
	require.Len(t, desc.Streams, 2)
	assert.Equal(t, "h264", desc.FirstOfKind(KindVideo).Codec)

	_, err = p.Probe(context.Background(), srv.URL+"/live/fmp4.m3u8")
	assert.True(t, errors.Is(err, ErrFMP4NotSupported))

	_, err = p.Probe(context.Background(), srv.URL+"/live/missing.m3u8")
	assert.Error(t, err)
}
