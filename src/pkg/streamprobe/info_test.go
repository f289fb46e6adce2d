package streamprobe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEntry_Clone(t *testing.T) {
	src := &StreamEntry{
		Kind:   KindVideo,
		Width:  intPtr(1280),
		Height: intPtr(720),
		Extra:  map[string]string{"pix_fmt": "yuv420p"},
	}
	dst := src.Clone()
	*dst.Width = 1
	*dst.Height = 2
	dst.Extra["pix_fmt"] = "changed"

	assert.Equal(t, 1280, *src.Width)
	assert.Equal(t, 720, *src.Height)
	assert.Equal(t, "yuv420p", src.Extra["pix_fmt"])
	assert.Equal(t, "1280x720", src.Resolution())
	assert.Nil(t, (*StreamEntry)(nil).Clone())
}

func TestStreamEntry_ResolutionMissingField(t *testing.T) {
	e := &StreamEntry{Kind: KindVideo, Width: intPtr(640)}
	assert.Equal(t, "", e.Resolution())
}

func TestStreamDescriptor_FirstOfKind(t *testing.T) {
	d := &StreamDescriptor{Streams: []StreamEntry{
		{Index: 0, Kind: KindAudio},
		{Index: 1, Kind: KindVideo, Width: intPtr(1920)},
		{Index: 2, Kind: KindVideo, Width: intPtr(640)},
	}}
	v := d.FirstOfKind(KindVideo)
	require.NotNil(t, v)
	assert.Equal(t, 1, v.Index)
	assert.Nil(t, d.FirstOfKind(KindData))
	assert.Nil(t, (*StreamDescriptor)(nil).FirstOfKind(KindVideo))
}

func TestStreamDescriptor_FirstOfKindExactMatch(t *testing.T) {
	d := &StreamDescriptor{Streams: []StreamEntry{
		{Index: 0, Kind: "Video", Width: intPtr(320)},
		{Index: 1, Kind: KindVideo, Width: intPtr(1280)},
	}}
	v := d.FirstOfKind(KindVideo)
	require.NotNil(t, v)
	assert.Equal(t, 1, v.Index)
	assert.Equal(t, 1280, *v.Width)
}

func TestProbeError(t *testing.T) {
	inner := errors.New("connection refused")
	err := error(&ProbeError{Source: "rtp://x", Message: "timeout", Err: inner})
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t, "timeout", ErrorMessage(err))
	assert.Equal(t, "probe rtp://x: timeout: connection refused", err.Error())

	assert.Equal(t, "boom", ErrorMessage(errors.New("boom")))
	assert.Equal(t, "probe rtp://x: connection refused", ErrorMessage(&ProbeError{Source: "rtp://x", Err: inner}))
	assert.Equal(t, "", ErrorMessage(nil))
}
