package sink

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// IsH264Keyframe reports whether an Annex-B access unit contains an IDR
// slice. Malformed input is not a keyframe.
func IsH264Keyframe(au []byte) bool {
	var ab h264.AnnexB
	if ab.Unmarshal(au) != nil {
		return false
	}
	for _, nalu := range ab {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// H264NALUTypes lists the NAL unit types of an Annex-B access unit.
func H264NALUTypes(au []byte) ([]h264.NALUType, error) {
	var ab h264.AnnexB
	if err := ab.Unmarshal(au); err != nil {
		return nil, errors.Wrap(err, "parse annex-b")
	}
	types := make([]h264.NALUType, 0, len(ab))
	for _, nalu := range ab {
		if len(nalu) == 0 {
			continue
		}
		types = append(types, h264.NALUType(nalu[0]&0x1F))
	}
	return types, nil
}
