// Package sdp extracts the pieces of a DESCRIBE response this gateway
// needs to set up an H.264 RTP session: the video track's control URL,
// payload type, and in-band SPS/PPS.
package sdp

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	pionsdp "github.com/pion/sdp/v3"
)

// Info is the subset of a session description this gateway acts on.
type Info struct {
	VideoControl   string // a=control: of the video media, empty if absent
	SessionControl string // session-level a=control:, empty if absent
	PayloadType    uint8
	HasPayloadType bool
	SPS            []byte
	PPS            []byte
}

// Parse decodes a DESCRIBE response body and extracts the first video
// media section. It returns an error only if the body isn't valid SDP;
// a video-less SDP still parses, with HasPayloadType false.
func Parse(body []byte) (*Info, error) {
	var sd pionsdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("sdp: unmarshal: %w", err)
	}

	info := &Info{}
	if control, ok := sd.Attribute("control"); ok {
		info.SessionControl = control
	}

	for _, media := range sd.MediaDescriptions {
		if !strings.EqualFold(media.MediaName.Media, "video") {
			continue
		}

		if control, ok := media.Attribute("control"); ok {
			info.VideoControl = control
		}

		if len(media.MediaName.Formats) > 0 {
			if pt, err := strconv.ParseUint(media.MediaName.Formats[0], 10, 8); err == nil {
				info.PayloadType = uint8(pt)
				info.HasPayloadType = true
			}
		}

		if rtpmap, ok := media.Attribute("rtpmap"); ok {
			if pt, codec, ok := splitRTPMap(rtpmap); ok && strings.HasPrefix(strings.ToUpper(codec), "H264") {
				info.PayloadType = pt
				info.HasPayloadType = true
			}
		}

		if fmtp, ok := media.Attribute("fmtp"); ok {
			sps, pps := parseFmtpParameterSets(fmtp)
			if sps != nil {
				info.SPS = sps
			}
			if pps != nil {
				info.PPS = pps
			}
		}

		// Only the first video media section is relevant; a second
		// camera-capable track (if any) is out of scope.
		break
	}

	return info, nil
}

func splitRTPMap(value string) (pt uint8, codec string, ok bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return 0, "", false
	}
	n, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil {
		return 0, "", false
	}
	encoding := strings.SplitN(fields[1], "/", 2)[0]
	return uint8(n), encoding, true
}

func parseFmtpParameterSets(fmtp string) (sps, pps []byte) {
	// fmtp value is "<payload type> <param>=<val>;<param>=<val>..."
	parts := strings.SplitN(fmtp, " ", 2)
	if len(parts) != 2 {
		return nil, nil
	}
	for _, param := range strings.Split(parts[1], ";") {
		kv := strings.SplitN(strings.TrimSpace(param), "=", 2)
		if len(kv) != 2 || kv[0] != "sprop-parameter-sets" {
			continue
		}
		sets := strings.SplitN(kv[1], ",", 2)
		if len(sets) > 0 {
			if decoded, err := base64.StdEncoding.DecodeString(sets[0]); err == nil {
				sps = decoded
			}
		}
		if len(sets) > 1 {
			if decoded, err := base64.StdEncoding.DecodeString(sets[1]); err == nil {
				pps = decoded
			}
		}
	}
	return sps, pps
}

// ResolvedVideoControlURL resolves the video media's control attribute
// against the DESCRIBE request URL, per RFC 2326 §C.1.1: an absolute
// RTSP URL is used as-is, otherwise it's resolved relative to base.
// With no control attribute at all, base itself is the setup target.
func (i *Info) ResolvedVideoControlURL(base *url.URL) string {
	if i.VideoControl == "" {
		return base.String()
	}
	return resolveControl(i.VideoControl, base)
}

// ResolvedPlayURL resolves the session-level control attribute for use
// as the PLAY request URL. A bare "*" means "use the request URL
// unchanged", per RFC 2326.
func (i *Info) ResolvedPlayURL(base *url.URL) string {
	if i.SessionControl != "" && i.SessionControl != "*" {
		return resolveControl(i.SessionControl, base)
	}
	return base.String()
}

func resolveControl(control string, base *url.URL) string {
	lower := strings.ToLower(control)
	if strings.HasPrefix(lower, "rtsp://") || strings.HasPrefix(lower, "rtsps://") {
		return control
	}
	if control == "*" {
		return base.String()
	}
	ref, err := url.Parse(control)
	if err != nil {
		return base.String()
	}
	return base.ResolveReference(ref).String()
}
