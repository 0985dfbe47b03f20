// Package encoder wraps the external transcoder (an off-the-shelf ffmpeg
// binary) as the opaque collaborator described in the external interfaces:
// invoked as a child process, emitting either MJPEG on stdout (for the
// driver and frame writer) or fragmented-MP4 / MPEG-TS to files (for the
// segmenters). It never parses MP4 or TS itself.
package encoder

import (
	"fmt"
	"strings"
)

// StreamAuth holds the credentials to inject into a stream URL that does
// not already carry them.
type StreamAuth struct {
	Username string
	Password string
}

// BuildAuthenticatedURL injects username/password into streamURL unless the
// URL already has embedded credentials, grounded on the teacher's
// buildStreamURL/urlHasCredentials helpers.
func BuildAuthenticatedURL(streamURL string, auth StreamAuth) string {
	if auth.Username == "" || auth.Password == "" || urlHasCredentials(streamURL) {
		return streamURL
	}

	for _, proto := range []string{"rtsp://", "http://", "https://"} {
		if strings.HasPrefix(streamURL, proto) {
			return fmt.Sprintf("%s%s:%s@%s", proto, auth.Username, auth.Password, strings.TrimPrefix(streamURL, proto))
		}
	}
	return streamURL
}

func urlHasCredentials(urlStr string) bool {
	for _, proto := range []string{"rtsp://", "http://", "https://", "rtmp://"} {
		if strings.HasPrefix(urlStr, proto) {
			rest := strings.TrimPrefix(urlStr, proto)
			hostPart := rest
			if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
				hostPart = rest[:slashIdx]
			}
			return strings.Contains(hostPart, "@")
		}
	}
	return false
}

// SanitizeURLForLog strips embedded credentials from a URL before it is
// written to a log line.
func SanitizeURLForLog(url string) string {
	for _, proto := range []string{"rtsp://", "http://", "https://", "rtmp://"} {
		if strings.HasPrefix(url, proto) {
			remainder := strings.TrimPrefix(url, proto)
			if atIdx := strings.Index(remainder, "@"); atIdx != -1 {
				return proto + "***:***@" + remainder[atIdx+1:]
			}
		}
	}
	return url
}
