package voice

import "strings"

// Embedded webviews of chat and social apps grant microphone access
// unreliably.
var inAppMarkers = []string{
	" line/", "liapp", // LINE
	"fbav", "fban", "fb_iab", // Facebook
	"instagram",
	"tiktok",
	"wv;", "webview",
}

func DetectInAppBrowser(ua string) bool {
	s := strings.ToLower(ua)
	for _, m := range inAppMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
