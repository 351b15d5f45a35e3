package content

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

const detectionSample = 2000

// DetectLanguage returns the ISO 639-3 code of text, or "" when the text is
// empty or the guess is unreliable.
func DetectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len(text) > detectionSample {
		text = strings.ToValidUTF8(text[:detectionSample], "")
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6393()
}
