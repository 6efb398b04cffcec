package textproc

import (
	"fmt"
	"strings"
)

// Defang renders a URL non-clickable for safe sharing: https -> hxxps,
// http -> hxxp, and the dot before "me" in t.me / telegram.me becomes [.].
// Applying it twice is a no-op.
func Defang(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "hxxps://" + url[len("https://"):]
	case strings.HasPrefix(url, "http://"):
		url = "hxxp://" + url[len("http://"):]
	}

	url = strings.ReplaceAll(url, "t.me", "t[.]me")
	url = strings.ReplaceAll(url, "telegram.me", "telegram[.]me")
	return url
}

// MessageURL builds the canonical t.me link for a telegram message. Public
// channels use the @handle form, private supergroups the /c/<id> form with
// the -100 prefix stripped.
func MessageURL(channelID string, messageID int) string {
	if strings.HasPrefix(channelID, "@") {
		return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(channelID, "@"), messageID)
	}
	if strings.HasPrefix(channelID, "-100") {
		return fmt.Sprintf("https://t.me/c/%s/%d", strings.TrimPrefix(channelID, "-100"), messageID)
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", channelID, messageID)
}
