package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// TimestampLayout is the day-first layout used in messages.
const TimestampLayout = "02/01/2006 15:04"

// FormatTopic renders the HTML message announcing one new topic.
func FormatTopic(forum watcher.Forum, topic watcher.Topic, at time.Time, withTimestamp bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n<a href='%s'>%s</a>",
		html.EscapeString(forum.DisplayName()),
		html.EscapeString(topic.URL),
		html.EscapeString(topic.Title),
	)
	if withTimestamp {
		fmt.Fprintf(&b, "\n\n🕒 %s", at.Format(TimestampLayout))
	}
	return b.String()
}

// FormatAnnouncement renders the message sent when monitoring starts with no
// previous state.
func FormatAnnouncement(forums []watcher.Forum, at time.Time) string {
	var b strings.Builder
	b.WriteString("🤖 <b>Forum monitor started</b>\n\n")
	fmt.Fprintf(&b, "Watching %d forums:\n", len(forums))
	for _, f := range forums {
		name := strings.Join(strings.Fields(f.DisplayName()), " ")
		fmt.Fprintf(&b, "• %s\n", html.EscapeString(name))
	}
	fmt.Fprintf(&b, "\nNew topics will be posted here from the next check.\n🕒 %s", at.Format(TimestampLayout))
	return b.String()
}
