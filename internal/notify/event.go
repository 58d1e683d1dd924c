package notify

import (
	"time"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// TopicEvent is the payload published for every new topic.
type TopicEvent struct {
	ForumID    string    `json:"forum_id"`
	ForumName  string    `json:"forum_name"`
	TopicID    string    `json:"topic_id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	DetectedAt time.Time `json:"detected_at"`
	PassID     string    `json:"pass_id"`
}

// NewTopicEvent builds the event for topic.
func NewTopicEvent(passID string, forum watcher.Forum, topic watcher.Topic, at time.Time) TopicEvent {
	return TopicEvent{
		ForumID:    forum.ID,
		ForumName:  forum.DisplayName(),
		TopicID:    topic.ID,
		Title:      topic.Title,
		URL:        topic.URL,
		DetectedAt: at.UTC(),
		PassID:     passID,
	}
}

// Attributes returns message attributes for subscription filters.
func (e TopicEvent) Attributes() map[string]string {
	return map[string]string{
		"forum_id": e.ForumID,
		"pass_id":  e.PassID,
	}
}
