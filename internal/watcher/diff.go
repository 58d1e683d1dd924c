package watcher

// Diff returns the topics in current whose id is absent from previous,
// preserving the relative order of current.
func Diff(current []Topic, previous []string) []Topic {
	seen := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		seen[id] = struct{}{}
	}
	var fresh []Topic
	for _, t := range current {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		fresh = append(fresh, t)
	}
	return fresh
}

// IDs returns the topic ids in order.
func IDs(topics []Topic) []string {
	ids := make([]string, 0, len(topics))
	for _, t := range topics {
		ids = append(ids, t.ID)
	}
	return ids
}
