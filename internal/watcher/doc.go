// Package watcher implements new-topic detection for polled forum listings.
//
// A pass visits every configured forum in order: the listing is fetched,
// topics are extracted, the ids are compared with the snapshot recorded by
// the previous pass and each topic that was not seen before is handed to the
// Notifier. The new snapshot is persisted once at the end of the pass.
//
// Notifications are only emitted for forums that already have an entry in
// the previous snapshot. An empty snapshot (first run) or a forum that was
// never recorded produces a baseline without notifying, and a forum that
// yields no topics keeps its previous entry untouched.
package watcher
