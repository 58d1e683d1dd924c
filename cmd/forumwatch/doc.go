// Package main hosts the forumwatch entrypoint.
//
// Architecture overview:
//   - Polling pipeline: internal/scheduler drives internal/watcher.Runner on a fixed interval measured from the end
//     of one pass to the start of the next. Each pass fetches every configured forum in order (colly, optionally
//     promoted to chromedp), extracts topics with goquery, diffs them against the last snapshot and notifies
//     Telegram for every new topic before persisting the snapshot.
//   - First run: with no previous snapshot the pass only records a baseline (plus an optional start announcement).
//   - Persistence: the snapshot lives in a JSON file by default, or in Postgres (state.backend=postgres).
//   - Liveness: internal/api serves /, /healthz, /readyz and /metrics on PORT. It shares no state with the pipeline.
//   - Fan-out and archive: new topics can also be published to Pub/Sub, and raw listings archived to disk or GCS.
//
// Operational notes:
//   - SIGINT/SIGTERM stop the scheduler between forums; visited forums are persisted and the rest carried over.
//   - Configuration comes from an optional YAML file and FORUMWATCH_* environment variables. TELEGRAM_TOKEN,
//     CHAT_ID and PORT are honoured for compatibility. Every invalid field is reported at startup.
//
// Quick checklist:
//   - Verify credentials: forumwatch check --config config.yaml
//   - Single pass (cron): forumwatch once
//   - Long-running service: forumwatch run
package main
