package config

import "fmt"

func DefaultTemplate() string {
	return fmt.Sprintf(`version: 1
defaults:
  download_dir: %q
  state_dir: %q
  parallel_downloads: 3
  parallel_uploads: 3
  upload_retries: 3
  include_archive: true
  chapter_pause_ms: 1000
  progress_interval_ms: 2000
  poll_interval_ms: 2000
  shutdown_timeout_seconds: 30
  sort_chapters: false
  content_kinds: ["video", "pdf"]
source:
  manifest: "~/crelay/courses.yaml"
relay:
  kind: "log"
  channel: "course-relay"
  notify_user: ""
  video_thumbnail: ""
  pdf_thumbnail: ""
  # minio:
  #   endpoint: "localhost:9000"
  #   access_key: ""
  #   secret_key: ""
  #   bucket: "course-relay"
  #   use_ssl: false
  #   prefix: ""
backends:
  proxy: ""
  aria2c:
    bin: "aria2c"
    connections: 16
    split: 32
    max_tries: 5
    retry_wait_seconds: 5
  ytdlp:
    bin: "yt-dlp"
    fragments: 16
  http:
    timeout_seconds: 600
    chunk_size: 1048576
probe:
  bin: "ffprobe"
events:
  amqp_url: ""
  exchange: "crelay.events"
registry:
  redis_addr: ""
  lock_ttl_seconds: 300
`, defaultDownloadDir(), defaultStateDir())
}
