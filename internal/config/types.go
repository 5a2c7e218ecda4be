package config

type RelayKind string

const (
	RelayKindLog   RelayKind = "log"
	RelayKindMinio RelayKind = "minio"
)

type Config struct {
	Version  int      `yaml:"version"`
	Defaults Defaults `yaml:"defaults"`
	Source   Source   `yaml:"source"`
	Relay    Relay    `yaml:"relay"`
	Backends Backends `yaml:"backends"`
	Probe    Probe    `yaml:"probe"`
	Events   Events   `yaml:"events"`
	Registry Registry `yaml:"registry"`
}

type Defaults struct {
	DownloadDir            string   `yaml:"download_dir"`
	StateDir               string   `yaml:"state_dir"`
	ParallelDownloads      int      `yaml:"parallel_downloads"`
	ParallelUploads        int      `yaml:"parallel_uploads"`
	UploadRetries          int      `yaml:"upload_retries"`
	IncludeArchive         bool     `yaml:"include_archive"`
	ChapterPauseMillis     int      `yaml:"chapter_pause_ms"`
	ProgressIntervalMillis int      `yaml:"progress_interval_ms"`
	PollIntervalMillis     int      `yaml:"poll_interval_ms"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
	SortChapters           bool     `yaml:"sort_chapters"`
	ContentKinds           []string `yaml:"content_kinds"`
}

type Source struct {
	Manifest string `yaml:"manifest"`
}

type Relay struct {
	Kind           RelayKind `yaml:"kind"`
	Channel        string    `yaml:"channel"`
	NotifyUser     string    `yaml:"notify_user"`
	VideoThumbnail string    `yaml:"video_thumbnail"`
	PDFThumbnail   string    `yaml:"pdf_thumbnail"`
	Outbox         string    `yaml:"outbox"`
	Minio          Minio     `yaml:"minio"`
}

type Minio struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Backends configures the download tools. Proxy, when set, is handed to
// aria2c and yt-dlp through the proxy environment variables and used by the
// HTTP backend.
type Backends struct {
	Proxy  string `yaml:"proxy"`
	Aria2c Aria2c `yaml:"aria2c"`
	YTDLP  YTDLP  `yaml:"ytdlp"`
	HTTP   HTTP   `yaml:"http"`
}

type Aria2c struct {
	Bin              string `yaml:"bin"`
	Connections      int    `yaml:"connections"`
	Split            int    `yaml:"split"`
	MaxTries         int    `yaml:"max_tries"`
	RetryWaitSeconds int    `yaml:"retry_wait_seconds"`
}

type YTDLP struct {
	Bin       string `yaml:"bin"`
	Fragments int    `yaml:"fragments"`
}

type HTTP struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	ChunkSize      int `yaml:"chunk_size"`
}

type Probe struct {
	Bin string `yaml:"bin"`
}

type Events struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

type Registry struct {
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

func DefaultConfig() Config {
	return Config{
		Version: 1,
		Defaults: Defaults{
			DownloadDir:            defaultDownloadDir(),
			StateDir:               defaultStateDir(),
			ParallelDownloads:      3,
			ParallelUploads:        3,
			UploadRetries:          3,
			IncludeArchive:         true,
			ChapterPauseMillis:     1000,
			ProgressIntervalMillis: 2000,
			PollIntervalMillis:     2000,
			ShutdownTimeoutSeconds: 30,
			ContentKinds:           []string{"video", "pdf"},
		},
		Relay: Relay{
			Kind:    RelayKindLog,
			Channel: "course-relay",
		},
		Backends: Backends{
			Aria2c: Aria2c{Bin: "aria2c", Connections: 16, Split: 32, MaxTries: 5, RetryWaitSeconds: 5},
			YTDLP:  YTDLP{Bin: "yt-dlp", Fragments: 16},
			HTTP:   HTTP{TimeoutSeconds: 600, ChunkSize: 1 << 20},
		},
		Probe:    Probe{Bin: "ffprobe"},
		Events:   Events{Exchange: "crelay.events"},
		Registry: Registry{LockTTLSeconds: 300},
	}
}
