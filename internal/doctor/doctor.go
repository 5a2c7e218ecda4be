package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/jaa/course-relay/internal/auth"
	"github.com/jaa/course-relay/internal/config"
	"github.com/jaa/course-relay/internal/source"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Check struct {
	Severity Severity `json:"severity"`
	Name     string   `json:"name"`
	Message  string   `json:"message"`
}

type Report struct {
	Checks []Check `json:"checks"`
}

func (r Report) HasErrors() bool {
	return r.ErrorCount() > 0
}

func (r Report) ErrorCount() int {
	count := 0
	for _, check := range r.Checks {
		if check.Severity == SeverityError {
			count++
		}
	}
	return count
}

type Checker struct {
	LookPath           func(string) (string, error)
	ReadVersion        func(ctx context.Context, binary string, args []string) (string, error)
	Getenv             func(string) string
	CheckWritable      func(string) error
	ReadFile           func(string) ([]byte, error)
	ResolveCredentials func(user string) (source.Credentials, error)
	Matrix             map[string]dependencyMatrixRule
}

func NewChecker() *Checker {
	return &Checker{
		LookPath:           exec.LookPath,
		ReadVersion:        defaultReadVersion,
		Getenv:             os.Getenv,
		CheckWritable:      checkDirWritable,
		ReadFile:           os.ReadFile,
		ResolveCredentials: auth.ResolvePortalCredentials,
		Matrix:             defaultDependencyMatrix(),
	}
}

func (c *Checker) Check(ctx context.Context, cfg config.Config) Report {
	report := Report{Checks: []Check{}}
	add := func(severity Severity, name, message string) {
		report.Checks = append(report.Checks, Check{Severity: severity, Name: name, Message: message})
	}

	for _, dep := range requiredBinaries(cfg, c.matrix()) {
		missing := SeverityError
		if dep.Optional {
			missing = SeverityWarn
		}
		location, err := c.LookPath(dep.Binary)
		if err != nil {
			add(missing, "dependency", fmt.Sprintf("%s not found in PATH (%s)", dep.Binary, dep.Role))
			continue
		}
		add(SeverityInfo, "dependency", fmt.Sprintf("%s found at %s", dep.Binary, location))

		output, versionErr := c.ReadVersion(ctx, dep.Binary, dep.VersionArgs)
		if versionErr != nil {
			add(SeverityWarn, "dependency", fmt.Sprintf("%s version could not be read: %v", dep.Binary, versionErr))
			continue
		}
		version, parseErr := extractVersion(output)
		if parseErr != nil {
			add(SeverityWarn, "dependency", fmt.Sprintf("%s version output is unrecognized: %q", dep.Binary, firstLine(output)))
			continue
		}
		if compareVersions(version, dep.MinVersion) < 0 {
			add(missing, "dependency", fmt.Sprintf("%s version %s is below minimum %s", dep.Binary, version, dep.MinVersion))
			continue
		}

		if dep.Matrix != nil {
			if reason, knownBad := dep.Matrix.KnownBad[version]; knownBad {
				message := fmt.Sprintf("%s version %s is blocked by compatibility matrix", dep.Binary, version)
				if strings.TrimSpace(reason) != "" {
					message = fmt.Sprintf("%s: %s", message, reason)
				}
				add(missing, "dependency", message)
				continue
			}
			if strings.TrimSpace(dep.Matrix.MaxVersionExclusive) != "" &&
				compareVersions(version, dep.Matrix.MaxVersionExclusive) >= 0 {
				add(SeverityWarn, "dependency", fmt.Sprintf(
					"%s version %s is outside supported matrix >=%s and <%s",
					dep.Binary, version, dep.MinVersion, dep.Matrix.MaxVersionExclusive,
				))
				continue
			}
		}
		add(SeverityInfo, "dependency", fmt.Sprintf("%s version %s is compatible", dep.Binary, version))
	}

	for _, dir := range []struct{ key, raw string }{
		{"download_dir", cfg.Defaults.DownloadDir},
		{"state_dir", cfg.Defaults.StateDir},
	} {
		path, err := config.ExpandPath(dir.raw)
		if err != nil || path == "" {
			add(SeverityError, "filesystem", fmt.Sprintf("defaults.%s is invalid", dir.key))
			continue
		}
		if err := c.CheckWritable(path); err != nil {
			add(SeverityError, "filesystem", fmt.Sprintf("defaults.%s %s is not writable: %v", dir.key, path, err))
		} else {
			add(SeverityInfo, "filesystem", fmt.Sprintf("defaults.%s %s is writable", dir.key, path))
		}
	}

	manifest, err := config.ExpandPath(cfg.Source.Manifest)
	switch {
	case err != nil || manifest == "":
		add(SeverityError, "source", "source.manifest is not set")
	default:
		if _, readErr := c.ReadFile(manifest); readErr != nil {
			add(SeverityError, "source", fmt.Sprintf("manifest %s cannot be read: %v", manifest, readErr))
		} else {
			add(SeverityInfo, "source", fmt.Sprintf("manifest %s is readable", manifest))
		}
	}

	if c.ResolveCredentials != nil {
		creds, credErr := c.ResolveCredentials("")
		switch {
		case errors.Is(credErr, auth.ErrPortalUserMissing):
			add(SeverityWarn, "auth", "CRELAY_PORTAL_USER is not set; pass --user to run")
		case credErr != nil:
			add(SeverityWarn, "auth", fmt.Sprintf("portal token unavailable: %v", credErr))
		default:
			add(SeverityInfo, "auth", fmt.Sprintf("portal credentials available for %s", creds.User))
		}
	}

	if cfg.Relay.Kind == config.RelayKindMinio {
		add(SeverityInfo, "relay", fmt.Sprintf("relaying to minio bucket %s at %s", cfg.Relay.Minio.Bucket, cfg.Relay.Minio.Endpoint))
	} else {
		add(SeverityInfo, "relay", "relaying to the local event log")
	}
	if strings.TrimSpace(cfg.Registry.RedisAddr) == "" {
		add(SeverityWarn, "registry", "registry.redis_addr is not set; run locks and status are shared through the state directory only")
	}

	return report
}

type dependency struct {
	Key         string
	Binary      string
	Role        string
	VersionArgs []string
	MinVersion  string
	Optional    bool
	Matrix      *dependencyMatrixRule
}

type dependencyMatrixRule struct {
	MinVersion          string
	MaxVersionExclusive string
	KnownBad            map[string]string
}

func defaultDependencyMatrix() map[string]dependencyMatrixRule {
	return map[string]dependencyMatrixRule{
		"aria2c": {
			MinVersion: "1.35.0",
			KnownBad:   map[string]string{},
		},
		"yt-dlp": {
			MinVersion:          "2024.1.0",
			MaxVersionExclusive: "2027.0.0",
			KnownBad:            map[string]string{},
		},
		"ffprobe": {
			MinVersion: "4.0.0",
			KnownBad:   map[string]string{},
		},
	}
}

func (c *Checker) matrix() map[string]dependencyMatrixRule {
	if len(c.Matrix) == 0 {
		return defaultDependencyMatrix()
	}
	return c.Matrix
}

// requiredBinaries lists the external tools the configured content kinds
// need. aria2c is the primary backend for every kind; yt-dlp and ffprobe are
// only used for videos and have fallbacks.
func requiredBinaries(cfg config.Config, matrix map[string]dependencyMatrixRule) []dependency {
	deps := []dependency{{
		Key:         "aria2c",
		Binary:      cfg.Backends.Aria2c.Bin,
		Role:        "primary download backend",
		VersionArgs: []string{"--version"},
	}}
	if wantsVideo(cfg.Defaults.ContentKinds) {
		deps = append(deps,
			dependency{
				Key:         "yt-dlp",
				Binary:      cfg.Backends.YTDLP.Bin,
				Role:        "video fallback backend",
				VersionArgs: []string{"--version"},
				Optional:    true,
			},
			dependency{
				Key:         "ffprobe",
				Binary:      cfg.Probe.Bin,
				Role:        "video duration probe",
				VersionArgs: []string{"-version"},
				Optional:    true,
			},
		)
	}

	for i := range deps {
		deps[i].MinVersion = "0.0.0"
		if rule, ok := matrix[deps[i].Key]; ok {
			if strings.TrimSpace(rule.MinVersion) != "" {
				deps[i].MinVersion = rule.MinVersion
			}
			cloned := dependencyMatrixRule{
				MinVersion:          rule.MinVersion,
				MaxVersionExclusive: rule.MaxVersionExclusive,
				KnownBad:            map[string]string{},
			}
			for version, reason := range rule.KnownBad {
				cloned.KnownBad[version] = reason
			}
			deps[i].Matrix = &cloned
		}
	}
	return deps
}

func wantsVideo(kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, kind := range kinds {
		if kind == "video" {
			return true
		}
	}
	return false
}

func defaultReadVersion(ctx context.Context, binary string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func checkDirWritable(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	file, err := os.CreateTemp(path, ".crelay-write-check-*")
	if err != nil {
		return err
	}
	name := file.Name()
	_ = file.Close()
	_ = os.Remove(name)
	return nil
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

func extractVersion(raw string) (string, error) {
	matches := versionPattern.FindStringSubmatch(raw)
	if len(matches) != 4 {
		return "", fmt.Errorf("no version found")
	}
	patch := matches[3]
	if patch == "" {
		patch = "0"
	}
	return fmt.Sprintf("%s.%s.%s", matches[1], matches[2], patch), nil
}

func compareVersions(lhs string, rhs string) int {
	leftParts := strings.Split(lhs, ".")
	rightParts := strings.Split(rhs, ".")
	for i := 0; i < 3; i++ {
		leftValue := 0
		rightValue := 0
		if i < len(leftParts) {
			leftValue, _ = strconv.Atoi(leftParts[i])
		}
		if i < len(rightParts) {
			rightValue, _ = strconv.Atoi(rightParts[i])
		}
		if leftValue > rightValue {
			return 1
		}
		if leftValue < rightValue {
			return -1
		}
	}
	return 0
}

func firstLine(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	return line
}
