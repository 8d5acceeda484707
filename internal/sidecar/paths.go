package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
)

// defaultRunner is the unqualified runner name left to the OS search path.
const defaultRunner = "uv"

// defaultRunnerCandidates are checked in order because a GUI-launched host
// does not inherit the interactive shell's PATH.
var defaultRunnerCandidates = []string{
	"~/.local/bin/uv",
	"~/.cargo/bin/uv",
	"/usr/local/bin/uv",
	"/opt/homebrew/bin/uv",
}

// platformTriple maps GOOS/GOARCH to the target triple used to name bundled binaries.
func platformTriple(goos, goarch string) (string, error) {
	switch goos + "/" + goarch {
	case "darwin/arm64":
		return "aarch64-apple-darwin", nil
	case "darwin/amd64":
		return "x86_64-apple-darwin", nil
	case "linux/arm64":
		return "aarch64-unknown-linux-gnu", nil
	case "linux/amd64":
		return "x86_64-unknown-linux-gnu", nil
	case "windows/amd64":
		return "x86_64-pc-windows-msvc", nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

// sidecarBinaryPath returns <resources>/binaries/sidecar-<triple>/backend-sidecar-<triple>[.exe].
func sidecarBinaryPath(resourceDir, triple, goos string) string {
	name := "backend-sidecar-" + triple
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(resourceDir, "binaries", "sidecar-"+triple, name)
}

// expandRunnerCandidates resolves "~/" prefixes against home.
func expandRunnerCandidates(candidates []string, home string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if rest, ok := strings.CutPrefix(c, "~/"); ok {
			c = filepath.Join(home, rest)
		}
		out = append(out, c)
	}
	return out
}

// pickRunner returns the first existing candidate, else the bare runner name.
func pickRunner(candidates []string, exists func(string) bool) string {
	for _, c := range candidates {
		if exists(c) {
			return c
		}
	}
	return defaultRunner
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// platformDirs resolves per-user directories without touching the filesystem.
type platformDirs struct {
	goos   string
	home   string
	getenv func(string) string
	tmp    string
}

func currentPlatformDirs() platformDirs {
	home, _ := os.UserHomeDir() //nolint:errcheck // empty home falls through to the temp directory
	return platformDirs{
		goos:   runtime.GOOS,
		home:   home,
		getenv: os.Getenv,
		tmp:    os.TempDir(),
	}
}

// logDir is the platform log directory for the app, or "".
func (d platformDirs) logDir(appID string) string {
	switch d.goos {
	case "darwin":
		if d.home != "" {
			return filepath.Join(d.home, "Library", "Logs", appID)
		}
	case "windows":
		if v := d.getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, appID, "logs")
		}
	default:
		if v := d.getenv("XDG_STATE_HOME"); v != "" {
			return filepath.Join(v, appID, "logs")
		}
		if d.home != "" {
			return filepath.Join(d.home, ".local", "state", appID, "logs")
		}
	}
	return ""
}

// dataDir is the platform data directory for the app, or "".
func (d platformDirs) dataDir(appID string) string {
	switch d.goos {
	case "darwin":
		if d.home != "" {
			return filepath.Join(d.home, "Library", "Application Support", appID)
		}
	case "windows":
		if v := d.getenv("APPDATA"); v != "" {
			return filepath.Join(v, appID)
		}
	default:
		if v := d.getenv("XDG_DATA_HOME"); v != "" {
			return filepath.Join(v, appID)
		}
		if d.home != "" {
			return filepath.Join(d.home, ".local", "share", appID)
		}
	}
	return ""
}

// resolveLogPath applies the preference order: configured directory,
// platform log directory, <data dir>/logs, then <tmp>/<app id>.
func (d platformDirs) resolveLogPath(cfg config.BackendConfig) string {
	dir := cfg.LogDir
	if dir == "" {
		dir = d.logDir(cfg.AppIdentifier)
	}
	if dir == "" {
		if data := d.dataDir(cfg.AppIdentifier); data != "" {
			dir = filepath.Join(data, "logs")
		}
	}
	if dir == "" {
		dir = filepath.Join(d.tmp, cfg.AppIdentifier)
	}
	return filepath.Join(dir, cfg.LogFile)
}

// ResolveLogPath returns the backend log file path for this machine.
func ResolveLogPath(cfg config.BackendConfig) string {
	return currentPlatformDirs().resolveLogPath(cfg)
}
