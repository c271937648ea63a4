package infra

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// DefaultServiceLabel is the launchd job label.
const DefaultServiceLabel = "com.focusd.appgate"

// A LaunchDaemon (system) is kept alive unconditionally; a LaunchAgent
// (user) is only restarted after a crash so that logging out stops it.
const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
    </array>
{{- if .ConfigFile}}

    <key>EnvironmentVariables</key>
    <dict>
        <key>APP_GATE_CONFIG</key>
        <string>{{.ConfigFile}}</string>
    </dict>
{{- end}}

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
{{- if .System}}
    <true/>
{{- else}}
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>
{{- end}}

    <key>StandardOutPath</key>
    <string>{{.StdoutPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.StderrPath}}</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`

// ServiceConfig describes where and how the daemon is registered with launchd.
type ServiceConfig struct {
	Label      string
	System     bool   // LaunchDaemon running as root instead of a per-user LaunchAgent
	PlistDir   string // /Library/LaunchDaemons or ~/Library/LaunchAgents
	ConfigFile string // Exported to the daemon as APP_GATE_CONFIG; empty leaves it unset
	LogDir     string // stdout/stderr of the daemon process
}

// DefaultServiceConfig returns the launchd layout for the given mode.
func DefaultServiceConfig(system bool, home, logDir string) ServiceConfig {
	plistDir := filepath.Join(home, "Library", "LaunchAgents")
	if system {
		plistDir = "/Library/LaunchDaemons"
	}
	return ServiceConfig{
		Label:    DefaultServiceLabel,
		System:   system,
		PlistDir: plistDir,
		LogDir:   logDir,
	}
}

type plistData struct {
	Label          string
	ExecutablePath string
	ConfigFile     string
	System         bool
	StdoutPath     string
	StderrPath     string
}

// LaunchdService installs appgate as a launchd job.
type LaunchdService struct {
	config    ServiceConfig
	launchctl func(args ...string) error
}

// NewLaunchdService creates a launchd service manager.
func NewLaunchdService(config ServiceConfig) *LaunchdService {
	if config.Label == "" {
		config.Label = DefaultServiceLabel
	}
	return &LaunchdService{
		config: config,
		launchctl: func(args ...string) error {
			return exec.Command("launchctl", args...).Run()
		},
	}
}

// PlistPath returns the path of the service definition.
func (s *LaunchdService) PlistPath() string {
	return filepath.Join(s.config.PlistDir, s.config.Label+".plist")
}

// Render returns the plist content for execPath.
func (s *LaunchdService) Render(execPath string) ([]byte, error) {
	data := plistData{
		Label:          s.config.Label,
		ExecutablePath: execPath,
		ConfigFile:     s.config.ConfigFile,
		System:         s.config.System,
		StdoutPath:     filepath.Join(s.config.LogDir, "appgate.out.log"),
		StderrPath:     filepath.Join(s.config.LogDir, "appgate.err.log"),
	}

	tmpl, err := template.New("plist").Parse(plistTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render plist: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the plist and loads it. An existing definition is
// unloaded and replaced.
func (s *LaunchdService) Install(execPath string) error {
	if execPath == "" {
		return errors.New("executable path is required")
	}
	content, err := s.Render(execPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.config.PlistDir, 0755); err != nil {
		return fmt.Errorf("failed to create plist directory: %w", err)
	}
	if s.config.LogDir != "" {
		if err := os.MkdirAll(s.config.LogDir, 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if s.IsInstalled() {
		// Not loaded is fine.
		_ = s.launchctl("unload", s.PlistPath())
	}
	if err := os.WriteFile(s.PlistPath(), content, 0644); err != nil {
		return fmt.Errorf("failed to write plist: %w", err)
	}
	if err := s.launchctl("load", s.PlistPath()); err != nil {
		return fmt.Errorf("failed to load %s: %w", s.config.Label, err)
	}
	return nil
}

// Uninstall unloads the job and removes its plist.
func (s *LaunchdService) Uninstall() error {
	if !s.IsInstalled() {
		return nil
	}
	_ = s.launchctl("unload", s.PlistPath())
	if err := os.Remove(s.PlistPath()); err != nil {
		return fmt.Errorf("failed to remove plist: %w", err)
	}
	return nil
}

// IsInstalled reports whether the plist exists.
func (s *LaunchdService) IsInstalled() bool {
	_, err := os.Stat(s.PlistPath())
	return err == nil
}

// NeedsUpdate reports whether the installed plist differs from the one
// Install would write. False when nothing is installed.
func (s *LaunchdService) NeedsUpdate(execPath string) bool {
	if !s.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(s.PlistPath())
	if err != nil {
		return true
	}
	expected, err := s.Render(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Ensure LaunchdService implements domain.ServiceManager.
var _ domain.ServiceManager = (*LaunchdService)(nil)
