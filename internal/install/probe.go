package install

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

const (
	// FirstRunMarker is the zero-byte sentinel written after a successful
	// install and consumed by the application supervisor on first launch.
	FirstRunMarker = ".first-run-marker"

	// EnvDirName is the isolated environment directory inside an install.
	EnvDirName = ".venv"

	appPackage = "invokeai"
	appScript  = "invokeai-web"
)

// Descriptor is a read-only snapshot of an installation directory, computed
// on demand by probing the filesystem. Never cached here.
type Descriptor struct {
	Path               string `json:"path"`
	IsDirectory        bool   `json:"isDirectory"`
	IsInstalled        bool   `json:"isInstalled"`
	Version            string `json:"version,omitempty"`
	InterpreterVersion string `json:"interpreterVersion,omitempty"`
	ExecutablePath     string `json:"executablePath,omitempty"`
}

var distInfoPattern = regexp.MustCompile(`^` + appPackage + `-([0-9][^-]*)\.dist-info$`)

// Probe inspects dir and reports what is installed there.
func Probe(dir string) Descriptor {
	desc := Descriptor{Path: dir}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return desc
	}
	desc.IsDirectory = true

	venv := filepath.Join(dir, EnvDirName)
	desc.InterpreterVersion = interpreterVersion(venv)

	exe := scriptPath(venv, appScript)
	if _, err := os.Stat(exe); err == nil {
		desc.ExecutablePath = exe
	}

	desc.Version = installedVersion(venv)
	desc.IsInstalled = desc.ExecutablePath != "" && desc.Version != ""

	return desc
}

// interpreterVersion reads the environment's interpreter version from
// pyvenv.cfg, so probing never spawns a process.
func interpreterVersion(venv string) string {
	f, err := os.Open(filepath.Join(venv, "pyvenv.cfg"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "version", "version_info":
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// installedVersion reads the application version from the environment's
// package metadata directory name.
func installedVersion(venv string) string {
	for _, pattern := range []string{
		filepath.Join(venv, "lib", "python*", "site-packages", appPackage+"-*.dist-info"),
		filepath.Join(venv, "Lib", "site-packages", appPackage+"-*.dist-info"),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil || len(matches) == 0 {
			continue
		}
		if m := distInfoPattern.FindStringSubmatch(filepath.Base(matches[0])); m != nil {
			return m[1]
		}
	}
	return ""
}

// scriptPath returns the path of a console script inside the environment.
func scriptPath(venv, name string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts", name+".exe")
	}
	return filepath.Join(venv, "bin", name)
}

// interpreterPath returns the environment's interpreter binary.
func interpreterPath(venv string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts", "python.exe")
	}
	return filepath.Join(venv, "bin", "python")
}

// MajorMinor reduces a semantic interpreter version to its major.minor
// prefix for pin comparison.
func MajorMinor(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return version
	}
	return parts[0] + "." + parts[1]
}
