package kubeclient

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"kftray-core/pkg/logging"
)

const pathProbeTimeout = 5 * time.Second

// wellKnownBinDirs augments PATH with platform bin directories exec-plugin
// auth helpers (cloud CLIs) commonly live in, for when this process was
// launched from a GUI with a stripped-down PATH.
func wellKnownBinDirs() []string {
	if runtime.GOOS == "windows" {
		return nil
	}
	return []string{"/usr/local/bin", "/opt/homebrew/bin", "/usr/bin", "/bin", os.Getenv("HOME") + "/.local/bin"}
}

// augmentPATH runs the user's login shell to capture the PATH it would set
// up interactively, merges it with the current process PATH (de-duplicated,
// order preserved), and appends wellKnownBinDirs. Windows is left untouched;
// this is a Unix-only GUI-launch workaround.
func augmentPATH(ctx context.Context) {
	if runtime.GOOS == "windows" {
		return
	}

	shellPath, err := loginShellPATH(ctx)
	if err != nil {
		logging.Debug("kubeclient", "login shell PATH probe failed, using process PATH only: %v", err)
		shellPath = ""
	}

	merged := mergePATH(os.Getenv("PATH"), shellPath, wellKnownBinDirs())
	os.Setenv("PATH", merged)
}

func loginShellPATH(ctx context.Context) (string, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	probeCtx, cancel := context.WithTimeout(ctx, pathProbeTimeout)
	defer cancel()

	flag := "-lc"
	script := "echo $PATH"
	if strings.HasSuffix(shell, "fish") {
		// fish's `echo $PATH` prints the entries space-separated; join them
		// with ':' so the output splits like any other shell's PATH.
		flag = "-lc"
		script = "string join : $PATH"
	}

	cmd := exec.CommandContext(probeCtx, shell, flag, script)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

func mergePATH(current, fromShell string, extra []string) string {
	seen := make(map[string]bool)
	var ordered []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		ordered = append(ordered, p)
	}

	for _, p := range strings.Split(fromShell, string(os.PathListSeparator)) {
		add(p)
	}
	for _, p := range strings.Split(current, string(os.PathListSeparator)) {
		add(p)
	}
	for _, p := range extra {
		add(p)
	}
	return strings.Join(ordered, string(os.PathListSeparator))
}
