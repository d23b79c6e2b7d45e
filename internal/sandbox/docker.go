package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/moltstore/appreview/internal/models"
)

// DefaultImage is the minimal scanning image run against uploaded code.
const DefaultImage = "appreview-sandbox:latest"

// killBuffer is added to the configured timeout before the process-level
// kill fires, so the container gets a chance to terminate itself first.
const killBuffer = 10 * time.Second

// Docker implements Sandbox by shelling out to the docker CLI.
type Docker struct {
	Image      string
	BuildDir   string // docker build context used when the image is absent
	DockerPath string

	Logf func(format string, args ...any)
}

// NewDocker creates a Docker sandbox using the default image name.
func NewDocker(buildDir string) *Docker {
	return &Docker{
		Image:      DefaultImage,
		BuildDir:   buildDir,
		DockerPath: "docker",
	}
}

// Available reports whether the docker CLI responds.
func (d *Docker) Available(ctx context.Context) bool {
	return exec.CommandContext(ctx, d.DockerPath, "version").Run() == nil
}

// ensureImage builds the scanning image if it is absent.
func (d *Docker) ensureImage(ctx context.Context) error {
	if exec.CommandContext(ctx, d.DockerPath, "image", "inspect", d.Image).Run() == nil {
		return nil
	}
	d.logf("building sandbox image %s", d.Image)
	cmd := exec.CommandContext(ctx, d.DockerPath, "build", "-t", d.Image, d.BuildDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("build sandbox image: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// Run executes the code in a locked-down container: no network, read-only
// root, small writable tmpfs, all capabilities dropped, no privilege
// escalation, code mounted read-only, separate writable output/log
// mounts. The workspace is removed on every exit path.
func (d *Docker) Run(ctx context.Context, codePath string, limits Limits) (*models.SandboxResult, error) {
	start := time.Now()

	if err := d.ensureImage(ctx); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "appreview-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	outputDir := filepath.Join(workDir, "output")
	logsDir := filepath.Join(workDir, "logs")
	for _, dir := range []string{outputDir, logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sandbox workspace: %w", err)
		}
	}

	containerName := fmt.Sprintf("appreview-sandbox-%d", time.Now().UnixNano())
	args := []string{
		"run",
		"--rm",
		"--name=" + containerName,
		"--memory=" + limits.MemoryLimit,
		fmt.Sprintf("--cpus=%g", limits.CPULimit),
		"--network=none",
		"--read-only",
		"--tmpfs=/tmp:rw,noexec,nosuid,size=100m",
		fmt.Sprintf("--env=SANDBOX_TIMEOUT=%d", limits.TimeoutSec),
		"-v=" + codePath + ":/app/code:ro",
		"-v=" + outputDir + ":/app/output:rw",
		"-v=" + logsDir + ":/app/logs:rw",
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		d.Image,
	}

	// Process-level kill regardless of container self-termination.
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(limits.TimeoutSec)*time.Second+killBuffer)
	defer cancel()

	d.logf("running sandbox: timeout=%ds memory=%s cpu=%g", limits.TimeoutSec, limits.MemoryLimit, limits.CPULimit)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, d.DockerPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	timedOut := runCtx.Err() == context.DeadlineExceeded
	if timedOut {
		// The context kill targets the CLI process; make sure the
		// container itself is gone too.
		_ = exec.Command(d.DockerPath, "kill", containerName).Run()
	}

	logs := readLogs(logsDir)
	logs += stdout.String() + stderr.String()

	exitErr := runErr != nil && !timedOut
	findings := classifyLogs(logs, timedOut, exitErr, limits.TimeoutSec)
	score := scoreFindings(findings)

	return &models.SandboxResult{
		Passed:          passed(findings),
		Findings:        findings,
		Score:           score,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// readLogs collects whatever the container wrote to its log mount.
func readLogs(logsDir string) string {
	var buf bytes.Buffer
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(logsDir, e.Name()))
		if err == nil {
			buf.Write(data)
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

func (d *Docker) logf(format string, args ...any) {
	if d.Logf != nil {
		d.Logf(format, args...)
	}
}
