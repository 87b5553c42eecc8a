package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
)

// commandRunner abstracts process execution for testability
type commandRunner interface {
	// Output runs a command to completion and returns its stdout
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Stream runs a command and hands each stdout line to onLine as it arrives
	Stream(ctx context.Context, onLine func(line string), name string, args ...string) error
}

// execRunner executes commands via os/exec
type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, commandError(name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (execRunner) Stream(ctx context.Context, onLine func(line string), name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open %s stdout: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	// drain so the process never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		return commandError(name, err, stderr.String())
	}
	return nil
}

func commandError(name string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > 512 {
		stderr = stderr[len(stderr)-512:]
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), stderr)
	}
	return fmt.Errorf("%s failed: %w", name, err)
}

// FFmpegConfig holds the tool paths and output location
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	OutputDir   string
}

// FFmpeg probes with ffprobe and transcodes to H.264/AAC MP4 with ffmpeg,
// reading progress from -progress pipe:1
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	outputDir   string
	runner      commandRunner
	mkdirAll    func(path string, perm os.FileMode) error
	remove      func(path string) error
}

// NewFFmpeg creates an ffmpeg-backed engine
func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		outputDir:   cfg.OutputDir,
		runner:      execRunner{},
		mkdirAll:    os.MkdirAll,
		remove:      os.Remove,
	}
}

func (f *FFmpeg) Analyze(ctx context.Context, video domain.Video) (Analysis, error) {
	out, err := f.runner.Output(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		video.Path,
	)
	if err != nil {
		return Analysis{}, err
	}

	duration, err := parseProbeDuration(string(out))
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{Duration: duration}, nil
}

func (f *FFmpeg) Transcode(ctx context.Context, video domain.Video, analysis Analysis, progress ProgressFunc) (Artifact, error) {
	if err := f.mkdirAll(f.outputDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	filename := video.ID + ".mp4"
	output := filepath.Join(f.outputDir, filename)

	args := []string{
		"-y",
		"-i", video.Path,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		"-loglevel", "error",
		output,
	}

	// each progress block repeats the position as out_time_us and out_time_ms
	last := time.Duration(-1)
	onLine := func(line string) {
		if analysis.Duration <= 0 {
			return
		}
		elapsed, ok := parseProgressLine(line)
		if !ok || elapsed == last {
			return
		}
		last = elapsed
		progress(float64(elapsed) / float64(analysis.Duration) * 100)
	}

	if err := f.runner.Stream(ctx, onLine, f.ffmpegPath, args...); err != nil {
		if rmErr := f.remove(output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return Artifact{}, fmt.Errorf("%w (partial output %s not removed: %v)", err, output, rmErr)
		}
		return Artifact{}, err
	}

	return Artifact{Path: output, Filename: filename}, nil
}

// parseProbeDuration reads ffprobe's format=duration output. Streams without a
// known duration report N/A, which yields zero.
func parseProbeDuration(out string) (time.Duration, error) {
	value := strings.TrimSpace(out)
	if value == "" || value == "N/A" {
		return 0, nil
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ffprobe duration %q: %w", value, err)
	}
	if seconds < 0 {
		return 0, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// parseProgressLine extracts the encoded position from one -progress line.
// out_time_ms is microseconds despite its name.
func parseProgressLine(line string) (time.Duration, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}

	switch key {
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, false
		}
		return time.Duration(us) * time.Microsecond, true
	default:
		return 0, false
	}
}
