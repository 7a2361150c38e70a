package encoder

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
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/ports/secondary"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/static/errs"
)

var _ secondary.Converter = (*FFmpegConverter)(nil)

var (
	framePattern          = regexp.MustCompile(`frame=\s*([0-9]+)`)
	timePattern           = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2})(?:\.(\d+))?`)
	speedPattern          = regexp.MustCompile(`fps=\s*([0-9.]+)`)
	missingEncoderPattern = regexp.MustCompile(`Error while opening encoder for output stream|Unknown encoder`)
)

// FFmpegConverter runs each pass as an ffmpeg subprocess in its own process
// group. Stopping sends SIGTERM to the group and SIGKILL after KillGrace.
type FFmpegConverter struct {
	FFmpegPath string
	KillGrace  time.Duration
	Logger     primary.Logger
}

func NewFFmpegConverter(ffmpegPath string, killGrace time.Duration, logger primary.Logger) *FFmpegConverter {
	return &FFmpegConverter{
		FFmpegPath: ffmpegPath,
		KillGrace:  killGrace,
		Logger:     logger,
	}
}

func (c *FFmpegConverter) RunPass(ctx context.Context, task *domain.Task, pass int, onProgress secondary.ProgressFunc) error {
	args, err := BuildArgs(task, pass)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(task.Output); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, c.FFmpegPath, args...)
	cmd.Dir = os.TempDir()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = c.KillGrace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("opening ffmpeg stderr: %w", err)
	}

	c.Logger.Debug("Starting ffmpeg", "task", task.Key().String(), "pass", pass, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%s: %w", c.FFmpegPath, errs.ErrMissingEncoder)
		}
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	missing, tail := c.watch(stderr, task.Kind, onProgress)
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case missing:
		info, _ := domain.LookupCodec(task.Codec)
		return fmt.Errorf("encoder %s: %w", info.Encoder, errs.ErrMissingEncoder)
	case waitErr != nil:
		return fmt.Errorf("ffmpeg pass %d failed: %w: %s", pass, waitErr, tail)
	}
	return nil
}

// watch consumes ffmpeg's stderr until it closes. It returns whether the
// encoder was reported missing and the last few lines for error messages.
func (c *FFmpegConverter) watch(r io.Reader, kind domain.TaskKind, onProgress secondary.ProgressFunc) (bool, string) {
	const keep = 5
	var (
		missing bool
		last    []string
	)
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		units, rate, ok, miss := ParseLine(kind, line)
		if miss {
			missing = true
		}
		if ok && onProgress != nil {
			onProgress(units, rate)
		}
		if !ok {
			last = append(last, line)
			if len(last) > keep {
				last = last[1:]
			}
		}
	}
	return missing, strings.Join(last, "; ")
}

// scanLines splits on \n and on the bare \r ffmpeg uses for its stats line.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, bytes.TrimSpace(data[:i]), nil
	}
	if atEOF {
		return len(data), bytes.TrimSpace(data), nil
	}
	return 0, nil, nil
}

// ParseLine extracts progress from one ffmpeg stderr line. Video progress is
// counted in frames, audio progress in milliseconds of output.
func ParseLine(kind domain.TaskKind, line string) (units int64, rate float64, ok bool, missingEncoder bool) {
	missingEncoder = missingEncoderPattern.MatchString(line)

	if kind == domain.TaskKindVideo {
		m := framePattern.FindStringSubmatch(line)
		if m == nil {
			return 0, 0, false, missingEncoder
		}
		units, _ = strconv.ParseInt(m[1], 10, 64)
		if s := speedPattern.FindStringSubmatch(line); s != nil {
			rate, _ = strconv.ParseFloat(s[1], 64)
		}
		return units, rate, true, missingEncoder
	}

	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false, missingEncoder
	}
	h, _ := strconv.ParseInt(m[1], 10, 64)
	mins, _ := strconv.ParseInt(m[2], 10, 64)
	sec, _ := strconv.ParseInt(m[3], 10, 64)
	var ms int64
	if frac := m[4]; frac != "" {
		for len(frac) < 3 {
			frac += "0"
		}
		ms, _ = strconv.ParseInt(frac[:3], 10, 64)
	}
	return ((h*60+mins)*60+sec)*1000 + ms, 0, true, missingEncoder
}

// BuildArgs returns the ffmpeg arguments for one pass of task.
func BuildArgs(task *domain.Task, pass int) ([]string, error) {
	info, ok := domain.LookupCodec(task.Codec)
	if !ok {
		return nil, fmt.Errorf("codec %q: %w", task.Codec, errs.ErrUnknownCodec)
	}

	switch task.Kind {
	case domain.TaskKindVideo:
		v := task.Video
		if v == nil {
			return nil, fmt.Errorf("task %s has no video spec: %w", task.Key(), errs.ErrInvalidJob)
		}
		args := []string{
			"-hide_banner", "-nostdin",
			"-ss", FormatMs(v.StartMs),
			"-t", FormatMs(v.EndMs - v.StartMs),
			"-i", task.Input,
			"-sn", "-force_key_frames", "0", "-an",
			"-map", fmt.Sprintf("0:%d", v.StreamIndex),
			"-c:v", info.Encoder,
		}
		args = append(args, rateControlArgs(v)...)
		if v.Preset != "" {
			args = append(args, "-preset", v.Preset)
		}
		out := task.Output
		if v.Passes > 1 {
			args = append(args,
				"-pass", strconv.Itoa(pass),
				"-passlogfile", filepath.Join(os.TempDir(), fmt.Sprintf("encodefarm-%s-%d", task.JobID, task.TaskID)),
			)
			if pass != v.Passes {
				args = append(args, "-f", "rawvideo")
				out = os.DevNull
			}
		}
		return append(args, "-y", out), nil

	case domain.TaskKindAudio:
		a := task.Audio
		if a == nil {
			return nil, fmt.Errorf("task %s has no audio spec: %w", task.Key(), errs.ErrInvalidJob)
		}
		args := []string{
			"-hide_banner", "-nostdin",
			"-i", task.Input,
			"-vn", "-sn",
			"-map", fmt.Sprintf("0:%d", a.StreamIndex),
			"-c:a", info.Encoder,
		}
		if a.Bitrate > 0 && !info.Lossless {
			args = append(args, "-b:a", fmt.Sprintf("%dk", a.Bitrate))
		}
		if a.Channels > 0 {
			args = append(args, "-ac", strconv.Itoa(a.Channels))
		}
		if a.SampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(a.SampleRate))
		}
		return append(args, "-y", task.Output), nil
	}
	return nil, fmt.Errorf("task %s: kind %q: %w", task.Key(), task.Kind, errs.ErrInvalidJob)
}

func rateControlArgs(v *domain.VideoSpec) []string {
	if v.Rate <= 0 {
		return nil
	}
	switch strings.ToLower(v.RateControl) {
	case "crf":
		return []string{"-crf", strconv.Itoa(v.Rate)}
	default:
		return []string{"-b:v", fmt.Sprintf("%dk", v.Rate)}
	}
}

// FormatMs renders milliseconds as HH:MM:SS.mmm
func FormatMs(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3600000
	m := ms / 60000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
