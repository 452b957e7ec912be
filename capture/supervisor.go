package capture

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"recorder-agent/config"
)

// PollStatus reports subprocess liveness for the active unit.
type PollStatus struct {
	Running  bool
	ExitCode *int
}

// Supervisor launches, monitors and terminates the video/audio subprocess
// pair that constitutes one recording. At most one unit exists at a time;
// mutual exclusion across sessions is enforced by the session state machine,
// the supervisor only guards its own bookkeeping.
type Supervisor struct {
	pollInterval  time.Duration
	launchTimeout time.Duration

	mu      sync.Mutex
	unit    *unit
	onCrash func(error)
}

type unit struct {
	video *exec.Cmd
	audio *exec.Cmd

	videoDone chan struct{}
	audioDone chan struct{}
	videoErr  error
	audioErr  error

	// startedAt carries Go's monotonic clock reading, so elapsed time is
	// immune to wall-clock adjustments.
	startedAt time.Time

	stopping atomic.Bool
	crashed  atomic.Bool
	stopOnce sync.Once
	stopPoll chan struct{}
}

func NewSupervisor(cfg config.Capture) *Supervisor {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	launchTimeout := cfg.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = 3 * time.Second
	}
	return &Supervisor{
		pollInterval:  pollInterval,
		launchTimeout: launchTimeout,
	}
}

// SetCrashHandler registers the callback invoked when a subprocess exits
// unexpectedly mid-session. The callback runs outside the supervisor lock.
func (s *Supervisor) SetCrashHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCrash = fn
}

// Launch starts both subprocesses as one atomic unit. If either fails to
// start, or exits within the launch confirmation window, the survivor is
// torn down and an AcquisitionError is returned.
func (s *Supervisor) Launch(ctx context.Context, req LaunchRequest) error {
	s.mu.Lock()
	if s.unit != nil {
		s.mu.Unlock()
		return &AcquisitionError{Reason: "capture unit already running"}
	}
	s.mu.Unlock()

	if len(req.VideoCommand) == 0 || len(req.AudioCommand) == 0 {
		return &AcquisitionError{Reason: "capture engine command not configured"}
	}

	video := exec.Command(req.VideoCommand[0], req.VideoCommand[1:]...)
	audio := exec.Command(req.AudioCommand[0], req.AudioCommand[1:]...)

	if err := video.Start(); err != nil {
		return &AcquisitionError{Reason: "video capture failed to start", Err: err}
	}
	if err := audio.Start(); err != nil {
		kill(video)
		_ = video.Wait()
		return &AcquisitionError{Reason: "audio capture failed to start", Err: err}
	}

	u := &unit{
		video:     video,
		audio:     audio,
		videoDone: make(chan struct{}),
		audioDone: make(chan struct{}),
		startedAt: time.Now(),
		stopPoll:  make(chan struct{}),
	}
	go func() {
		u.videoErr = video.Wait()
		close(u.videoDone)
	}()
	go func() {
		u.audioErr = audio.Wait()
		close(u.audioDone)
	}()

	// Confirm both subprocesses survive the launch window before the unit
	// is considered alive.
	select {
	case <-u.videoDone:
		s.teardown(u)
		return &AcquisitionError{Reason: "video capture exited during launch", Err: u.videoErr}
	case <-u.audioDone:
		s.teardown(u)
		return &AcquisitionError{Reason: "audio capture exited during launch", Err: u.audioErr}
	case <-ctx.Done():
		s.teardown(u)
		return &AcquisitionError{Reason: "launch cancelled", Err: ctx.Err()}
	case <-time.After(s.launchTimeout):
	}

	s.mu.Lock()
	s.unit = u
	onCrash := s.onCrash
	s.mu.Unlock()

	go s.watchLiveness(ctx, u, onCrash)

	zerolog.Ctx(ctx).Info().
		Str("session_id", req.SessionID.String()).
		Int("video_pid", video.Process.Pid).
		Int("audio_pid", audio.Process.Pid).
		Msg("capture unit launched")

	return nil
}

// watchLiveness polls subprocess state on a fixed interval. If either
// subprocess exits while the unit is not stopping, the whole unit is treated
// as crashed: the survivor is killed, partial output files are retained, and
// the crash handler is notified.
func (s *Supervisor) watchLiveness(ctx context.Context, u *unit, onCrash func(error)) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-u.stopPoll:
			return
		case <-ticker.C:
			if u.stopping.Load() {
				continue
			}
			videoExited := closed(u.videoDone)
			audioExited := closed(u.audioDone)
			if !videoExited && !audioExited {
				continue
			}

			u.crashed.Store(true)
			procErr := &ProcessError{Reason: "audio capture exited unexpectedly", ExitCode: exitCode(u.audio)}
			if videoExited {
				procErr = &ProcessError{Reason: "video capture exited unexpectedly", ExitCode: exitCode(u.video)}
			}
			if !videoExited {
				kill(u.video)
				<-u.videoDone
			}
			if !audioExited {
				kill(u.audio)
				<-u.audioDone
			}

			s.mu.Lock()
			if s.unit == u {
				s.unit = nil
			}
			s.mu.Unlock()

			zerolog.Ctx(ctx).Error().
				Str("reason", procErr.Reason).
				Int("exit_code", procErr.ExitCode).
				Msg("capture unit crashed")

			if onCrash != nil {
				onCrash(procErr)
			}
			return
		}
	}
}

// Stop signals both subprocesses to finalize output, waits up to
// gracefulTimeout, force-kills leftovers, and returns the elapsed recording
// time measured from the monotonic clock captured at launch.
func (s *Supervisor) Stop(ctx context.Context, gracefulTimeout time.Duration) (time.Duration, error) {
	s.mu.Lock()
	u := s.unit
	s.unit = nil
	s.mu.Unlock()

	if u == nil {
		return 0, ErrNoActiveCapture
	}

	u.stopping.Store(true)
	u.stopOnce.Do(func() { close(u.stopPoll) })

	if u.crashed.Load() {
		return 0, &ProcessError{Reason: "capture unit already crashed"}
	}

	interrupt(u.video)
	interrupt(u.audio)

	timer := time.NewTimer(gracefulTimeout)
	defer timer.Stop()
	graceful := true
	for _, done := range []chan struct{}{u.videoDone, u.audioDone} {
		if !graceful {
			continue
		}
		select {
		case <-done:
		case <-timer.C:
			graceful = false
		}
	}
	if !graceful {
		kill(u.video)
		kill(u.audio)
		<-u.videoDone
		<-u.audioDone
	}

	duration := time.Since(u.startedAt)
	zerolog.Ctx(ctx).Info().
		Dur("duration", duration).
		Bool("graceful", graceful).
		Msg("capture unit stopped")

	return duration, nil
}

// Poll reports liveness of the active unit's video subprocess.
func (s *Supervisor) Poll() (PollStatus, error) {
	s.mu.Lock()
	u := s.unit
	s.mu.Unlock()

	if u == nil {
		return PollStatus{}, ErrNoActiveCapture
	}
	if closed(u.videoDone) {
		code := exitCode(u.video)
		return PollStatus{Running: false, ExitCode: &code}, nil
	}
	return PollStatus{Running: true}, nil
}

// Running reports whether a unit is currently supervised.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unit != nil
}

func (s *Supervisor) teardown(u *unit) {
	u.stopping.Store(true)
	kill(u.video)
	kill(u.audio)
	<-u.videoDone
	<-u.audioDone
}

func interrupt(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		kill(cmd)
	}
}

func kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
