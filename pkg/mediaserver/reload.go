package mediaserver

import (
	"context"
	"fmt"
	"github.com/rs/zerolog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

type Reloader interface {
	Name() string
	Reload(ctx context.Context) error
}

// ReloadChain tries each reloader in order and stops at the first success.
type ReloadChain struct {
	reloaders []Reloader
	timeout   time.Duration
}

func NewReloadChain(timeout time.Duration, reloaders ...Reloader) *ReloadChain {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ReloadChain{reloaders: reloaders, timeout: timeout}
}

// Reload returns the name of the method that worked, or false if none did.
func (c *ReloadChain) Reload(ctx context.Context) (string, bool) {
	for _, r := range c.reloaders {
		if ctx.Err() != nil {
			break
		}
		if err := c.attempt(ctx, r); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("method", r.Name()).Msg("reload method failed")
			continue
		}
		zerolog.Ctx(ctx).Info().Str("method", r.Name()).Msg("media server reloaded")
		return r.Name(), true
	}
	zerolog.Ctx(ctx).Error().Int("methods", len(c.reloaders)).Msg("all reload methods failed, new configuration is written but not active")
	return "", false
}

func (c *ReloadChain) attempt(ctx context.Context, r Reloader) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reload panicked: %v", rec)
		}
	}()
	return r.Reload(ctx)
}

type signalReloader struct {
	pidFile     string
	processName string
	procDir     string
	signal      func(pid int) error
}

// NewSignalReloader sends SIGHUP to the process whose pid is in pidFile,
// provided /proc reports it as processName. A stale pid file that now
// names an unrelated process is refused.
func NewSignalReloader(pidFile, processName string) Reloader {
	return &signalReloader{
		pidFile:     pidFile,
		processName: processName,
		procDir:     "/proc",
		signal:      sighup,
	}
}

func sighup(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGHUP)
}

func (r *signalReloader) Name() string { return "signal" }

func (r *signalReloader) Reload(ctx context.Context) error {
	raw, err := os.ReadFile(r.pidFile)
	if err != nil {
		return err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid in %s", r.pidFile)
	}
	if err := r.verify(pid); err != nil {
		return err
	}
	return r.signal(pid)
}

// verify checks the pid against the expected process name. The kernel
// truncates comm to 15 bytes.
func (r *signalReloader) verify(pid int) error {
	if r.processName == "" {
		return fmt.Errorf("no process name configured for pid %d", pid)
	}
	comm, err := os.ReadFile(filepath.Join(r.procDir, strconv.Itoa(pid), "comm"))
	if err != nil {
		return fmt.Errorf("inspect pid %d: %w", pid, err)
	}
	want := r.processName
	if len(want) > 15 {
		want = want[:15]
	}
	if got := strings.TrimSpace(string(comm)); got != want {
		return fmt.Errorf("pid %d is %q, not %q; pid file %s looks stale", pid, got, r.processName, r.pidFile)
	}
	return nil
}

type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

type serviceManagerReloader struct {
	unit string
	run  CommandRunner
}

// NewServiceManagerReloader runs `systemctl reload <unit>`. A nil run uses os/exec.
func NewServiceManagerReloader(unit string, run CommandRunner) Reloader {
	if run == nil {
		run = execRunner
	}
	return &serviceManagerReloader{unit: unit, run: run}
}

func (r *serviceManagerReloader) Name() string { return "service-manager" }

func (r *serviceManagerReloader) Reload(ctx context.Context) error {
	if r.unit == "" {
		return fmt.Errorf("no service unit configured")
	}
	return r.run(ctx, "systemctl", "reload", r.unit)
}

type httpReloader struct {
	client Client
}

// NewHTTPReloader posts to the media server's control-plane reload path.
func NewHTTPReloader(client Client) Reloader {
	return &httpReloader{client: client}
}

func (r *httpReloader) Name() string { return "http" }

func (r *httpReloader) Reload(ctx context.Context) error {
	return r.client.Reload(ctx)
}
