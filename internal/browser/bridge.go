// Package browser connects the core to a live Chrome tab over DevTools.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"chataide/internal/domain"
	"chataide/internal/site"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const (
	defaultDebugPort = 9222
	launchWait       = 15 * time.Second
	detachTimeout    = 5 * time.Second
)

// Bridge reaches Chrome over its DevTools endpoint. With RemoteURL set it
// attaches to a browser the user already runs (started with
// --remote-debugging-port); otherwise it reuses or launches a Chrome on the
// persistent profile listening on DebugPort. Either way the browser outlives
// the command.
type Bridge struct {
	remoteURL  string
	profileDir string
	headless   bool
	debugPort  int
	chromePath string
	logger     *slog.Logger
}

type BridgeConfig struct {
	RemoteURL  string // e.g. ws://127.0.0.1:9222 or http://127.0.0.1:9222
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool
	DebugPort  int    // local debugging port, default 9222
	ChromePath string // Chrome binary, looked up on PATH when empty
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".chataide", "chrome-profile")
	}
	if cfg.DebugPort == 0 {
		cfg.DebugPort = defaultDebugPort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		remoteURL:  cfg.RemoteURL,
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		debugPort:  cfg.DebugPort,
		chromePath: cfg.ChromePath,
		logger:     cfg.Logger,
	}
}

// Remote reports whether the bridge attaches to an existing browser.
func (b *Bridge) Remote() bool { return b.remoteURL != "" }

func (b *Bridge) localEndpoint() string {
	return "http://127.0.0.1:" + strconv.Itoa(b.debugPort)
}

func (b *Bridge) execOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent(userAgent),
	)
	if headless {
		return append(opts, chromedp.Headless)
	}
	return append(opts, chromedp.Flag("headless", false))
}

// launchArgs are the flags for a local Chrome that keeps running after the
// command exits.
func (b *Bridge) launchArgs(startURL string) []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(b.debugPort),
		"--user-data-dir=" + b.profileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-blink-features=AutomationControlled",
		"--user-agent=" + userAgent,
	}
	if b.headless {
		args = append(args, "--headless=new")
	}
	if startURL != "" {
		args = append(args, startURL)
	}
	return args
}

// ensureLocal returns the endpoint of the profile's Chrome, starting it when
// nothing answers on the debugging port.
func (b *Bridge) ensureLocal(ctx context.Context, startURL string) (string, error) {
	endpoint := b.localEndpoint()
	if _, err := resolveWS(ctx, endpoint); err == nil {
		return endpoint, nil
	}

	bin, err := b.chromeBinary()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	cmd := exec.Command(bin, b.launchArgs(startURL)...)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start chrome: %w", err)
	}
	b.logger.Info("started chrome", "pid", cmd.Process.Pid, "port", b.debugPort, "profile", b.profileDir)
	if err := cmd.Process.Release(); err != nil {
		b.logger.Warn("failed to release chrome process", "err", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, launchWait)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := resolveWS(waitCtx, endpoint); err == nil {
			return endpoint, nil
		}
		select {
		case <-waitCtx.Done():
			return "", fmt.Errorf("chrome did not open %s: %w", endpoint, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (b *Bridge) chromeBinary() (string, error) {
	if b.chromePath != "" {
		if _, err := os.Stat(b.chromePath); err != nil {
			return "", fmt.Errorf("chrome binary: %w", err)
		}
		return b.chromePath, nil
	}
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		candidates = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("chrome not found; set browser.chromePath")
}

// Attach connects to the active chat tab and returns a Page bound to it
// through a flat DevTools session. The caller MUST call Page.Close when done;
// closing detaches and leaves the tab open.
func (b *Bridge) Attach(ctx context.Context, startURL string) (*Page, error) {
	endpoint := b.remoteURL
	if endpoint == "" {
		var err error
		if endpoint, err = b.ensureLocal(ctx, startURL); err != nil {
			return nil, err
		}
	}

	conn, err := dialCDP(ctx, endpoint, b.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	var targets target.GetTargetsReturns
	if err := conn.call(ctx, "", target.CommandGetTargets, target.GetTargets(), &targets); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list targets: %w", err)
	}
	t := pickTarget(targets.TargetInfos)
	if t == nil {
		conn.Close()
		return nil, domain.ErrNoActiveTarget
	}
	b.logger.Debug("attaching to tab", "target", t.TargetID, "url", t.URL)

	var attached target.AttachToTargetReturns
	if err := conn.call(ctx, "", target.CommandAttachToTarget, target.AttachToTarget(t.TargetID).WithFlatten(true), &attached); err != nil {
		conn.Close()
		return nil, fmt.Errorf("attach to %s: %w", t.URL, err)
	}

	return &Page{
		conn:    conn,
		session: attached.SessionID,
		logger:  b.logger,
	}, nil
}

// pickTarget prefers a tab on a supported chat site, then any web page.
func pickTarget(targets []*target.Info) *target.Info {
	var fallback *target.Info
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		u, err := url.Parse(t.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if site.Detect(u.Hostname()) != domain.SiteGeneric {
			return t
		}
		if fallback == nil {
			fallback = t
		}
	}
	return fallback
}

// Login opens a visible browser for the user to log in manually.
// After login, cookies are saved in the profile directory.
func (b *Bridge) Login(ctx context.Context, startURL string) error {
	if b.remoteURL != "" {
		return fmt.Errorf("login is only needed for a launched browser; remote browser at %s keeps its own session", b.remoteURL)
	}
	b.logger.Info("opening browser for login", "url", startURL)

	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.execOptions(false)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(startURL)); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	b.logger.Info("browser opened. Please log in manually. Press Ctrl+C when done.")

	<-ctx.Done()

	b.logger.Info("login session saved", "profile", b.profileDir)
	return nil
}
