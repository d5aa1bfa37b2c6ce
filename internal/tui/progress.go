// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

// Header describes the fetch shown at the top of the screen.
type Header struct {
	Dataset  string
	DataDir  string
	Settings fetcher.Settings
}

// LiveRenderer renders an adaptive progress table for a dataset fetch.
//   - Redraws in place when the output is an ANSI terminal; appends plain
//     frames otherwise.
//   - Shows manifest totals, active downloads with progress bars and the
//     warnings datasets emitted.
type LiveRenderer struct {
	out    io.Writer
	fd     int
	header Header

	mu         sync.Mutex
	start      time.Time
	events     chan fetcher.ProgressEvent
	done       chan struct{}
	finished   chan struct{}
	stopped    bool
	hideCur    bool
	supports   bool // ANSI + interactive
	noColor    bool
	palette    map[string]*color.Color
	lastRedraw time.Time

	// manifest
	targets  int
	cached   int
	resolved int
	warnings []string
	failure  string

	// per-download state, keyed by remote file name
	files map[string]*fileState

	// overall rolling speed (EMA smoothed)
	lastTotalBytes int64
	lastTick       time.Time
	smoothedSpeed  float64
}

type fileState struct {
	path     string
	total    int64
	bytes    int64
	status   string // "downloading","extracting","done","skip","retry","error"
	attempts int
	err      string

	lastBytes     int64
	lastTime      time.Time
	smoothedSpeed float64

	started time.Time
}

// EMA smoothing factor (0.1 = very smooth, 0.5 = responsive)
const speedSmoothingFactor = 0.3

func smoothSpeed(current, previous float64) float64 {
	if previous == 0 {
		return current
	}
	return speedSmoothingFactor*current + (1-speedSmoothingFactor)*previous
}

// NewLiveRenderer starts a renderer drawing to out.
func NewLiveRenderer(out io.Writer, h Header) *LiveRenderer {
	lr := &LiveRenderer{
		out:      out,
		fd:       -1,
		header:   h,
		start:    time.Now(),
		events:   make(chan fetcher.ProgressEvent, 2048),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		files:    map[string]*fileState{},
		noColor:  os.Getenv("NO_COLOR") != "",
	}
	if f, ok := out.(*os.File); ok {
		lr.fd = int(f.Fd())
	}
	lr.supports = lr.isInteractive() && ansiOkay()
	lr.palette = newPalette(lr.supports && !lr.noColor)
	if lr.supports && !lr.noColor {
		fmt.Fprint(lr.out, "\x1b[?25l")
		lr.hideCur = true
	}
	go lr.loop()
	return lr
}

func newPalette(enabled bool) map[string]*color.Color {
	p := map[string]*color.Color{
		"green":   color.New(color.FgGreen),
		"yellow":  color.New(color.FgYellow),
		"red":     color.New(color.FgRed),
		"blue":    color.New(color.FgBlue),
		"magenta": color.New(color.FgMagenta),
		"cyan":    color.New(color.FgCyan, color.Bold),
		"bold":    color.New(color.Bold),
		"dim":     color.New(color.Faint),
	}
	for _, c := range p {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Close drains pending events, draws the final frame and restores the
// terminal.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	if lr.stopped {
		lr.mu.Unlock()
		return
	}
	lr.stopped = true
	close(lr.done)
	lr.mu.Unlock()

	<-lr.finished
	if lr.hideCur {
		fmt.Fprint(lr.out, "\x1b[?25h")
	}
	fmt.Fprintln(lr.out)
}

// Handler returns a ProgressFunc that feeds events to the renderer.
func (lr *LiveRenderer) Handler() fetcher.ProgressFunc {
	return func(ev fetcher.ProgressEvent) {
		select {
		case lr.events <- ev:
		default:
			// Progress ticks are dropped when the UI is congested.
		}
	}
}

func (lr *LiveRenderer) loop() {
	defer close(lr.finished)
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-lr.done:
			for {
				select {
				case ev := <-lr.events:
					lr.apply(ev)
				default:
					lr.render(true)
					return
				}
			}
		case ev := <-lr.events:
			lr.apply(ev)
		case <-ticker.C:
			if lr.supports {
				lr.render(false)
			}
		}
	}
}

func (lr *LiveRenderer) apply(ev fetcher.ProgressEvent) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	switch ev.Event {
	case "plan_item":
		lr.targets++
		if ev.Message == "cached" {
			lr.cached++
		}
	case "file_start":
		fs := lr.ensure(ev.Path)
		fs.total = ev.Total
		fs.status = "downloading"
		if fs.started.IsZero() {
			fs.started = time.Now()
		}
	case "file_progress":
		fs := lr.ensure(ev.Path)
		if ev.Total > 0 {
			fs.total = ev.Total
		}
		if ev.Downloaded > 0 {
			fs.bytes = ev.Downloaded
		} else if ev.Bytes > 0 {
			fs.bytes = ev.Bytes
		}
		if fs.status == "retry" {
			fs.status = "downloading"
		}
	case "file_done":
		fs := lr.ensure(ev.Path)
		if strings.HasPrefix(strings.ToLower(ev.Message), "skip") {
			fs.status = "skip"
		} else {
			fs.status = "done"
		}
		if fs.total == 0 {
			fs.total = ev.Total
		}
		fs.bytes = fs.total
	case "extract_start":
		lr.ensure(ev.Path).status = "extracting"
	case "extract_done":
		lr.ensure(ev.Path).status = "done"
	case "target_done":
		lr.resolved++
	case "retry":
		fs := lr.ensure(ev.Path)
		fs.status = "retry"
		fs.attempts = ev.Attempt
		fs.err = ev.Message
	case "warning":
		lr.warnings = append(lr.warnings, ev.Message)
	case "error":
		if ev.Path != "" {
			fs := lr.ensure(ev.Path)
			fs.status = "error"
			fs.err = ev.Message
		}
		lr.failure = ev.Message
	}
}

func (lr *LiveRenderer) ensure(path string) *fileState {
	if fs, ok := lr.files[path]; ok {
		return fs
	}
	fs := &fileState{path: path}
	lr.files[path] = fs
	return fs
}

func (lr *LiveRenderer) render(final bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	w, h := lr.termSize()
	if w < 70 {
		w = 70
	}
	if h < 12 {
		h = 12
	}

	var aggBytes, aggTotal int64
	var active []*fileState
	for _, fs := range lr.files {
		if fs.status == "downloading" || fs.status == "retry" || fs.status == "extracting" {
			active = append(active, fs)
		}
		aggTotal += fs.total
		aggBytes += fs.bytes
	}

	now := time.Now()
	if !lr.lastTick.IsZero() && now.After(lr.lastTick) {
		deltaT := now.Sub(lr.lastTick).Seconds()
		if deltaT > 0.05 {
			instant := float64(aggBytes-lr.lastTotalBytes) / deltaT
			if instant >= 0 {
				lr.smoothedSpeed = smoothSpeed(instant, lr.smoothedSpeed)
			}
			lr.lastTick = now
			lr.lastTotalBytes = aggBytes
		}
	} else if lr.lastTick.IsZero() {
		lr.lastTick = now
		lr.lastTotalBytes = aggBytes
	}
	speed := lr.smoothedSpeed
	eta := "—"
	if speed > 0 && aggTotal > 0 && aggBytes < aggTotal {
		eta = fmtDuration(time.Duration(float64(aggTotal-aggBytes)/speed) * time.Second)
	}

	if lr.supports {
		fmt.Fprint(lr.out, "\x1b[H\x1b[2J")
	}

	fmt.Fprintln(lr.out, lr.paint("cyan", fmt.Sprintf("Dataset: %s   Dir: %s", lr.header.Dataset, lr.header.DataDir)))
	s := lr.header.Settings
	fmt.Fprintln(lr.out, lr.paint("dim", fmt.Sprintf("Conns: %d   MaxActive: %d   Retries: %d   Threshold: %s   Resume: %t",
		s.Concurrency, s.MaxActiveDownloads, s.Retries, s.MultipartThreshold, !s.NoResume)))
	fmt.Fprintf(lr.out, "Targets: %d/%d   Cached: %d   Elapsed: %s\n",
		lr.resolved+lr.cached, lr.targets, lr.cached, fmtDuration(time.Since(lr.start)))

	prog := ratio(aggBytes, aggTotal)
	fmt.Fprintf(lr.out, "%s  %s  %s/%s  %s/s  ETA %s\n",
		lr.paint("green", renderBar(int(float64(w)*0.4), prog)),
		percent(prog),
		humanBytes(aggBytes), humanBytes(aggTotal),
		humanBytes(int64(speed)), eta,
	)

	fmt.Fprintln(lr.out)
	fmt.Fprintln(lr.out, lr.headerRow([]string{"Status", "File", "Progress", "Speed", "ETA"}, w))

	maxRows := h - 9 - len(lr.warnings)
	if maxRows < 3 {
		maxRows = 3
	}
	sort.Slice(active, func(i, j int) bool { return active[i].bytes > active[j].bytes })
	shown := 0
	for _, fs := range active {
		if shown >= maxRows {
			break
		}
		fmt.Fprintln(lr.out, lr.renderFileRow(fs, w))
		shown++
	}
	if shown < maxRows {
		var rest []*fileState
		for _, fs := range lr.files {
			if fs.status == "done" || fs.status == "skip" || fs.status == "error" {
				rest = append(rest, fs)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i].started.After(rest[j].started) })
		for _, fs := range rest {
			if shown >= maxRows {
				break
			}
			fmt.Fprintln(lr.out, lr.renderFileRow(fs, w))
			shown++
		}
	}

	for _, msg := range lr.warnings {
		fmt.Fprintln(lr.out, lr.paint("yellow", "warning: "+msg))
	}
	if final && lr.failure != "" {
		fmt.Fprintln(lr.out, lr.paint("red", "error: "+lr.failure))
	}
	if lr.supports && !final {
		fmt.Fprintln(lr.out, lr.paint("dim", fmt.Sprintf("Press Ctrl+C to cancel • %s %s", runtime.GOOS, runtime.GOARCH)))
	}
	lr.lastRedraw = now
}

func (lr *LiveRenderer) renderFileRow(fs *fileState, w int) string {
	statusW, speedW, etaW := 12, 10, 9
	remain := w - (statusW + speedW + etaW + 8)
	if remain < 20 {
		remain = 20
	}
	fileW := int(float64(remain) * 0.50)
	if fileW < 18 {
		fileW = 18
	}
	progressW := remain - fileW

	var st, col string
	switch fs.status {
	case "downloading":
		st, col = "▶", "yellow"
	case "extracting":
		st, col = "⇲", "cyan"
	case "done":
		st, col = "✓", "green"
	case "skip":
		st, col = "•", "blue"
	case "retry":
		st, col = "↻", "magenta"
	case "error":
		st, col = "×", "red"
	default:
		st, col = "…", "magenta"
	}
	label := st + " " + fs.status
	if fs.status == "retry" && fs.attempts > 0 {
		label = fmt.Sprintf("%s #%d", label, fs.attempts)
	}
	status := lr.paint(col, label) + strings.Repeat(" ", max(0, statusW-utf8.RuneCountInString(label)))

	p := ratio(fs.bytes, fs.total)
	progress := renderBar(progressW-18, p) + fmt.Sprintf(" %s/%s %s", humanBytes(fs.bytes), humanBytes(fs.total), percent(p))
	if utf8.RuneCountInString(progress) > progressW {
		progress = string([]rune(progress)[:progressW])
	}

	now := time.Now()
	if !fs.lastTime.IsZero() {
		if dt := now.Sub(fs.lastTime).Seconds(); dt > 0.05 {
			if instant := float64(fs.bytes-fs.lastBytes) / dt; instant >= 0 {
				fs.smoothedSpeed = smoothSpeed(instant, fs.smoothedSpeed)
			}
			fs.lastTime = now
			fs.lastBytes = fs.bytes
		}
	} else {
		fs.lastTime = now
		fs.lastBytes = fs.bytes
	}
	eta := "—"
	if fs.smoothedSpeed > 0 && fs.total > 0 && fs.bytes < fs.total {
		eta = fmtDuration(time.Duration(float64(fs.total-fs.bytes)/fs.smoothedSpeed) * time.Second)
	}

	return fmt.Sprintf("%s  %s  %s  %s  %s", status, ellipsizeMiddle(fs.path, fileW), progress,
		pad(humanBytes(int64(fs.smoothedSpeed))+"/s", speedW), pad(eta, etaW))
}

func (lr *LiveRenderer) headerRow(cols []string, w int) string {
	s := strings.Join(cols, "  ")
	if utf8.RuneCountInString(s) > w {
		s = string([]rune(s)[:w])
	}
	return lr.paint("bold", s)
}

func (lr *LiveRenderer) paint(style, s string) string {
	if c, ok := lr.palette[style]; ok {
		return c.Sprint(s)
	}
	return s
}

func ratio(n, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(n) / float64(total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return pad(s, w)
	}
	runes := []rune(s)
	half := (w - 3) / 2
	return pad(string(runes[:half])+"..."+string(runes[len(runes)-half:]), w)
}

func pad(s string, w int) string {
	r := utf8.RuneCountInString(s)
	if r >= w {
		return s
	}
	return s + strings.Repeat(" ", w-r)
}

func renderBar(width int, p float64) string {
	if width < 3 {
		width = 3
	}
	filled := int(p * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func percent(p float64) string {
	return fmt.Sprintf("%3.0f%%", p*100)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit && exp < 5 {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func (lr *LiveRenderer) termSize() (int, int) {
	if lr.fd < 0 {
		return 100, 30
	}
	w, h, err := term.GetSize(lr.fd)
	if err != nil || w <= 0 || h <= 0 {
		return 100, 30
	}
	return w, h
}

func (lr *LiveRenderer) isInteractive() bool {
	return lr.fd >= 0 && term.IsTerminal(lr.fd)
}

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}
