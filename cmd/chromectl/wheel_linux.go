//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"chromectl"
)

// ============================================================================
// Wheel telemetry source (evdev)
// ============================================================================
// Turns a local scroll wheel into telemetry for a "console" surface, for
// kiosk boxes whose UI host provides no scroll events of its own. Wheel
// detents are integrated into a synthetic scroll offset; the controller
// does the rest exactly as it would for a remote host.
//
// The wheel has no viewport telemetry, so the session is registered
// without fine viewport metrics (keyboard inference uses the coarse
// threshold) and the viewport height is seeded from config.
// ============================================================================

// Linux input event codes we care about.
const (
	evRel    = 0x02
	relWheel = 0x08
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// runWheelSource opens the configured devices and feeds wheel movement
// into a dedicated session until ctx is canceled.
func runWheelSource(ctx context.Context, cfg WheelConfig, mgr *SessionManager, logger *slog.Logger) error {
	files := make([]*os.File, 0, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		f, err := os.Open(dev)
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return fmt.Errorf("open wheel device %s: %w (run as root or add user to 'input' group)", dev, err)
		}
		files = append(files, f)
	}

	closeFiles := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	s, err := mgr.Create(cfg.Surface, chromectl.Capabilities{FineViewportMetrics: false})
	if err != nil {
		closeFiles()
		return fmt.Errorf("register wheel session: %w", err)
	}
	defer mgr.CloseSession(cfg.Surface, "wheel source stopped")

	// A console surface is landscape and its viewport never changes on
	// its own; seed both once.
	s.ctrl.ReportOrientation(chromectl.OrientationLandscape)
	s.ctrl.ReportViewportHeight(cfg.ViewportHeightPx)

	events := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	go readWheelEventsEpoll(files, events, readErr)

	// Closing the files unblocks the epoll reader on shutdown.
	go func() {
		<-ctx.Done()
		closeFiles()
	}()

	logger.Info("wheel source running", "devices", cfg.Devices, "surface", cfg.Surface)

	var offsetPx float64
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wheel reader stopped: %w", err)

		case ev := <-events:
			if ev.Type != evRel || ev.Code != relWheel {
				continue
			}
			// Positive wheel values scroll toward the top of the page.
			offsetPx -= float64(ev.Value) * cfg.LineHeightPx
			if offsetPx < 0 {
				offsetPx = 0
			}
			if cfg.MaxOffsetPx > 0 && offsetPx > cfg.MaxOffsetPx {
				offsetPx = cfg.MaxOffsetPx
			}
			s.ctrl.RecordSample(offsetPx, timeFromInputEvent(ev))
		}
	}
}

// readWheelEventsEpoll reads from multiple input devices using epoll:
// one goroutine, woken by the kernel only when events are available.
func readWheelEventsEpoll(files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	// Map file descriptors to files for later identification
	fdToFile := make(map[int]*os.File)

	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}

		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
			return
		}
	}

	// Reusable buffers
	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		// Wait for events (blocks until at least one device has data)
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			// Handle interrupted system call (e.g., SIGINT)
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				readErr <- fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
				return
			}

			if _, err := f.Read(buf); err != nil {
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				// Skip malformed events
				continue
			}

			events <- ev
		}
	}
}

// timeFromInputEvent uses the kernel's event timestamp so coalesced
// detents keep their real spacing for velocity estimation.
func timeFromInputEvent(ev inputEvent) time.Time {
	if ev.Sec == 0 && ev.Usec == 0 {
		return time.Now()
	}
	return time.Unix(ev.Sec, ev.Usec*int64(time.Microsecond))
}
