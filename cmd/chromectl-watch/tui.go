package main

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"

	"chromectl/wire"
)

// TUI mode: render each surface's navigation bar live. The bar position
// comes from TransformOffsetPx and Animate only, the same two fields a
// real navigation view reads, so this doubles as a demonstration that
// the collaborator contract is sufficient.

// chromePx is the nominal chrome height used to scale transform offsets
// into bar rows. The wire carries offsets in px; the exact value only
// affects how fast the drawn bar slides, not correctness.
const chromePx = 64.0

const barRows = 3

// barView is one surface's drawable state. target/drawn are the hidden
// fraction of the bar (0 fully shown, 1 fully hidden); animate selects
// between easing toward target and jumping to it.
type barView struct {
	target  float64
	drawn   float64
	animate bool

	visible  bool
	offsetPx float64
	velocity float64
	settling bool
	keyboard bool
	gone     bool // session ended
}

func runTUI(conn *websocket.Conn, filter string) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()
	screen.SetStyle(tcell.StyleDefault)

	var (
		mu    sync.Mutex
		bars  = make(map[string]*barView)
		errCh = make(chan error, 1)
	)

	// Reader: snapshots update targets; the render loop does the motion.
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			msg, err := wire.Unmarshal(message)
			if err != nil {
				continue
			}

			mu.Lock()
			switch m := msg.(type) {
			case wire.SnapshotUpdate:
				if filter == "" || m.Surface == filter {
					b, ok := bars[m.Surface]
					if !ok {
						b = &barView{drawn: 0}
						bars[m.Surface] = b
					}
					snap := m.Snapshot
					b.target = math.Min(1, -snap.Visibility.TransformOffsetPx/chromePx)
					b.animate = snap.Visibility.Animate
					b.visible = snap.Visibility.Visible
					b.offsetPx = snap.Scroll.OffsetPx
					b.velocity = snap.Scroll.VelocityPxPerMs
					b.settling = snap.Scroll.IsSettling
					b.keyboard = snap.Keyboard.Visible
					b.gone = false
				}
			case wire.SessionEnded:
				if b, ok := bars[m.Surface]; ok {
					b.gone = true
				}
			}
			mu.Unlock()
		}
	}()

	// Keys: q / ESC / Ctrl+C exit.
	quit := make(chan struct{})
	go func() {
		for {
			ev := screen.PollEvent()
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC ||
					(ev.Key() == tcell.KeyRune && ev.Rune() == 'q') {
					close(quit)
					return
				}
			case nil:
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second / 30)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return nil
		case err := <-errCh:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		case <-ticker.C:
			mu.Lock()
			for _, b := range bars {
				if b.animate {
					// Exponential ease toward the target; close enough
					// snaps so the bar actually arrives.
					b.drawn += (b.target - b.drawn) * 0.35
					if math.Abs(b.target-b.drawn) < 0.01 {
						b.drawn = b.target
					}
				} else {
					b.drawn = b.target
				}
			}
			drawBars(screen, bars)
			mu.Unlock()
		}
	}
}

// drawBars repaints the whole screen: one panel per surface, sorted by
// name so the layout is stable.
func drawBars(screen tcell.Screen, bars map[string]*barView) {
	screen.Clear()
	width, _ := screen.Size()

	names := make([]string, 0, len(bars))
	for name := range bars {
		names = append(names, name)
	}
	sort.Strings(names)

	drawText(screen, 0, 0, tcell.StyleDefault.Bold(true), "chromectl-watch  (q to quit)")

	y := 2
	for _, name := range names {
		b := bars[name]
		y = drawPanel(screen, y, width, name, b) + 1
	}
	screen.Show()
}

// drawPanel draws one surface: title, the sliding bar, a status line.
// Returns the next free row.
func drawPanel(screen tcell.Screen, y, width int, name string, b *barView) int {
	title := fmt.Sprintf("%s  offset=%.0fpx", name, b.offsetPx)
	if b.gone {
		title = name + "  (session ended)"
	}
	drawText(screen, 0, y, tcell.StyleDefault.Bold(true), title)
	y++

	// hiddenRows is how much of the bar has slid up out of view.
	hiddenRows := int(math.Round(b.drawn * barRows))
	if hiddenRows < 0 {
		hiddenRows = 0
	}
	if hiddenRows > barRows {
		hiddenRows = barRows
	}

	barStyle := tcell.StyleDefault.Background(tcell.ColorTeal)
	if b.gone {
		barStyle = tcell.StyleDefault.Background(tcell.ColorGray)
	}
	for row := 0; row < barRows; row++ {
		if row < barRows-hiddenRows {
			for x := 0; x < width; x++ {
				screen.SetContent(x, y+row, ' ', nil, barStyle)
			}
			if row == 0 {
				drawText(screen, 2, y+row, barStyle.Bold(true), "≡ navigation")
			}
		}
	}
	y += barRows

	status := fmt.Sprintf("%s  v=%.2f px/ms", visibilityWord(b.visible), b.velocity)
	if b.settling {
		status += "  scrolling"
	}
	if b.keyboard {
		status += "  [keyboard]"
	}
	drawText(screen, 0, y, tcell.StyleDefault.Dim(true), status)
	return y + 1
}

func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		screen.SetContent(x+i, y, r, nil, style)
	}
}
