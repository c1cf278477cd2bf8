package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// liveDisplay redraws a block of text in place on a terminal. On anything
// else it only writes the final frame.
type liveDisplay struct {
	out   io.Writer
	live  bool
	lines int
}

func newLiveDisplay(out io.Writer) *liveDisplay {
	return &liveDisplay{out: out, live: isTerminal(out)}
}

func (d *liveDisplay) draw(frame string) {
	if !d.live {
		return
	}
	d.clear()
	_, _ = io.WriteString(d.out, frame)
	d.lines = strings.Count(frame, "\n")
}

func (d *liveDisplay) finish(frame string) {
	if d.live {
		d.clear()
	}
	_, _ = io.WriteString(d.out, frame)
	d.lines = 0
}

func (d *liveDisplay) clear() {
	if d.lines > 0 {
		fmt.Fprintf(d.out, "\x1b[%dA\r\x1b[J", d.lines)
	}
}

func renderTable[R any](runs []*running[R], spinner []string, frame int) string {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	for _, r := range runs {
		icon := spinner[frame%len(spinner)]
		if r.isDone() {
			icon = r.result.Outcome.Icon()
		}
		lines := splitEntries(r.status.Render())
		fmt.Fprintf(tw, "%s\t%s\t%s\n", icon, r.status.Title(), lines[0])
		for _, line := range lines[1:] {
			fmt.Fprintf(tw, "\t\t%s\n", line)
		}
	}
	_ = tw.Flush()
	return buf.String()
}

func splitEntries(entries []string) []string {
	var lines []string
	for _, e := range entries {
		lines = append(lines, strings.Split(e, "\n")...)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

func formatNoise(title string, outcome Outcome, entries []string) string {
	return fmt.Sprintf("%s [%s] %s", outcome.Icon(), title, strings.Join(splitEntries(entries), " | "))
}

const barWidth = 30

// progressBar renders a single shared progress counter. Calls are serialized
// so that concurrent completions never interleave their output.
type progressBar struct {
	mu    sync.Mutex
	out   io.Writer
	live  bool
	title string
	total int
}

func newProgressBar(out io.Writer, title string, total int) *progressBar {
	return &progressBar{out: out, live: isTerminal(out), title: title, total: total}
}

func (b *progressBar) render(n int) string {
	filled := barWidth
	if b.total > 0 {
		filled = n * barWidth / b.total
	}
	return fmt.Sprintf("%s [%s%s] %d/%d",
		b.title, strings.Repeat("#", filled), strings.Repeat("-", barWidth-filled), n, b.total)
}

func (b *progressBar) draw(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.live {
		fmt.Fprintf(b.out, "\r\x1b[K%s", b.render(n))
	}
}

// advance records that n tasks are complete and prints line above the bar if non-empty.
func (b *progressBar) advance(n int, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.live {
		_, _ = io.WriteString(b.out, "\r\x1b[K")
	}
	if line != "" {
		fmt.Fprintln(b.out, line)
	}
	if b.live {
		_, _ = io.WriteString(b.out, b.render(n))
	}
}

func (b *progressBar) finish(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.live {
		fmt.Fprintf(b.out, "\r\x1b[K%s\n", b.render(n))
		return
	}
	fmt.Fprintf(b.out, "%s: %d/%d done\n", b.title, n, b.total)
}
