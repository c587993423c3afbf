package main

import (
	"fmt"
	"io"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/shipper/shippy/upload"
)

// progressPrinter renders upload progress on a single terminal line.
type progressPrinter struct {
	out     io.Writer
	started time.Time
	base    int64
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

func (p *progressPrinter) Started(target upload.Target, state upload.SessionState) {
	p.started = time.Now()
	p.base = state.CommittedOffset
	if state.Resumed {
		fmt.Fprintf(p.out, "Resuming %s at %s\n", target.Filename, units.HumanSize(float64(state.CommittedOffset)))
	}
	p.render(state.CommittedOffset, target.Size)
}

func (p *progressPrinter) Progress(committed, total int64) {
	p.render(committed, total)
}

func (p *progressPrinter) Waiting(remaining int) {
	if remaining == 0 {
		fmt.Fprint(p.out, "\r\033[K")
		return
	}
	fmt.Fprintf(p.out, "\r\033[K%s", color.YellowString(
		"Waiting to resume after being rate limited. shippy will resume uploading in %d seconds.", remaining))
}

func (p *progressPrinter) Finalizing() {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Verifying the upload with the server...")
}

func (p *progressPrinter) render(committed, total int64) {
	percent := 100.0
	if total > 0 {
		percent = float64(committed) * 100 / float64(total)
	}

	rate := ""
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 && committed > p.base {
		rate = fmt.Sprintf(" • %s/s", units.HumanSize(float64(committed-p.base)/elapsed))
	}

	fmt.Fprintf(p.out, "\r\033[K%5.1f%% • %s / %s%s", percent,
		units.HumanSize(float64(committed)), units.HumanSize(float64(total)), rate)
}
