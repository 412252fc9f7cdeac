package cmd

import (
	"io"

	"vidextract/domain/extraction"

	"github.com/schollz/progressbar/v3"
)

// newProgressBar renders job percentage (0-100) to out
func newProgressBar(out io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { io.WriteString(out, "\n") }),
	)
}

// progressRenderer moves a bar forward as Progress events arrive
type progressRenderer struct {
	out  io.Writer
	bar  *progressbar.ProgressBar
	last int
}

func newProgressRenderer(out io.Writer, description string) *progressRenderer {
	return &progressRenderer{out: out, bar: newProgressBar(out, description), last: -1}
}

// Show moves the bar to p. The bar never moves backwards.
func (r *progressRenderer) Show(p extraction.Progress) {
	pct := min(int(p.Percentage*100), 100)
	if pct <= r.last {
		return
	}
	r.last = pct
	_ = r.bar.Set(pct)
}

// Finish completes the bar when the job succeeded, and only ends the line otherwise
func (r *progressRenderer) Finish(succeeded bool) {
	if succeeded {
		_ = r.bar.Finish()
		return
	}
	_ = r.bar.Exit()
	io.WriteString(r.out, "\n")
}
