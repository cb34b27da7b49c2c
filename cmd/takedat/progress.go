package main

import (
	"fmt"
	"os"
	"strings"
)

const barWidth = 30

// progress draws a single-line chunk progress bar on stdout.
type progress struct {
	size  int64
	drawn bool
}

func newProgress(size int64) *progress {
	return &progress{size: size}
}

func (p *progress) update(done, total int) {
	if total <= 0 {
		return
	}
	filled := barWidth * done / total
	fmt.Fprintf(os.Stdout, "\r[%s%s] %3d%%  %d/%d chunks of %s",
		strings.Repeat("#", filled), strings.Repeat(".", barWidth-filled),
		100*done/total, done, total, formatBytes(p.size))
	p.drawn = true
}

func (p *progress) finish() {
	if p.drawn {
		fmt.Fprintln(os.Stdout)
		p.drawn = false
	}
}

// formatBytes renders n with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
