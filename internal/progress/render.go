package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func Render(r Report, elapsed time.Duration) string {
	percent := 0.0
	if r.Total > 0 {
		percent = float64(r.Current) * 100 / float64(r.Total)
	}
	speed := 0.0
	if elapsed > 0 {
		speed = float64(r.Current) / elapsed.Seconds()
	}
	eta := "0 seconds"
	if speed > 0 && r.Total > r.Current {
		remaining := time.Duration(float64(r.Total-r.Current) / speed * float64(time.Second))
		eta = formatETA(remaining)
	}

	var b strings.Builder
	if r.Chapter.Index > 0 && r.Chapter.Total > 0 {
		fmt.Fprintf(&b, "Chapter %d/%d | ", r.Chapter.Index, r.Chapter.Total)
	}
	b.WriteString(r.Label)
	b.WriteString("\n\n")
	b.WriteString(r.ItemName)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Size: %s | %s\n", humanize.Bytes(nonNegative(r.Current)), humanize.Bytes(nonNegative(r.Total)))
	fmt.Fprintf(&b, "Done: %.3f%%\n", percent)
	fmt.Fprintf(&b, "Speed: %s/s\n", humanize.Bytes(uint64(speed)))
	fmt.Fprintf(&b, "ETA: %s", eta)
	return b.String()
}

func formatETA(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	ref := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(ref, ref.Add(d.Round(time.Second)), "", ""))
}

func nonNegative(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
