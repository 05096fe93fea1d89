package provision

import (
	"fmt"
	"strings"
)

// report accumulates the human-readable deploy transcript returned to
// the caller and archived after a run.
type report struct {
	lines []string
}

func newReport() *report {
	return &report{}
}

func (r *report) Add(line string) {
	r.lines = append(r.lines, line)
}

func (r *report) Addf(format string, args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *report) Warnf(format string, args ...interface{}) {
	r.lines = append(r.lines, "⚠️ "+fmt.Sprintf(format, args...))
}

func (r *report) String() string {
	return strings.Join(r.lines, "\n")
}
