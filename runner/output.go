package runner

import (
	"strings"
	"sync"

	"github.com/acarl005/stripansi"
)

const defaultOutputTailBytes = 64 * 1024

// suiteOutput collects the combined stdout and stderr of a suite process.
// Only the last limit bytes stay in memory; the suite log file gets the rest.
type suiteOutput struct {
	limit int

	mu      sync.Mutex
	written int64
	tail    []byte
}

func newSuiteOutput(limit int) *suiteOutput {
	if limit <= 0 {
		limit = defaultOutputTailBytes
	}
	return &suiteOutput{limit: limit}
}

func (o *suiteOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.written += int64(len(p))
	if len(p) >= o.limit {
		o.tail = append(o.tail[:0], p[len(p)-o.limit:]...)
		return len(p), nil
	}
	if over := len(o.tail) + len(p) - o.limit; over > 0 {
		o.tail = append(o.tail[:0], o.tail[over:]...)
	}
	o.tail = append(o.tail, p...)
	return len(p), nil
}

// Text returns the retained output with terminal colour codes removed.
func (o *suiteOutput) Text() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return stripansi.Strip(string(o.tail))
}

// Written is the number of bytes the suite produced, retained or not.
func (o *suiteOutput) Written() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}

func (o *suiteOutput) Dropped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written > int64(len(o.tail))
}

// failureDetail appends the end of a suite's output to msg, capped at
// maxErrorDetailBytes so SuiteResult.Error stays readable in reports.
func failureDetail(msg, output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return msg
	}
	if len(output) > maxErrorDetailBytes {
		output = "..." + output[len(output)-maxErrorDetailBytes:]
	}
	return msg + ": " + output
}
