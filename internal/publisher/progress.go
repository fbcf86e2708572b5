package publisher

import "sync"

// progressReporter turns bytes written through it into whole percentages.
// The transport may read the body on its own goroutine, so every field is
// guarded and nothing is reported once the upload has returned.
type progressReporter struct {
	mu     sync.Mutex
	total  int64
	done   int64
	last   int
	cb     ProgressFunc
	closed bool
}

func newProgressReporter(total int64, cb ProgressFunc) *progressReporter {
	return &progressReporter{total: total, cb: cb, last: -1}
}

func (p *progressReporter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += int64(len(b))
	if p.total > 0 {
		percent := int(p.done * 100 / p.total)
		// 100 is reserved for a confirmed 2xx.
		if percent > 99 {
			percent = 99
		}
		p.emit(percent)
	}
	return len(b), nil
}

func (p *progressReporter) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emit(0)
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emit(100)
}

func (p *progressReporter) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *progressReporter) transferred() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *progressReporter) emit(percent int) {
	if p.cb == nil || p.closed || percent <= p.last {
		return
	}
	p.last = percent
	p.cb(percent)
}
