package publisher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressReporterIsMonotonic(t *testing.T) {
	var events []int
	p := newProgressReporter(1000, func(percent int) { events = append(events, percent) })

	p.start()
	for i := 0; i < 10; i++ {
		_, _ = p.Write(make([]byte, 100))
	}
	p.finish()

	require.Equal(t, []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 99, 100}, events)
	require.EqualValues(t, 1000, p.transferred())
}

func TestProgressReporterUnknownSize(t *testing.T) {
	var events []int
	p := newProgressReporter(0, func(percent int) { events = append(events, percent) })

	p.start()
	_, _ = p.Write(make([]byte, 4096))
	p.finish()

	require.Equal(t, []int{0, 100}, events)
}

func TestProgressReporterSilentAfterClose(t *testing.T) {
	var events []int
	p := newProgressReporter(100, func(percent int) { events = append(events, percent) })

	p.start()
	p.close()
	_, _ = p.Write(make([]byte, 50))
	p.finish()

	require.Equal(t, []int{0}, events)
}
