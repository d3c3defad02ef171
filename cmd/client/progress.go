package main

import (
	"io"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

type barKey struct {
	name     string
	outgoing bool
}

// transferBars keeps one progress bar per running file transfer
type transferBars struct {
	p    *mpb.Progress
	mu   sync.Mutex
	bars map[barKey]*mpb.Bar
}

func newTransferBars(out io.Writer) *transferBars {
	return &transferBars{
		p: mpb.New(
			mpb.WithWidth(64),
			mpb.WithRefreshRate(120*time.Millisecond),
			mpb.WithOutput(out),
		),
		bars: make(map[barKey]*mpb.Bar),
	}
}

func newFileBar(p *mpb.Progress, label string, total int64) *mpb.Bar {
	return p.New(total,
		mpb.BarStyle(),
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Name(label+" ", decor.WC{C: decor.DindentRight}),
			decor.CountersKibiByte("% .1f / % .1f"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.Name(" | "),
			decor.AverageSpeed(decor.SizeB1024(0), "% .1f"),
		),
	)
}

// Update moves the bar for name to done, creating it on first progress
func (t *transferBars) Update(name string, outgoing bool, done, total int64) {
	if total <= 0 {
		return
	}
	key := barKey{name: name, outgoing: outgoing}

	t.mu.Lock()
	bar, ok := t.bars[key]
	if !ok {
		label := "<- " + name
		if outgoing {
			label = "-> " + name
		}
		bar = newFileBar(t.p, label, total)
		bar.DecoratorAverageAdjust(time.Now())
		t.bars[key] = bar
	}
	t.mu.Unlock()

	bar.SetCurrent(done)
}

// Finish completes or aborts the bar for name
func (t *transferBars) Finish(name string, outgoing, ok bool) {
	key := barKey{name: name, outgoing: outgoing}

	t.mu.Lock()
	bar := t.bars[key]
	delete(t.bars, key)
	t.mu.Unlock()

	if bar == nil {
		return
	}
	if ok {
		bar.SetTotal(-1, true)
	} else {
		bar.Abort(true)
	}
}

// Wait aborts leftover bars and waits for rendering to stop
func (t *transferBars) Wait() {
	t.mu.Lock()
	for key, bar := range t.bars {
		bar.Abort(true)
		delete(t.bars, key)
	}
	t.mu.Unlock()
	t.p.Wait()
}
