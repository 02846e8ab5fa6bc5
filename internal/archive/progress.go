package archive

import "math"

const (
	cooldownFraction = 0.05
	minCooldownStep  = 5
)

// CooldownStep returns how many reply fetches are made between two cooldowns
// when total threads are stale: 5% of the total, but never fewer than 5.
func CooldownStep(total int) int {
	step := int(math.Round(float64(total) * cooldownFraction))
	if step < minCooldownStep {
		return minCooldownStep
	}
	return step
}

// Progress tracks the reply fetches of one pass. It is owned by a single
// coordinator call and returned to the caller once the call completes.
type Progress struct {
	Total  int // stale threads found in this pass
	Done   int // threads fetched so far
	Step   int // fetches between cooldowns
	Pauses int // cooldowns taken
}

// NewProgress creates a tracker for total stale threads.
func NewProgress(total int) *Progress {
	return &Progress{Total: total, Step: CooldownStep(total)}
}

// Advance records one completed fetch and reports whether a cooldown is due.
func (p *Progress) Advance() bool {
	p.Done++
	return p.Done%p.Step == 0
}

// TransferProgress counts bytes of a single download and decides when a
// progress notice is due. It is meant to be used as one side of an
// io.MultiWriter.
type TransferProgress struct {
	Name    string
	Total   int64 // expected size; 0 when unknown
	Written int64 // bytes seen so far
	Steps   int64 // notices per full transfer
	Notices int   // notices emitted

	logger     Logger
	lastBucket int64
}

// NewTransferProgress creates a tracker that logs every 10% of total.
func NewTransferProgress(name string, total int64, logger Logger) *TransferProgress {
	return &TransferProgress{Name: name, Total: total, Steps: 10, logger: logger, lastBucket: -1}
}

func (p *TransferProgress) Write(b []byte) (int, error) {
	p.Written += int64(len(b))
	if p.Total <= 0 {
		return len(b), nil
	}

	bucket := p.Written * p.Steps / p.Total
	if bucket > p.lastBucket {
		p.lastBucket = bucket
		p.Notices++
		if p.logger != nil {
			p.logger.Debug("download progress",
				"file", p.Name,
				"bytes", p.Written,
				"total", p.Total,
				"percent", p.Written*100/p.Total,
			)
		}
	}
	return len(b), nil
}
