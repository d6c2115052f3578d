package context

import "sync"

const defaultCalibrationWindow = 100

// TokenCalibrator compares character-based estimates with the input token
// counts the provider reports, over the most recent window of requests.
// Ratio is estimated/actual: above 1 the estimator overcounts.
type TokenCalibrator struct {
	mu    sync.Mutex
	ring  [][2]int // {estimated, actual}
	next  int
	full  bool
	est   int
	act   int
	prior float64
}

func NewTokenCalibrator(window int) *TokenCalibrator {
	if window <= 0 {
		window = defaultCalibrationWindow
	}
	return &TokenCalibrator{ring: make([][2]int, window), prior: 1}
}

// Seed sets the ratio reported before any sample is recorded, typically the
// one stored with a resumed session.
func (c *TokenCalibrator) Seed(ratio float64) {
	if ratio <= 0 {
		return
	}
	c.mu.Lock()
	c.prior = ratio
	c.mu.Unlock()
}

// Record adds one request. Samples without a positive actual count are
// dropped.
func (c *TokenCalibrator) Record(estimated, actual int) {
	if actual <= 0 || estimated < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.full {
		old := c.ring[c.next]
		c.est -= old[0]
		c.act -= old[1]
	}
	c.ring[c.next] = [2]int{estimated, actual}
	c.est += estimated
	c.act += actual
	c.next = (c.next + 1) % len(c.ring)
	if c.next == 0 {
		c.full = true
	}
}

func (c *TokenCalibrator) Ratio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.act == 0 {
		return c.prior
	}
	return float64(c.est) / float64(c.act)
}

func (c *TokenCalibrator) SampleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return len(c.ring)
	}
	return c.next
}
