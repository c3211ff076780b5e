package monitoring

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Throughput keeps process-wide byte totals and periodically derives a rate
// from them. The counters are monotonically increasing for the life of the
// process and are purely observational.
type Throughput struct {
	rxTotal atomic.Uint64
	txTotal atomic.Uint64

	// Reporter-goroutine state, untouched by AddRx/AddTx.
	lastRx uint64
	lastTx uint64

	interval time.Duration
	log      *zap.SugaredLogger
	metrics  *Collector
}

// NewThroughput creates the counters. metrics may be nil.
func NewThroughput(interval time.Duration, log *zap.SugaredLogger, metrics *Collector) *Throughput {
	return &Throughput{
		interval: interval,
		log:      log,
		metrics:  metrics,
	}
}

// AddRx records n received bytes. Safe for concurrent use.
func (t *Throughput) AddRx(n int) {
	if n <= 0 {
		return
	}
	t.rxTotal.Add(uint64(n))
	if t.metrics != nil {
		t.metrics.AddRxBytes(n)
	}
}

// AddTx records n transmitted bytes. Safe for concurrent use.
func (t *Throughput) AddTx(n int) {
	if n <= 0 {
		return
	}
	t.txTotal.Add(uint64(n))
	if t.metrics != nil {
		t.metrics.AddTxBytes(n)
	}
}

// Totals returns the cumulative byte counters.
func (t *Throughput) Totals() (rx, tx uint64) {
	return t.rxTotal.Load(), t.txTotal.Load()
}

// Run reports throughput once per interval until stop is closed. Quiet
// intervals are not logged.
func (t *Throughput) Run(stop <-chan struct{}) {
	t.log.Info("throughput monitoring started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.report()
		case <-stop:
			return
		}
	}
}

func (t *Throughput) report() {
	rxDelta, txDelta := t.sample()
	if rxDelta == 0 && txDelta == 0 {
		return
	}

	secs := t.interval.Seconds()
	rx, tx := t.Totals()
	t.log.Infow("throughput",
		"rx_kbps", uint64(float64(rxDelta*8)/1000/secs),
		"tx_kbps", uint64(float64(txDelta*8)/1000/secs),
		"rx_total_mb", float64(rx)/(1024*1024),
		"tx_total_mb", float64(tx)/(1024*1024),
	)
}

// sample returns the byte deltas since the previous sample.
func (t *Throughput) sample() (rxDelta, txDelta uint64) {
	rx, tx := t.Totals()
	rxDelta = rx - t.lastRx
	txDelta = tx - t.lastTx
	t.lastRx = rx
	t.lastTx = tx
	return rxDelta, txDelta
}
