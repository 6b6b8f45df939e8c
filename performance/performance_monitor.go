package performance

import (
	"runtime"
	"time"

	"github.com/annchain/ogbft/common/goroutine"
	"github.com/sirupsen/logrus"
)

type PerformanceReporter interface {
	Name() string
	GetBenchmarks() map[string]interface{}
}

// PerformanceMonitor logs the counters of every registered reporter once per Interval.
type PerformanceMonitor struct {
	Interval  time.Duration
	reporters []PerformanceReporter
	quit      chan bool
}

func (p *PerformanceMonitor) InitDefault() {
	if p.Interval == 0 {
		p.Interval = time.Second * 5
	}
	p.quit = make(chan bool)
}

func (p *PerformanceMonitor) Register(holder PerformanceReporter) {
	p.reporters = append(p.reporters, holder)
}

func (p *PerformanceMonitor) Start() {
	goroutine.New(p.loop)
}

func (p *PerformanceMonitor) loop() {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			logrus.WithFields(p.CollectData()).Info("Performance")
		}
	}
}

func (p *PerformanceMonitor) Stop() {
	close(p.quit)
}

func (PerformanceMonitor) Name() string {
	return "PerformanceMonitor"
}

func (p *PerformanceMonitor) CollectData() logrus.Fields {
	data := make(logrus.Fields)
	for _, ch := range p.reporters {
		data[ch.Name()] = ch.GetBenchmarks()
	}
	// add additional fields
	data["goroutines"] = runtime.NumGoroutine()

	return data
}
