package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedReporter struct{}

func (fixedReporter) Name() string { return "fixed" }

func (fixedReporter) GetBenchmarks() map[string]interface{} {
	return map[string]interface{}{"sent": 3}
}

func TestCollectData(t *testing.T) {
	p := &PerformanceMonitor{Interval: 10 * time.Millisecond}
	p.InitDefault()
	p.Register(fixedReporter{})
	data := p.CollectData()
	assert.Equal(t, map[string]interface{}{"sent": 3}, data["fixed"])
	assert.Contains(t, data, "goroutines")

	p.Start()
	time.Sleep(30 * time.Millisecond)
	p.Stop()
}
