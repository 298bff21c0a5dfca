package telemetry

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/metric"
)

// registerProcessMetrics exposes process CPU and memory usage as observable
// gauges, sampled at scrape time.
func (t *Telemetry) registerProcessMetrics() error {
	meter := t.meterProvider.Meter("cnamed/process")

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("failed to open own process: %w", err)
	}

	cpuPercent, err := meter.Float64ObservableGauge(
		"process.cpu.percent",
		metric.WithDescription("Process CPU usage, normalized to 0-100 across all cores"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cpu gauge: %w", err)
	}

	rssBytes, err := meter.Int64ObservableGauge(
		"process.memory.rss",
		metric.WithDescription("Process resident set size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create rss gauge: %w", err)
	}

	memPercent, err := meter.Float64ObservableGauge(
		"process.memory.percent",
		metric.WithDescription("Process RSS as a percentage of total system memory"),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory percent gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		// Percent(0) measures since the previous call, so scrapes see the
		// average over the scrape interval without blocking here.
		if cpu, cpuErr := proc.PercentWithContext(ctx, 0); cpuErr == nil {
			if n := runtime.NumCPU(); n > 0 {
				cpu /= float64(n)
			}
			o.ObserveFloat64(cpuPercent, cpu)
		}

		memInfo, memErr := proc.MemoryInfoWithContext(ctx)
		if memErr != nil {
			return nil
		}
		o.ObserveInt64(rssBytes, int64(memInfo.RSS))

		if vm, vmErr := mem.VirtualMemoryWithContext(ctx); vmErr == nil && vm.Total > 0 {
			o.ObserveFloat64(memPercent, float64(memInfo.RSS)/float64(vm.Total)*100)
		}
		return nil
	}, cpuPercent, rssBytes, memPercent)
	if err != nil {
		return fmt.Errorf("failed to register process metrics callback: %w", err)
	}

	t.logger.Info("Process metrics registered")
	return nil
}
