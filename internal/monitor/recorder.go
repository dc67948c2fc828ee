package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/metrics"
	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

// DefaultRetention is how long samples are kept.
const DefaultRetention = 24 * time.Hour

// Recorder collects samples, stores them and prunes old ones.
type Recorder struct {
	sampler   Sampler
	samples   storage.MetricRepository
	retention time.Duration
	now       func() time.Time
}

// NewRecorder creates a Recorder. A non-positive retention uses DefaultRetention.
func NewRecorder(sampler Sampler, samples storage.MetricRepository, retention time.Duration) *Recorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Recorder{
		sampler:   sampler,
		samples:   samples,
		retention: retention,
		now:       time.Now,
	}
}

// Record stores one sample and deletes samples older than the retention.
func (r *Recorder) Record(ctx context.Context) (*models.MetricSample, error) {
	sample, err := r.sampler.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect sample: %w", err)
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = r.now()
	}
	if err := r.samples.Record(ctx, sample); err != nil {
		return nil, fmt.Errorf("record sample: %w", err)
	}
	metrics.SamplesRecordedTotal.Inc()
	metrics.HostCPUUsage.Set(sample.CPUUsage)
	metrics.HostMemoryUsage.Set(sample.MemoryUsage)
	metrics.HostDiskUsage.Set(sample.DiskUsage)

	pruned, err := r.samples.DeleteBefore(ctx, r.now().Add(-r.retention))
	if err != nil {
		log.Printf("warning: prune metric samples: %v", err)
		return sample, nil
	}
	if pruned > 0 {
		metrics.SamplesPrunedTotal.Add(float64(pruned))
	}
	return sample, nil
}
