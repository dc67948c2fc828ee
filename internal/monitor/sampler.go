// Package monitor samples host resource usage, stores it with a bounded
// retention and schedules the periodic monitoring jobs.
package monitor

import (
	"context"
	"fmt"
	"log"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/blockdevice"
	"golang.org/x/sys/unix"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// sectorSize is the unit of the sector counters in /proc/diskstats.
const sectorSize = 512

var (
	// Whole disks only; partitions would double count.
	diskDevicePattern = regexp.MustCompile(`^(sd[a-z]+|nvme\d+n\d+|vd[a-z]+|xvd[a-z]+)$`)
	// Physical and wireless interfaces; loopback and bridges are skipped.
	netInterfacePattern = regexp.MustCompile(`^(eth|ens|enp|eno|wl|wlan)`)
)

// Sampler collects one metric sample.
type Sampler interface {
	Collect(ctx context.Context) (*models.MetricSample, error)
}

// DBProbe reports database connection and process counts.
type DBProbe interface {
	Probe(ctx context.Context) (connections, processes int, err error)
}

// SamplerConfig configures a ProcSampler.
type SamplerConfig struct {
	ProcPath string  // default /proc
	SysPath  string  // default /sys
	DiskPath string  // filesystem measured for disk usage, default /
	DB       DBProbe // optional
}

// ProcSampler reads host metrics from procfs and statfs.
type ProcSampler struct {
	proc     procfs.FS
	block    blockdevice.FS
	diskPath string
	db       DBProbe

	mu      sync.Mutex
	prevCPU *procfs.CPUStat
	now     func() time.Time
}

// NewProcSampler opens the proc and sys filesystems.
func NewProcSampler(cfg SamplerConfig) (*ProcSampler, error) {
	if cfg.ProcPath == "" {
		cfg.ProcPath = procfs.DefaultMountPoint
	}
	if cfg.SysPath == "" {
		cfg.SysPath = "/sys"
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}

	proc, err := procfs.NewFS(cfg.ProcPath)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	block, err := blockdevice.NewFS(cfg.ProcPath, cfg.SysPath)
	if err != nil {
		return nil, fmt.Errorf("open block device stats: %w", err)
	}

	return &ProcSampler{
		proc:     proc,
		block:    block,
		diskPath: cfg.DiskPath,
		db:       cfg.DB,
		now:      time.Now,
	}, nil
}

// Collect gathers a sample. Each probe is independent: a failing probe is
// logged and leaves its fields at zero.
func (s *ProcSampler) Collect(ctx context.Context) (*models.MetricSample, error) {
	sample := &models.MetricSample{RecordedAt: s.now()}

	if cpu, err := s.cpuUsage(); err != nil {
		log.Printf("error: sample cpu usage: %v", err)
	} else {
		sample.CPUUsage = cpu
	}

	if err := s.memory(sample); err != nil {
		log.Printf("error: sample memory: %v", err)
	}
	if err := s.disk(sample); err != nil {
		log.Printf("error: sample disk usage: %v", err)
	}
	if err := s.diskIO(sample); err != nil {
		log.Printf("error: sample disk io: %v", err)
	}
	if err := s.network(sample); err != nil {
		log.Printf("error: sample network: %v", err)
	}

	if s.db != nil {
		conns, procs, err := s.db.Probe(ctx)
		if err != nil {
			log.Printf("error: probe database: %v", err)
		} else {
			sample.DBConnections = conns
			sample.DBProcesses = procs
		}
	}

	return sample, nil
}

// cpuUsage returns the busy percentage since the previous call, or since
// boot on the first call.
func (s *ProcSampler) cpuUsage() (float64, error) {
	stat, err := s.proc.Stat()
	if err != nil {
		return 0, err
	}
	cur := stat.CPUTotal

	s.mu.Lock()
	prev := s.prevCPU
	s.prevCPU = &cur
	s.mu.Unlock()

	total, idle := cpuTotals(cur)
	if prev != nil {
		prevTotal, prevIdle := cpuTotals(*prev)
		total -= prevTotal
		idle -= prevIdle
	}
	if total <= 0 {
		return 0, nil
	}
	return round2((total - idle) / total * 100), nil
}

// cpuTotals returns total and idle jiffies. Guest time is already counted in user.
func cpuTotals(c procfs.CPUStat) (total, idle float64) {
	idle = c.Idle + c.Iowait
	total = c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal + idle
	return total, idle
}

func (s *ProcSampler) memory(sample *models.MetricSample) error {
	mi, err := s.proc.Meminfo()
	if err != nil {
		return err
	}
	if mi.MemTotal == nil {
		return fmt.Errorf("meminfo has no MemTotal")
	}

	total := *mi.MemTotal * 1024
	var available uint64
	switch {
	case mi.MemAvailable != nil:
		available = *mi.MemAvailable * 1024
	default:
		available = (deref(mi.MemFree) + deref(mi.Buffers) + deref(mi.Cached)) * 1024
	}
	if available > total {
		available = total
	}

	sample.MemoryTotal = total
	sample.MemoryUsed = total - available
	if total > 0 {
		sample.MemoryUsage = round2(float64(sample.MemoryUsed) / float64(total) * 100)
	}
	return nil
}

func (s *ProcSampler) disk(sample *models.MetricSample) error {
	var st unix.Statfs_t
	if err := unix.Statfs(s.diskPath, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", s.diskPath, err)
	}

	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bavail * bsize
	if free > total {
		free = total
	}

	sample.DiskTotal = total
	sample.DiskUsed = total - free
	if total > 0 {
		sample.DiskUsage = round2(float64(sample.DiskUsed) / float64(total) * 100)
	}
	return nil
}

func (s *ProcSampler) diskIO(sample *models.MetricSample) error {
	stats, err := s.block.ProcDiskstats()
	if err != nil {
		return err
	}
	for _, d := range stats {
		if !diskDevicePattern.MatchString(d.DeviceName) {
			continue
		}
		sample.DiskReadBytes += d.ReadSectors * sectorSize
		sample.DiskWriteBytes += d.WriteSectors * sectorSize
	}
	return nil
}

func (s *ProcSampler) network(sample *models.MetricSample) error {
	dev, err := s.proc.NetDev()
	if err != nil {
		return err
	}
	for name, line := range dev {
		if !netInterfacePattern.MatchString(name) {
			continue
		}
		sample.NetworkRxBytes += line.RxBytes
		sample.NetworkTxBytes += line.TxBytes
	}
	return nil
}

func deref(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
