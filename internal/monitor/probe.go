package monitor

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Prober reports resource usage percentages. A partial failure returns the
// values it could get along with the error.
type Prober interface {
	Sample(ctx context.Context) (cpuPct, memPct, diskPct float64, err error)
}

// SystemProber reads the host via gopsutil.
type SystemProber struct {
	// DiskPath is the mount to check; "/" when empty. Point it at the
	// database volume.
	DiskPath string
}

func (p SystemProber) Sample(ctx context.Context) (cpuPct, memPct, diskPct float64, err error) {
	if percents, cerr := cpu.PercentWithContext(ctx, 0, false); cerr != nil {
		err = cerr
	} else if len(percents) > 0 {
		cpuPct = percents[0]
	}

	if vm, merr := mem.VirtualMemoryWithContext(ctx); merr != nil {
		err = merr
	} else {
		memPct = vm.UsedPercent
	}

	path := p.DiskPath
	if path == "" {
		path = "/"
	}
	if du, derr := disk.UsageWithContext(ctx, path); derr != nil {
		err = derr
	} else {
		diskPct = du.UsedPercent
	}
	return cpuPct, memPct, diskPct, err
}
