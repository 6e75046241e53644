package health

import (
	"context"
	"errors"
	"os"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const cpuSampleInterval = 200 * time.Millisecond

// AppInfo describes the running build.
type AppInfo struct {
	Name        string
	Version     string
	Environment string
}

// ApplicationProbe reports build and runtime metadata. It is healthy
// whenever the process can run it.
func ApplicationProbe(info AppInfo, started time.Time) Probe {
	return Probe{
		Name: CheckApplication,
		Check: func(context.Context) (CheckResult, error) {
			return CheckResult{
				Status: StatusHealthy,
				Details: map[string]interface{}{
					"name":        info.Name,
					"version":     info.Version,
					"environment": info.Environment,
					"goVersion":   runtime.Version(),
					"pid":         os.Getpid(),
					"goroutines":  runtime.NumGoroutine(),
					"uptime":      time.Since(started).Seconds(),
				},
			}, nil
		},
	}
}

// ConnectionProbe reports the store connection state and whether the store
// answers a ping.
func ConnectionProbe(conn Connection) Probe {
	return Probe{
		Name: CheckConnection,
		Check: func(ctx context.Context) (CheckResult, error) {
			responsive := conn.IsHealthy(ctx)
			st := conn.Status()

			status := StatusHealthy
			if !responsive {
				status = StatusUnhealthy
			}
			return CheckResult{
				Status: status,
				Details: map[string]interface{}{
					"state":       st.StateName,
					"host":        st.Host,
					"port":        st.Port,
					"database":    st.Database,
					"isConnected": st.IsConnected,
					"responsive":  responsive,
				},
			}, nil
		},
	}
}

// MemoryProbe reports host and process memory. It is degraded when host
// memory usage exceeds warnPercent.
func MemoryProbe(warnPercent float64) Probe {
	return Probe{
		Name: CheckMemory,
		Check: func(ctx context.Context) (CheckResult, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return CheckResult{}, err
			}

			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)

			details := map[string]interface{}{
				"totalBytes":     vm.Total,
				"usedBytes":      vm.Used,
				"availableBytes": vm.Available,
				"usedPercent":    vm.UsedPercent,
				"heapAllocBytes": ms.HeapAlloc,
				"heapSysBytes":   ms.HeapSys,
				"warnPercent":    warnPercent,
			}
			if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
				if info, err := p.MemoryInfoWithContext(ctx); err == nil {
					details["rssBytes"] = info.RSS
				}
			}

			return CheckResult{Status: thresholdStatus(vm.UsedPercent, warnPercent), Details: details}, nil
		},
	}
}

// CPUProbe samples CPU usage. It is degraded when usage exceeds
// warnPercent.
func CPUProbe(warnPercent float64) Probe {
	return Probe{
		Name: CheckCPU,
		Check: func(ctx context.Context) (CheckResult, error) {
			percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
			if err != nil {
				return CheckResult{}, err
			}
			if len(percents) == 0 {
				return CheckResult{}, errors.New("no cpu samples")
			}

			details := map[string]interface{}{
				"usedPercent": percents[0],
				"cores":       runtime.NumCPU(),
				"warnPercent": warnPercent,
			}
			if avg, err := load.AvgWithContext(ctx); err == nil {
				details["loadAverage"] = []float64{avg.Load1, avg.Load5, avg.Load15}
			}

			return CheckResult{Status: thresholdStatus(percents[0], warnPercent), Details: details}, nil
		},
	}
}

// DiskProbe reports usage of the filesystem holding path. Platforms where
// usage cannot be read report skipped.
func DiskProbe(path string, warnPercent float64) Probe {
	return Probe{
		Name: CheckDisk,
		Check: func(ctx context.Context) (CheckResult, error) {
			usage, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				return CheckResult{
					Status:  StatusSkipped,
					Details: map[string]interface{}{"reason": err.Error(), "path": path},
				}, nil
			}
			return CheckResult{
				Status: thresholdStatus(usage.UsedPercent, warnPercent),
				Details: map[string]interface{}{
					"path":        usage.Path,
					"totalBytes":  usage.Total,
					"freeBytes":   usage.Free,
					"usedPercent": usage.UsedPercent,
					"warnPercent": warnPercent,
				},
			}, nil
		},
	}
}

// EnvironmentProbe verifies required settings are present. required maps
// setting names to presence; values are never reported.
func EnvironmentProbe(required func() map[string]bool) Probe {
	return Probe{
		Name: CheckEnvironment,
		Check: func(context.Context) (CheckResult, error) {
			settings := required()
			missing := make([]string, 0)
			for name, present := range settings {
				if !present {
					missing = append(missing, name)
				}
			}
			sort.Strings(missing)

			status := StatusHealthy
			if len(missing) > 0 {
				status = StatusUnhealthy
			}
			return CheckResult{
				Status: status,
				Details: map[string]interface{}{
					"required": len(settings),
					"missing":  missing,
				},
			}, nil
		},
	}
}

// DependenciesProbe lists module versions from the embedded build info.
func DependenciesProbe() Probe {
	return Probe{
		Name: CheckDependencies,
		Check: func(context.Context) (CheckResult, error) {
			bi, ok := debug.ReadBuildInfo()
			if !ok {
				return CheckResult{
					Status:  StatusSkipped,
					Details: map[string]interface{}{"reason": "build info unavailable"},
				}, nil
			}

			modules := make(map[string]string, len(bi.Deps))
			for _, dep := range bi.Deps {
				version := dep.Version
				if dep.Replace != nil {
					version = dep.Replace.Version
				}
				modules[dep.Path] = version
			}
			return CheckResult{
				Status: StatusHealthy,
				Details: map[string]interface{}{
					"goVersion": bi.GoVersion,
					"main":      bi.Main.Path,
					"modules":   modules,
				},
			}, nil
		},
	}
}

func thresholdStatus(used, warn float64) Status {
	if warn > 0 && used > warn {
		return StatusDegraded
	}
	return StatusHealthy
}
