// Command vmctl wires the virtual-memory subsystem's components
// together, runs one of the named end-to-end scenarios on demand, and
// serves its runtime counters over Prometheus's /metrics.
package main

import (
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/log"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/Siromanec/xv6-public/internal/blockdev"
	"github.com/Siromanec/xv6-public/internal/mem"
	"github.com/Siromanec/xv6-public/internal/pagetable"
	"github.com/Siromanec/xv6-public/internal/ptable"
	"github.com/Siromanec/xv6-public/internal/swap"
	"github.com/Siromanec/xv6-public/internal/vmstat"
)

var (
	nframes       = kingpin.Flag("frames", "Physical frames in the simulated pool.").Default("64").Int()
	swapFile      = kingpin.Flag("swap-file", "Path to the swap backing file.").Default("vmctl-swap.img").String()
	swapSlots     = kingpin.Flag("swap-slots", "Number of swap slots in the backing file.").Default("16").Uint32()
	listenAddress = kingpin.Flag("web.listen-address", "Address to serve /metrics on; empty disables the server.").Default(":9142").String()
	scenario      = kingpin.Flag("scenario", "Which end-to-end scenario to run (1-6); 0 runs none.").Default("0").Int()
)

// rig bundles every collaborator the subsystem's components need.
type rig struct {
	pm    *mem.Physmem_t
	disk  *blockdev.FileDisk
	store *swap.Store
	sm    *swap.Map
	procs *ptable.MemTable
	pt    *pagetable.Manager
	ev    *swap.Evictor
	stats *vmstat.Stats
}

func buildRig(stats *vmstat.Stats) (*rig, error) {
	pm := mem.NewPhysmem(*nframes, true)
	pm.Freerange(0, mem.Pa_t(*nframes*mem.PGSIZE))

	disk, err := blockdev.NewFileDisk(*swapFile, bitmapBlocks(*swapSlots)+*swapSlots)
	if err != nil {
		return nil, errors.Wrap(err, "opening swap file")
	}
	store, err := swap.NewStore(disk, *swapSlots)
	if err != nil {
		return nil, errors.Wrap(err, "initializing swap store")
	}
	sm := swap.NewMap(64, store)
	procs := ptable.NewMemTable()
	pt := pagetable.NewManager(pm, sm, nil)
	pt.Stats = stats
	ev := swap.NewEvictor(pt, procs, sm)
	ev.Stats = stats

	return &rig{pm: pm, disk: disk, store: store, sm: sm, procs: procs, pt: pt, ev: ev, stats: stats}, nil
}

func bitmapBlocks(nslots uint32) uint32 {
	bitmapBytes := (nslots + 7) / 8
	return (bitmapBytes + blockdev.BlockSize - 1) / blockdev.BlockSize
}

func (r *rig) close() { r.disk.Close() }

func main() {
	kingpin.Version("vmctl")
	kingpin.Parse()

	stats := vmstat.New()
	r, err := buildRig(stats)
	if err != nil {
		log.Errorf("building rig: %v", err)
		os.Exit(1)
	}
	defer r.close()

	if *listenAddress != "" {
		serveMetrics(r)
	}

	if *scenario == 0 {
		if *listenAddress == "" {
			return
		}
		select {} // metrics-only mode: block forever
	}

	if err := runScenario(*scenario, r); err != nil {
		log.Errorf("scenario %d failed: %v", *scenario, err)
		os.Exit(1)
	}
	log.Infof("scenario %d passed", *scenario)

	if *listenAddress != "" {
		select {} // keep serving the scenario's final counters
	}
}

// serveMetrics registers a vmstat.Collector sampling r's live pool and
// slot occupancy, then starts the HTTP handler in the background.
func serveMetrics(r *rig) {
	collector := vmstat.NewCollector(r.stats,
		func() int { return r.pm.Freecount() },
		r.sm.Occupancy,
	)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Infof("serving metrics on %s/metrics", *listenAddress)
		if err := http.ListenAndServe(*listenAddress, mux); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()
}

func runScenario(n int, r *rig) error {
	switch n {
	case 1:
		return scenario1(r)
	case 2:
		return scenario2(r)
	case 3:
		return scenario3(r)
	case 4:
		return scenario4(r)
	case 5:
		return scenario5(r)
	case 6:
		return scenario6(r)
	default:
		return errors.Errorf("unknown scenario %d (valid: 1-6)", n)
	}
}
