package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide session counter.
var Stats = &stats{}

type stats struct {
	Joins     atomic.Int64 // peers admitted while hosting, since process start
	Leaves    atomic.Int64 // peers departed while hosting, since process start
	Spawns    atomic.Int64 // player objects spawned while hosting
	BytesSent atomic.Int64 // session bytes written to the room relay or a direct link
	BytesRecv atomic.Int64 // session bytes read from the room relay or a direct link
}

func (s *stats) AddJoin()      { s.Joins.Add(1) }
func (s *stats) AddLeave()     { s.Leaves.Add(1) }
func (s *stats) AddSpawn()     { s.Spawns.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs session statistics
// every interval, skipping quiet periods. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevJoins, prevLeaves, prevSpawns int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				joins := Stats.Joins.Load()
				leaves := Stats.Leaves.Load()
				spawns := Stats.Spawns.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				inP := joins - prevJoins
				outP := leaves - prevLeaves
				newO := spawns - prevSpawns

				if inP > 0 || outP > 0 || newO > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inP, outP, newO))
				}

				prevSent = sent
				prevRecv = recv
				prevJoins = joins
				prevLeaves = leaves
				prevSpawns = spawns

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed width (8 chars) string,
// for example "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inP, outP, spawned int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Peers: %2d↑ %2d↓ | Spawned: %2d",
		formatBytes(inS),
		formatBytes(outS),
		inP,
		outP,
		spawned,
	)
}
