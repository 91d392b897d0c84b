package commands

import (
	"flag"
	"fmt"
	"io"
)

// Probe-budget constants grounded on rate_calculate.rs.
const (
	zmapPacketBits       = 560.0
	zmapPacketsPerPrefix = 32.0
	zmapShutdownWait     = 23.0 // NDP timeout

	yarrpPacketBits          = 720.0
	yarrpHopsPerProbe        = 15.0
	yarrpPacketsPerPrefixAvg = (32.0 / 2.0) * yarrpHopsPerProbe
	yarrpShutdownWait        = 10.0
)

// rateResult mirrors every figure rate_calculate.rs prints.
type rateResult struct {
	ZmapPrefixesPerSecond    float64
	ZmapPrefixesPerPeriod    float64
	ZmapDataRate             float64
	ZmapPrefixesPerSecondCap float64
	ZmapPrefixesPerSchedule  float64
	ZmapPPSCap               float64
	YarrpPacketsPerPrefix    float64
	YarrpPPS                 float64
	YarrpDataRate            float64
}

func calculateRate(scheduleIntervalSeconds, zmapPPS, zmapTargetRateTotal float64) rateResult {
	zmapDataRateAtPPS := zmapPacketBits * zmapPPS
	zmapBitsPerPrefix := zmapPacketBits * zmapPacketsPerPrefix
	zmapPrefixesPerSecond := zmapDataRateAtPPS / zmapBitsPerPrefix
	zmapSecondsPerSchedule := scheduleIntervalSeconds - zmapShutdownWait
	prefixesPerPeriod := zmapSecondsPerSchedule * zmapPrefixesPerSecond

	prefixesPerSecondAtTarget := zmapTargetRateTotal / (zmapBitsPerPrefix * zmapPrefixesPerSecond)
	prefixesTarget := prefixesPerSecondAtTarget * prefixesPerPeriod

	yarrpPacketsPerPrefix := yarrpPacketBits * yarrpPacketsPerPrefixAvg
	yarrpSecondsPerSchedule := scheduleIntervalSeconds - yarrpShutdownWait
	yarrpPrefixesPerSecond := prefixesTarget / yarrpSecondsPerSchedule
	yarrpPPS := yarrpPrefixesPerSecond * yarrpPacketsPerPrefixAvg
	yarrpDataRate := yarrpPPS * yarrpPacketBits

	return rateResult{
		ZmapPrefixesPerSecond:    zmapPrefixesPerSecond,
		ZmapPrefixesPerPeriod:    prefixesPerPeriod,
		ZmapDataRate:             zmapPrefixesPerSecond * zmapBitsPerPrefix,
		ZmapPrefixesPerSecondCap: prefixesPerSecondAtTarget,
		ZmapPrefixesPerSchedule:  prefixesTarget,
		ZmapPPSCap:               zmapTargetRateTotal / zmapPacketBits,
		YarrpPacketsPerPrefix:    yarrpPacketsPerPrefix,
		YarrpPPS:                 yarrpPPS,
		YarrpDataRate:            yarrpDataRate,
	}
}

// Rate prints the achievable zmap and yarrp throughput for a schedule
// interval and target packet rates (grounded on rate_calculate.rs; pure
// arithmetic, no store access).
func Rate(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("rate", flag.ExitOnError)
	interval := fs.Float64("schedule-interval-seconds", 120, "schedule interval, seconds")
	zmapPPS := fs.Float64("zmap-pps", 75, "zmap packets per second")
	zmapTargetRateTotal := fs.Float64("zmap-target-rate-total", 500000, "zmap target data rate, bits per second")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r := calculateRate(*interval, *zmapPPS, *zmapTargetRateTotal)

	fmt.Fprintf(w, "[zmap/pfx] target rate: %g pps\n", *zmapPPS)
	fmt.Fprintf(w, "[zmap/pfx] prefix rate: %g pfx/s\n", r.ZmapPrefixesPerSecond)
	fmt.Fprintf(w, "[zmap/pfx] prefixes per period: %g pfx/1\n", r.ZmapPrefixesPerPeriod)
	fmt.Fprintf(w, "[zmap/pfx] data rate: %g bit/s\n\n", r.ZmapDataRate)

	fmt.Fprintf(w, "[zmap/total] target data rate: %g bit/s\n", *zmapTargetRateTotal)
	fmt.Fprintf(w, "[zmap/total] prefixes per second: %g pfx/s\n", r.ZmapPrefixesPerSecondCap)
	fmt.Fprintf(w, "[zmap/total] prefixes per schedule: %g pfx/1\n", r.ZmapPrefixesPerSchedule)
	fmt.Fprintf(w, "[zmap/total] pps: %g\n\n", r.ZmapPPSCap)

	fmt.Fprintf(w, "[yarrp/total] packets per prefix: %g\n", r.YarrpPacketsPerPrefix)
	fmt.Fprintf(w, "[yarrp/total] pps: %g\n", r.YarrpPPS)
	fmt.Fprintf(w, "[yarrp/total] data rate: %g bit/s\n", r.YarrpDataRate)
	return nil
}
