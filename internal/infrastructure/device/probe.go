// Package device probes the accelerator once at process start. The result
// is injected into the embedding dispatcher so runtime code never shells
// out mid-pipeline.
package device

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

const probeTimeout = 10 * time.Second

// MinFreeMemoryMB is the floor below which a present accelerator is still
// treated as absent. Loading an embedding model needs headroom.
const MinFreeMemoryMB = 1024

// Probe asks nvidia-smi for free memory on the first device. Any failure
// means CPU mode; the pipeline works either way, just slower.
func Probe(ctx context.Context, logger *slog.Logger) domain.DeviceCapability {
	runCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "nvidia-smi",
		"--query-gpu=memory.free",
		"--format=csv,noheader,nounits",
	)
	output, err := cmd.Output()
	if err != nil {
		logger.Info("accelerator probe failed, using cpu", slog.String("error", err.Error()))
		return domain.DeviceCapability{}
	}

	freeMB, ok := parseFreeMemory(string(output))
	if !ok {
		logger.Warn("unreadable accelerator probe output", slog.String("output", strings.TrimSpace(string(output))))
		return domain.DeviceCapability{}
	}
	if freeMB < MinFreeMemoryMB {
		logger.Info("accelerator too full, using cpu", slog.Int("free_mb", freeMB))
		return domain.DeviceCapability{FreeMemoryMB: freeMB}
	}

	logger.Info("accelerator available", slog.Int("free_mb", freeMB))
	return domain.DeviceCapability{Accelerated: true, FreeMemoryMB: freeMB}
}

// parseFreeMemory reads the first line of the probe output. Multi-GPU hosts
// report one line per device; only the first is used.
func parseFreeMemory(output string) (int, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
