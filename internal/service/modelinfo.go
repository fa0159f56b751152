package service

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// ModelInfo combines static profile metadata with runtime state.
type ModelInfo struct {
	ModelType     string            `json:"model_type"`
	Version       string            `json:"version"`
	APIVersion    string            `json:"api_version"`
	Profile       string            `json:"profile"`
	Task          string            `json:"task"`
	Application   string            `json:"application"`
	InputSize     string            `json:"input_size"`
	InputShape    []int64           `json:"input_shape"`
	NumClasses    string            `json:"num_classes"`
	ClassMapping  map[string]string `json:"class_mapping"`
	Activation    string            `json:"output_activation"`
	Framework     string            `json:"framework"`
	Dataset       string            `json:"dataset"`
	ModelLoaded   bool              `json:"model_loaded"`
	ModelPath     string            `json:"model_path"`
	Device        string            `json:"device"`
	ModelSize     string            `json:"model_size,omitempty"`
	LoadedAt      string            `json:"loaded_at,omitempty"`
	StartTime     string            `json:"start_time"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Host          HostInfo          `json:"host"`
}

// HostInfo is best effort; fields stay zero when the platform does not expose them.
type HostInfo struct {
	Hostname      string  `json:"hostname,omitempty"`
	OS            string  `json:"os"`
	Arch          string  `json:"arch"`
	LogicalCPUs   int     `json:"logical_cpus,omitempty"`
	MemoryTotalMB float64 `json:"memory_total_mb,omitempty"`
	MemoryUsedPct float64 `json:"memory_used_percent,omitempty"`
	GoVersion     string  `json:"go_version"`
}

// ModelInfo reports what is being served and where.
func (s *Service) ModelInfo(ctx context.Context) ModelInfo {
	now := s.now().UTC()
	info := ModelInfo{
		ModelType:     "Convolutional Neural Network (CNN)",
		Version:       Version,
		APIVersion:    Version,
		Profile:       s.prof.Name,
		Task:          s.prof.Task,
		Application:   s.prof.Application,
		InputSize:     s.prof.InputDescription(),
		InputShape:    s.prof.InputShape(),
		NumClasses:    fmt.Sprintf("%d (%s)", s.prof.NumClasses(), strings.Join(s.prof.Labels, ", ")),
		ClassMapping:  s.classMapping(),
		Activation:    s.prof.Activation.String(),
		Framework:     "ONNX Runtime",
		Dataset:       s.prof.Dataset,
		ModelLoaded:   s.Loaded(),
		ModelPath:     s.model.Path(),
		Device:        string(s.model.Device()),
		StartTime:     s.started.Format("2006-01-02T15:04:05.000000Z07:00"),
		UptimeSeconds: now.Sub(s.started).Seconds(),
		Host:          hostInfo(ctx),
	}
	if s.model.Loaded() {
		info.ModelSize = fmt.Sprintf("%.2f MB", float64(s.model.SizeBytes())/(1024*1024))
		info.LoadedAt = s.model.LoadedAt().Format("2006-01-02T15:04:05.000000Z07:00")
	}
	return info
}

func hostInfo(ctx context.Context) HostInfo {
	hi := HostInfo{OS: runtime.GOOS, Arch: runtime.GOARCH, GoVersion: runtime.Version()}
	if h, err := host.InfoWithContext(ctx); err == nil {
		hi.Hostname = h.Hostname
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		hi.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hi.MemoryTotalMB = float64(vm.Total) / (1024 * 1024)
		hi.MemoryUsedPct = vm.UsedPercent
	}
	return hi
}
