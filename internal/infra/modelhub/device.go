package modelhub

import (
	"os"
	"strings"
)

const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

var nvidiaDevicePath = "/dev/nvidia0"

// ResolveDevice maps a requested device to cuda or cpu. "auto" picks cuda when
// a GPU is visible to the process.
func ResolveDevice(requested string) string {
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "cuda", "gpu":
		return DeviceCUDA
	case "cpu":
		return DeviceCPU
	}
	if v := strings.TrimSpace(os.Getenv("CUDA_VISIBLE_DEVICES")); v != "" && v != "-1" {
		return DeviceCUDA
	}
	if _, err := os.Stat(nvidiaDevicePath); err == nil {
		return DeviceCUDA
	}
	return DeviceCPU
}
