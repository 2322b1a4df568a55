package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// PlatformDeviceID returns a DeviceIDSource that prefers an explicit override
// and otherwise reads the host's hardware or install identifier.
func PlatformDeviceID(override string) DeviceIDSource {
	return func() (string, error) {
		if override != "" {
			return override, nil
		}
		return hostDeviceID()
	}
}

func hostDeviceID() (string, error) {
	switch runtime.GOOS {
	case "linux", "android":
		return linuxDeviceID()
	case "darwin":
		return darwinDeviceID()
	case "windows":
		return windowsDeviceID()
	default:
		return "", errors.New("unsupported platform: " + runtime.GOOS)
	}
}

func linuxDeviceID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id", "/sys/class/dmi/id/product_uuid"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return "", errors.New("no machine id found on linux")
}

func darwinDeviceID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.Split(line, "\"")
		if len(parts) >= 4 && parts[3] != "" {
			return parts[3], nil
		}
	}
	return "", errors.New("no IOPlatformUUID found")
}

func windowsDeviceID() (string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return "", err
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		str := strings.TrimSpace(string(line))
		if str != "" && !strings.EqualFold(str, "UUID") {
			return str, nil
		}
	}
	return "", errors.New("no hardware UUID found on windows")
}
