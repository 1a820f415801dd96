package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"chromectl/wire"
)

// ============================================================================
// chromectl-send - Command-line IPC Client
// ============================================================================
// This tool sends control commands to the chromectl daemon via IPC.
//
// Usage:
//   chromectl-send show
//   chromectl-send -surface page hide
//   chromectl-send set hide-threshold-px=64 settle-debounce-ms=200
//   chromectl-send snapshot
//   chromectl-send history 20
//
// Options:
//   -socket PATH     Unix domain socket path (default: /tmp/chromectl.sock)
//   -surface NAME    Target surface (default: all active sessions)
//   -force           Re-apply visibility even if already in that state
// ============================================================================

func main() {
	socketPath := "/tmp/chromectl.sock"
	surface := ""
	force := false

	// Parse leading options
	args := os.Args[1:]
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-socket", "--socket":
			if len(args) < 2 {
				fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
				os.Exit(1)
			}
			socketPath = args[1]
			args = args[2:]

		case "-surface", "--surface":
			if len(args) < 2 {
				fmt.Fprintf(os.Stderr, "error: -surface requires an argument\n")
				os.Exit(1)
			}
			surface = args[1]
			args = args[2:]

		case "-force", "--force":
			force = true
			args = args[1:]

		case "-h", "--help":
			printUsage()
			os.Exit(0)

		default:
			fmt.Fprintf(os.Stderr, "error: unknown option: %s\n", args[0])
			printUsage()
			os.Exit(1)
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Parse command
	var cmd wire.Message

	switch args[0] {
	case "show":
		cmd = wire.ForceVisibility{Surface: surface, Visible: true, Force: force}

	case "hide":
		cmd = wire.ForceVisibility{Surface: surface, Visible: false, Force: force}

	case "set":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: set requires at least one key=value pair\n")
			os.Exit(1)
		}
		patch, err := parsePatch(surface, args[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cmd = patch

	case "snapshot":
		cmd = wire.GetSnapshot{Surface: surface}

	case "history":
		limit := 20
		if len(args) >= 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "error: history limit must be a positive integer\n")
				os.Exit(1)
			}
			limit = n
		}
		cmd = wire.GetHistory{Surface: surface, Limit: limit}

	case "help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := sendCommand(socketPath, cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.Data) > 0 {
		var pretty any
		if err := json.Unmarshal(resp.Data, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return
		}
		fmt.Println(string(resp.Data))
		return
	}
	fmt.Println("ok")
}

// parsePatch turns key=value pairs into a config patch command.
func parsePatch(surface string, pairs []string) (wire.ConfigPatch, error) {
	patch := wire.ConfigPatch{Surface: surface}

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return patch, fmt.Errorf("expected key=value, got %q", pair)
		}

		switch key {
		case "hide-threshold-px":
			v, err := parseFloat(key, value)
			if err != nil {
				return patch, err
			}
			patch.HideThresholdPx = v
		case "show-threshold-px":
			v, err := parseFloat(key, value)
			if err != nil {
				return patch, err
			}
			patch.ShowThresholdPx = v
		case "hide-velocity":
			v, err := parseFloat(key, value)
			if err != nil {
				return patch, err
			}
			patch.HideVelocityThreshold = v
		case "show-velocity":
			v, err := parseFloat(key, value)
			if err != nil {
				return patch, err
			}
			patch.ShowVelocityThreshold = v
		case "settle-debounce-ms":
			v, err := parseFloat(key, value)
			if err != nil {
				return patch, err
			}
			patch.SettleDebounceMs = v
		case "keyboard-threshold-px":
			v, err := parseFloat(key, value)
			if err != nil {
				return patch, err
			}
			patch.KeyboardDetectionThresholdPx = v
		case "respect-reduced-motion":
			v, err := parseBool(key, value)
			if err != nil {
				return patch, err
			}
			patch.RespectReducedMotion = v
		case "keyboard-detection":
			v, err := parseBool(key, value)
			if err != nil {
				return patch, err
			}
			patch.EnableKeyboardDetection = v
		case "safe-area-detection":
			v, err := parseBool(key, value)
			if err != nil {
				return patch, err
			}
			patch.EnableSafeAreaDetection = v
		default:
			return patch, fmt.Errorf("unknown config key: %s", key)
		}
	}

	return patch, nil
}

func parseFloat(key, value string) (*float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %q", key, value)
	}
	return &v, nil
}

func parseBool(key, value string) (*bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %q (want true/false)", key, value)
	}
	return &v, nil
}

// sendCommand sends one command line and reads the daemon's reply.
func sendCommand(socketPath string, cmd wire.Message) (wire.Response, error) {
	var resp wire.Response

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return resp, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := wire.Marshal(cmd)
	if err != nil {
		return resp, fmt.Errorf("marshal command: %w", err)
	}

	// Send command (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return resp, fmt.Errorf("send command: %w", err)
	}

	decoder := json.NewDecoder(conn)
	if err := decoder.Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}

	if resp.Status != "ok" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}

	return resp, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `chromectl-send - Control a chromectl daemon via IPC

Usage:
  chromectl-send [options] <command> [args]

Options:
  -socket PATH     Unix domain socket path (default: /tmp/chromectl.sock)
  -surface NAME    Target surface (default: all active sessions)
  -force           Re-apply visibility even if already in that state

Commands:
  show                    Force chrome visible
  hide                    Force chrome hidden
  set <key=value>...      Patch controller config at runtime
  snapshot                Print current state snapshot(s)
  history [N]             Print last N visibility transitions (default 20)
  help, -h, --help        Show this help message

Config keys for set:
  hide-threshold-px, show-threshold-px, hide-velocity, show-velocity,
  settle-debounce-ms, keyboard-threshold-px, respect-reduced-motion,
  keyboard-detection, safe-area-detection

Examples:
  chromectl-send show
  chromectl-send -surface page -force hide
  chromectl-send set hide-threshold-px=64 settle-debounce-ms=200
  chromectl-send -surface console history 50
`)
}
