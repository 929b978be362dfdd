// ICMP echo via fping.
//
// # Why fping?
//
// Raw ICMP sockets need CAP_NET_RAW; fping ships setuid on most distros and
// has a stable, parseable output format. One echo per probe keeps the cycle
// cheap — RTT accuracy is explicitly best-effort.
//
// # Output Parsing
//
// fping -C 1 -q writes per-target lines to stderr:
//
//	example.com : 12.45
//	example.com : -
//
// A number is the round-trip time in milliseconds, "-" a timeout.
package checks

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FpingPinger shells out to fping for a single ICMP echo.
type FpingPinger struct {
	// Path is the fping binary path. Default: "fping".
	Path string
}

// NewFpingPinger creates a pinger with defaults.
func NewFpingPinger() *FpingPinger {
	return &FpingPinger{Path: "fping"}
}

// Ping sends one echo to host and returns the RTT in milliseconds, or nil
// when the host did not answer within the timeout.
func (f *FpingPinger) Ping(ctx context.Context, host string, timeout time.Duration) (*float64, error) {
	path := f.Path
	if path == "" {
		path = "fping"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	// -C 1 : one echo per target
	// -q   : summary output only
	// -t   : per-echo timeout in milliseconds
	cmd := exec.CommandContext(ctx, path,
		"-C", "1",
		"-q",
		"-t", strconv.FormatInt(timeout.Milliseconds(), 10),
		host,
	)

	// fping writes results to stderr (historical quirk) and returns
	// non-zero when the host is unreachable, which is not an error here.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()

	return parseFpingLine(stderr.Bytes(), host)
}

// parseFpingLine extracts the RTT for host from fping -C output.
func parseFpingLine(output []byte, host string) (*float64, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) != host {
			continue
		}
		value := strings.TrimSpace(parts[1])
		if value == "-" || value == "" {
			return nil, nil
		}
		rtt, err := strconv.ParseFloat(strings.Fields(value)[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing fping output %q: %w", value, err)
		}
		return &rtt, nil
	}
	return nil, nil
}
