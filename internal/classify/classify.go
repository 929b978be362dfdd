// Package classify maps a probe snapshot plus recent history onto the
// three-state traffic light.
//
// # Hysteresis
//
// A single 5xx or one slow ping is degradation, not an outage. The classifier
// only escalates to red when the failure is sustained across the evaluation
// window (the current snapshot plus up to four predecessors), which keeps a
// flapping site from producing a page-storm.
package classify

import "github.com/pingtower/pingtower/pkg/types"

// WindowSize is how many snapshots the classifier looks at: the current one
// plus up to four from history.
const WindowSize = 5

// Thresholds in the order the rules consult them.
const (
	latencyRedMs     = 2500
	latencyHardRedMs = 5000
	latencyOrangeMs  = 1500

	pingSustainedRedMs = 1200
	pingRedMs          = 1500
	pingOrangeMs       = 600

	sslOrangeDays = 7

	maxRedirects = 5
)

// Classify returns the traffic light for the current snapshot given the
// site's recent history (oldest first, newest last). Only the last
// WindowSize-1 history entries participate; older ones are ignored.
//
// Rules are evaluated in a fixed order and the first rule that decides wins.
func Classify(current types.ProbeSnapshot, history []types.ProbeSnapshot) types.TrafficLight {
	window := buildWindow(current, history)

	// 1. No HTTP response at all.
	if current.HTTPStatus == nil {
		return types.LightRed
	}
	status := *current.HTTPStatus

	// 2. Server errors escalate when sustained.
	if status >= 500 {
		if lastTwoStatusAtLeast(window, 500) || countStatusAtLeast(window, 500) > 2 {
			return types.LightRed
		}
		return types.LightOrange
	}

	// 3. Client errors.
	if status >= 400 {
		return types.LightOrange
	}

	// 4. HTTP latency.
	switch {
	case current.LatencyMs == nil:
		return types.LightRed
	case *current.LatencyMs > latencyHardRedMs:
		return types.LightRed
	case *current.LatencyMs > latencyRedMs:
		return types.LightRed
	case *current.LatencyMs > latencyOrangeMs:
		return types.LightOrange
	}

	// 5. ICMP ping, sustained degradation first.
	if current.PingMs != nil {
		if lastTwoPingAbove(window, pingSustainedRedMs) {
			return types.LightRed
		}
		if *current.PingMs > pingRedMs {
			return types.LightRed
		}
		if *current.PingMs > pingOrangeMs {
			return types.LightOrange
		}
	}

	// 6. Certificate expiry.
	if current.SSLDaysLeft != nil {
		if *current.SSLDaysLeft <= 0 {
			return types.LightRed
		}
		if *current.SSLDaysLeft < sslOrangeDays {
			return types.LightOrange
		}
	}

	// 7. DNS.
	if !current.DNSResolved {
		return types.LightRed
	}

	// 8. Redirect chains.
	if current.Redirects != nil && *current.Redirects > maxRedirects {
		return types.LightOrange
	}

	// 9. Healthy.
	return types.LightGreen
}

// buildWindow assembles the evaluation window: up to the last four history
// snapshots followed by the current one, oldest first.
func buildWindow(current types.ProbeSnapshot, history []types.ProbeSnapshot) []types.ProbeSnapshot {
	keep := WindowSize - 1
	if len(history) > keep {
		history = history[len(history)-keep:]
	}
	window := make([]types.ProbeSnapshot, 0, len(history)+1)
	window = append(window, history...)
	window = append(window, current)
	return window
}

// lastTwoStatusAtLeast reports whether the two newest snapshots in the
// window both have an HTTP status >= min.
func lastTwoStatusAtLeast(window []types.ProbeSnapshot, min int) bool {
	if len(window) < 2 {
		return false
	}
	for _, snap := range window[len(window)-2:] {
		if snap.HTTPStatus == nil || *snap.HTTPStatus < min {
			return false
		}
	}
	return true
}

// countStatusAtLeast counts window snapshots with HTTP status >= min.
func countStatusAtLeast(window []types.ProbeSnapshot, min int) int {
	n := 0
	for _, snap := range window {
		if snap.HTTPStatus != nil && *snap.HTTPStatus >= min {
			n++
		}
	}
	return n
}

// lastTwoPingAbove reports whether the two newest snapshots both have a ping
// strictly above the threshold.
func lastTwoPingAbove(window []types.ProbeSnapshot, thresholdMs float64) bool {
	if len(window) < 2 {
		return false
	}
	for _, snap := range window[len(window)-2:] {
		if snap.PingMs == nil || *snap.PingMs <= thresholdMs {
			return false
		}
	}
	return true
}
