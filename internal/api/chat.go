package api

import (
	"fmt"
	"strings"

	"sentinel-oracle/internal/status"
)

// Respond answers a chat message about asset using keyword rules over the
// status snapshot. Rules are checked in order; the first match wins.
func Respond(message, asset string, snapshot []status.AssetStatus) string {
	msg := strings.ToLower(message)
	current := findStatus(snapshot, asset)
	price, z, reason, anomalous := summary(current)

	switch {
	case containsAny(msg, "status", "how"):
		if anomalous {
			return fmt.Sprintf("ALERT: I detected an anomaly in %s! %s. The current price is $%.2f. I recommend caution.", asset, reason, price)
		}
		return fmt.Sprintf("Everything looks normal for %s. Price is $%.2f with a z-score of %.2f. No anomalies detected.", asset, price, z)

	case containsAny(msg, "safe", "risk"):
		if anomalous {
			return fmt.Sprintf("HIGH RISK: %s shows anomalous behavior. I recommend enabling stop-loss protection.", asset)
		}
		return fmt.Sprintf("LOW RISK: %s market conditions appear stable. Your positions are safe for now.", asset)

	case containsAny(msg, "why", "explain"):
		if anomalous {
			return fmt.Sprintf("I detected an anomaly in %s because: %s. The price moved beyond its normal volatility: it sits %.2f standard deviations from the rolling mean.", asset, reason, abs(z))
		}
		return fmt.Sprintf("The current %s price is within normal ranges based on recent history. No significant deviation detected.", asset)

	case strings.Contains(msg, "price") || mentionsAsset(msg, snapshot):
		updated := "never"
		if current != nil && !current.UpdatedAt.IsZero() {
			updated = current.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		return fmt.Sprintf("The current %s price is $%.2f. Last updated: %s", asset, price, updated)

	case containsAny(msg, "hello", "hi"):
		return fmt.Sprintf("Hello! I'm Sentinel, your oracle guardian. I monitor %d assets: %s. Ask me about price status, risks, or anomalies!",
			len(snapshot), strings.Join(assetNames(snapshot), ", "))

	case strings.Contains(msg, "help"):
		return strings.Join([]string{
			"I can help you with:",
			fmt.Sprintf("- Current status: \"How is %s doing?\"", asset),
			fmt.Sprintf("- Risk assessment: \"Is my %s position safe?\"", asset),
			"- Explanations: \"Why did you flag an anomaly?\"",
			fmt.Sprintf("- Price info: \"What's the current %s price?\"", asset),
			"- Multi-asset overview: \"Show me all assets\"",
		}, "\n")

	case containsAny(msg, "all", "overview"):
		var b strings.Builder
		b.WriteString("Multi-Asset Overview:\n")
		for i := range snapshot {
			p, _, _, bad := summary(&snapshot[i])
			state := "Normal"
			if bad {
				state = "Anomalous"
			}
			if snapshot[i].Flagged {
				state += " (flagged on-chain)"
			}
			fmt.Fprintf(&b, "- %s: $%.2f - %s\n", snapshot[i].Asset, p, state)
		}
		return b.String()

	default:
		return fmt.Sprintf("I'm monitoring %s. Current price: $%.2f. Ask me about status, risks, or anomalies!", asset, price)
	}
}

func findStatus(snapshot []status.AssetStatus, asset string) *status.AssetStatus {
	for i := range snapshot {
		if snapshot[i].Asset == asset {
			return &snapshot[i]
		}
	}
	return nil
}

func summary(st *status.AssetStatus) (price, z float64, reason string, anomalous bool) {
	if st == nil || st.LastVerdict == nil {
		return 0, 0, "no data yet", false
	}
	v := st.LastVerdict
	return v.Price, v.Z(), v.Reason, v.IsAnomalous
}

func mentionsAsset(msg string, snapshot []status.AssetStatus) bool {
	for _, st := range snapshot {
		base, _, _ := strings.Cut(st.Asset, "/")
		if base != "" && strings.Contains(msg, strings.ToLower(base)) {
			return true
		}
	}
	return false
}

func assetNames(snapshot []status.AssetStatus) []string {
	names := make([]string, 0, len(snapshot))
	for _, st := range snapshot {
		names = append(names, st.Asset)
	}
	return names
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
