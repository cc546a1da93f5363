package signals

import (
	"fmt"
	"net/netip"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func (x *Extractor) onboarding(ev *domain.Event, lookups domain.OnboardingLookups) []domain.Indicator {
	o := ev.Onboarding
	var out []domain.Indicator

	dups := []struct {
		field string
		name  string
		score float64
	}{
		{domain.IdentityEmail, domain.IndicatorDuplicateEmail, x.weights.DuplicateEmail},
		{domain.IdentityPhone, domain.IndicatorDuplicatePhone, x.weights.DuplicatePhone},
		{domain.IdentityNationalID, domain.IndicatorDuplicateNationalID, x.weights.DuplicateNationalID},
	}
	for _, d := range dups {
		if owners := lookups.Duplicates[d.field]; len(owners) > 0 {
			out = append(out, indicator(d.name, d.score,
				fmt.Sprintf("%s already registered to %d other account(s)", d.field, len(owners))))
		}
	}

	if o.DeviceFingerprint != "" && lookups.DeviceAccounts >= DeviceReuseAccounts {
		out = append(out, indicator(domain.IndicatorDeviceReuse, x.weights.DeviceReuse,
			fmt.Sprintf("device seen on %d accounts in 30 days", lookups.DeviceAccounts)))
	}

	if m := o.Interaction; m != nil {
		switch {
		case m.FormCompletionSecs < FormFastSecs:
			out = append(out, indicator(domain.IndicatorFormTooFast, x.weights.FormTooFast,
				fmt.Sprintf("form completed in %.1fs", m.FormCompletionSecs)))
		case m.FormCompletionSecs > FormSlowSecs:
			out = append(out, indicator(domain.IndicatorFormTooSlow, x.weights.FormTooSlow,
				fmt.Sprintf("form open for %.0fs", m.FormCompletionSecs)))
		}
		if m.PasteCount > MaxPasteCount {
			out = append(out, indicator(domain.IndicatorExcessivePaste, x.weights.ExcessivePaste,
				fmt.Sprintf("%d paste events", m.PasteCount)))
		}
		if m.PointerEvents <= MinPointerEvents {
			out = append(out, indicator(domain.IndicatorNoPointer, x.weights.NoPointer,
				fmt.Sprintf("%d pointer events", m.PointerEvents)))
		}
	}

	if !x.devMode && isInternalAddress(o.IPAddress) {
		out = append(out, indicator(domain.IndicatorPrivateIP, x.weights.PrivateIP,
			"registration from a non-routable address"))
	}
	if o.IPAddress != "" && lookups.IPDetections >= IPBurstDetections {
		out = append(out, indicator(domain.IndicatorIPBurst, x.weights.IPBurst,
			fmt.Sprintf("%d detections from this address in 24h", lookups.IPDetections)))
	}

	return out
}

// isInternalAddress reports private, loopback and link-local addresses.
// Unparseable input is not treated as internal.
func isInternalAddress(raw string) bool {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()
}
