package signals

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func (x *Extractor) access(ev *domain.Event, profile *domain.BehaviorProfile, lookups domain.AccessLookups) []domain.Indicator {
	a := ev.Access
	var out []domain.Indicator

	for i := len(profile.AccessReads) - 1; i >= 0; i-- {
		r := profile.AccessReads[i]
		if r.ReaderID != a.ReaderID {
			continue
		}
		if gap := ev.OccurredAt.Sub(r.At); gap >= 0 && gap < DuplicateReadWindow {
			out = append(out, indicator(domain.IndicatorDuplicateRead, x.weights.DuplicateRead,
				fmt.Sprintf("same reader %s %s ago", a.ReaderID, gap.Round(time.Second))))
		}
		break
	}

	if last, ok := profile.LastRead(); ok && last.LocationID != a.LocationID {
		if gap := ev.OccurredAt.Sub(last.At); gap >= 0 && gap < ImpossibleTravelWindow {
			out = append(out, indicator(domain.IndicatorImpossibleTravel, x.weights.ImpossibleTravel,
				fmt.Sprintf("read at %s %s after a read at %s", a.LocationID, gap.Round(time.Second), last.LocationID)))
		}
	}

	local := ev.OccurredAt.In(x.loc)
	if h := local.Hour(); h < DayStartHour || h > DayEndHour {
		out = append(out, indicator(domain.IndicatorOffHoursAccess, x.weights.OffHoursAccess,
			fmt.Sprintf("read at %02d:%02d", h, local.Minute())))
	}
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		out = append(out, indicator(domain.IndicatorWeekendAccess, x.weights.WeekendAccess,
			fmt.Sprintf("read on %s", wd)))
	}

	if reads := lookups.DailyReads + 1; reads > MaxDailyReads {
		out = append(out, indicator(domain.IndicatorExcessiveUse, x.weights.ExcessiveUse,
			fmt.Sprintf("%d reads today", reads)))
	}

	return out
}
