package icron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the 5-field form used by cron.New() plus descriptors
// such as "@hourly" and "@every 10m".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom |
	cron.Month | cron.Dow | cron.Descriptor)

// maxLookback bounds the search for the previous trigger.
const maxLookback = 31 * 24 * time.Hour

type TriggerInfo struct {
	Expression string    `json:"expression"`
	Next       time.Time `json:"next"`
	Last       time.Time `json:"last"`

	TimeSinceLast time.Duration `json:"-"`
	TimeUntilNext time.Duration `json:"-"`
}

func Parse(expr string) (cron.Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// GetTriggerInfo reports the triggers around refTime. Last stays zero when
// no trigger fired within maxLookback.
func GetTriggerInfo(expr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: expr,
		Next:       schedule.Next(refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)

	// Walk back in widening steps until a window contains a trigger, then
	// walk forward inside it to the latest one not after refTime.
	for step := time.Minute; step <= maxLookback; step *= 2 {
		candidate := schedule.Next(refTime.Add(-step))
		if candidate.After(refTime) {
			continue
		}
		for {
			following := schedule.Next(candidate)
			if following.After(refTime) {
				break
			}
			candidate = following
		}
		info.Last = candidate
		info.TimeSinceLast = refTime.Sub(candidate)
		break
	}

	return info, nil
}
