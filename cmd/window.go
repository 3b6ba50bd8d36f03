package main

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valueup-cli/internal/model"
)

const dateLayout = "2006-01-02"

// periods maps KIND's period buttons to a lookback from today.
var periods = map[string]func(time.Time) time.Time{
	"1주":  func(t time.Time) time.Time { return t.AddDate(0, 0, -7) },
	"1개월": func(t time.Time) time.Time { return t.AddDate(0, -1, 0) },
	"3개월": func(t time.Time) time.Time { return t.AddDate(0, -3, 0) },
	"6개월": func(t time.Time) time.Time { return t.AddDate(0, -6, 0) },
	"1년":  func(t time.Time) time.Time { return t.AddDate(-1, 0, 0) },
	"2년":  func(t time.Time) time.Time { return t.AddDate(-2, 0, 0) },
	"3년":  func(t time.Time) time.Time { return t.AddDate(-3, 0, 0) },
	"전체":  func(time.Time) time.Time { return time.Time{} },
}

// windowFlags are the date selection flags of the run command. At most one
// of from/to, days or period may be set; the default is the last 7 days.
type windowFlags struct {
	from   string
	to     string
	days   int
	period string
}

// resolve builds the KST window. The end is always the end of its day.
func (f windowFlags) resolve(now time.Time) (model.DateWindow, error) {
	today := startOfDay(now.In(model.KST))
	end := endOfDay(today)

	set := 0
	if f.from != "" || f.to != "" {
		set++
	}
	if f.days > 0 {
		set++
	}
	if f.period != "" {
		set++
	}
	if set > 1 {
		return model.DateWindow{}, eris.New("window: use only one of --from/--to, --days or --period")
	}

	switch {
	case f.from != "" || f.to != "":
		w := model.DateWindow{End: end}
		if f.from != "" {
			start, err := time.ParseInLocation(dateLayout, f.from, model.KST)
			if err != nil {
				return model.DateWindow{}, eris.Wrapf(err, "window: parse --from %q", f.from)
			}
			w.Start = start
		}
		if f.to != "" {
			to, err := time.ParseInLocation(dateLayout, f.to, model.KST)
			if err != nil {
				return model.DateWindow{}, eris.Wrapf(err, "window: parse --to %q", f.to)
			}
			w.End = endOfDay(to)
		}
		if !w.Start.IsZero() && w.Start.After(w.End) {
			return model.DateWindow{}, eris.Errorf("window: --from %s is after --to %s", f.from, f.to)
		}
		return w, nil
	case f.period != "":
		back, ok := periods[f.period]
		if !ok {
			return model.DateWindow{}, eris.Errorf("window: unknown period %q (1주, 1개월, 3개월, 6개월, 1년, 2년, 3년, 전체)", f.period)
		}
		return model.DateWindow{Start: back(today), End: end}, nil
	default:
		days := f.days
		if days <= 0 {
			days = 7
		}
		return model.DateWindow{Start: today.AddDate(0, 0, -days), End: end}, nil
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
