package partitioner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	// PartitionPlan renders one path segment "<As>=<Func(row, Args...)>".
	PartitionPlan struct {
		Func string
		Args []string
		As   string
	}

	PartitionFunc func(row map[string]any, args []string) (string, error)
)

var (
	Functions = map[string]PartitionFunc{
		"identity": identity,
		"toYear": timeFunc(func(t time.Time) string {
			return fmt.Sprintf("%04d", t.Year())
		}),
		"toMonth": timeFunc(func(t time.Time) string {
			return fmt.Sprintf("%02d", int(t.Month()))
		}),
		"toDay": timeFunc(func(t time.Time) string {
			return fmt.Sprintf("%02d", t.Day())
		}),
		"toHour": timeFunc(func(t time.Time) string {
			return fmt.Sprintf("%02d", t.Hour())
		}),
		"toYearDay": timeFunc(func(t time.Time) string {
			return fmt.Sprintf("%03d", t.YearDay())
		}),
		"toYearWeek": timeFunc(func(t time.Time) string {
			y, w := t.ISOWeek()
			return fmt.Sprintf("%04d-%02d", y, w)
		}),
		"toWeekDay": timeFunc(func(t time.Time) string {
			return t.Weekday().String()
		}),
	}

	// ArchivePlan lays raw pages out by site and fetch day.
	ArchivePlan = []PartitionPlan{
		{Func: "identity", Args: []string{"site_id"}, As: "site"},
		{Func: "toYear", Args: []string{"fetched_at"}, As: "y"},
		{Func: "toMonth", Args: []string{"fetched_at"}, As: "m"},
		{Func: "toDay", Args: []string{"fetched_at"}, As: "d"},
	}

	ErrFuncNotFound = errors.New("partition function not found")

	ErrMissingArgs       = errors.New("missing args")
	ErrMissingColumns    = errors.New("missing one or more columns specified in args")
	ErrInvalidColumnType = errors.New("invalid column type")
)

// GetRowPartition joins the plan's segments with "/".
func GetRowPartition(row map[string]any, partitioners []PartitionPlan) (string, error) {
	finalParts := make([]string, 0, len(partitioners))
	for _, partFunc := range partitioners {
		f, ok := Functions[partFunc.Func]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrFuncNotFound, partFunc.Func)
		}

		s, err := f(row, partFunc.Args)
		if err != nil {
			return "", fmt.Errorf("error processing partition function %s: %w", partFunc.Func, err)
		}
		finalParts = append(finalParts, fmt.Sprintf("%s=%s", partFunc.As, s))
	}
	return strings.Join(finalParts, "/"), nil
}

func identity(row map[string]any, args []string) (string, error) {
	if len(args) == 0 {
		return "", ErrMissingArgs
	}
	v, exists := row[args[0]]
	if !exists || v == nil {
		return "", ErrMissingColumns
	}
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, "/=") {
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidColumnType, s)
	}
	return s, nil
}

func timeFunc(format func(time.Time) string) PartitionFunc {
	return func(row map[string]any, args []string) (string, error) {
		t, err := parseTime(row, args)
		if err != nil {
			return "", fmt.Errorf("error in parseTime: %w", err)
		}
		return format(t.UTC()), nil
	}
}

// parseTime reads args[0] from row: "now()", a time.Time, an RFC3339 string, or unix millis.
func parseTime(row map[string]any, args []string) (time.Time, error) {
	if len(args) == 0 {
		return time.Time{}, ErrMissingArgs
	}
	key := args[0]
	if key == "now()" {
		return time.Now(), nil
	}

	value, exists := row[key]
	if !exists {
		return time.Time{}, ErrMissingColumns
	}
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, ErrMissingColumns
		}
		return *v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("error in time.Parse for string: %w", err)
		}
		return t, nil
	case float64:
		return time.UnixMilli(int64(v)), nil
	case int64:
		return time.UnixMilli(v), nil
	default:
		return time.Time{}, ErrInvalidColumnType
	}
}
