package tool

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"go.opentelemetry.io/otel/trace"

	"harmony-core/internal/infra/tracer"
)

const datetimeLayout = "2006-01-02T15:04:05"

var (
	offsetZone    = regexp.MustCompile(`^(?i)(?:utc|gmt)\s*([+-])\s*(\d{1,2})(?::?(\d{2}))?$`)
	shanghaiHints = []string{"shanghai", "beijing", "china", "上海", "北京", "中国"}
)

func (e *Executor) datetime(_ context.Context, span trace.Span, input string) (any, error) {
	loc, err := resolveLocation(input)
	if err != nil {
		return nil, Fail("Invalid timezone", err)
	}
	span.SetAttributes(tracer.StringAttr("tool.timezone", loc.String()))
	return e.now().In(loc).Format(datetimeLayout), nil
}

// normalizeTimezone maps free-form zone names to an IANA name or a UTC offset.
func normalizeTimezone(zone string) string {
	trimmed := strings.TrimSpace(zone)
	if trimmed == "" {
		return "UTC"
	}
	lower := strings.ToLower(trimmed)
	for _, hint := range shanghaiHints {
		if strings.Contains(lower, hint) {
			return "Asia/Shanghai"
		}
	}
	return trimmed
}

func resolveLocation(input string) (*time.Location, error) {
	zone := normalizeTimezone(input)
	if m := offsetZone.FindStringSubmatch(zone); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes := 0
		if m[3] != "" {
			minutes, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || minutes > 59 {
			return nil, fmt.Errorf("offset out of range: %s", zone)
		}
		offset := hours*3600 + minutes*60
		if m[1] == "-" {
			offset = -offset
		}
		return time.FixedZone(strings.ToUpper(strings.ReplaceAll(zone, " ", "")), offset), nil
	}
	if strings.EqualFold(zone, "utc") || strings.EqualFold(zone, "gmt") {
		return time.UTC, nil
	}
	if strings.EqualFold(zone, "local") {
		return nil, fmt.Errorf("ambiguous timezone %q", zone)
	}
	return time.LoadLocation(zone)
}
