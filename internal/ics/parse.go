package ics

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/teambition/rrule-go"

	appLog "vdircal/internal/log"
	"vdircal/internal/model"
)

var (
	errMissingUID     = errors.New("missing UID")
	errMissingSummary = errors.New("missing SUMMARY")
	errMissingStart   = errors.New("missing or unparsable DTSTART")
)

// ParseFile reads one vdir item and returns its events. It never fails: read
// and decode errors are logged and yield an empty slice.
func ParseFile(fsys afero.Fs, path, collection string) []model.CalendarEvent {
	body, err := afero.ReadFile(fsys, path)
	if err != nil {
		appLog.Error("vdir item read failed", err, "path", path, "collection", collection)
		return []model.CalendarEvent{}
	}

	events, err := ParseICS(body, collection, path)
	if err != nil {
		appLog.Error("vdir item parse failed", err, "path", path, "collection", collection)
		return []model.CalendarEvent{}
	}
	return events
}

// IsValidItem is a cheap structural check run before the full decode: the file
// must contain both a BEGIN:VCALENDAR and an END:VCALENDAR marker.
func IsValidItem(fsys afero.Fs, path string) bool {
	body, err := afero.ReadFile(fsys, path)
	if err != nil {
		return false
	}
	return bytes.Contains(body, []byte("BEGIN:VCALENDAR")) && bytes.Contains(body, []byte("END:VCALENDAR"))
}

// ParseICS decodes a calendar document into normalized events.
//
//   - Only VEVENT components are kept.
//   - A VEVENT without UID, SUMMARY or DTSTART is dropped.
//   - RRULE is canonicalized but never expanded.
func ParseICS(body []byte, collection, path string) ([]model.CalendarEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}

	id := StableID(collection, filepath.Base(path))
	events := make([]model.CalendarEvent, 0, 1)

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Debug("ics vevent skipped", "path", path, "collection", collection, "reason", perr.Error())
			continue
		}
		ev.Collection = collection
		ev.FilePath = path
		ev.ID = id
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "path", path, "collection", collection, "event_count", len(events))
	return events, nil
}

// StableID derives an id that stays the same for as long as the item keeps
// its collection and file name.
func StableID(collection, filename string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("vdir://"+collection+"/"+filename)).String()
}

func parseVEvent(ve *ical.VEvent) (model.CalendarEvent, error) {
	var out model.CalendarEvent

	out.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if out.UID == "" {
		return out, errMissingUID
	}
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	if out.Summary == "" {
		return out, errMissingSummary
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	start, ok := eventTime(dtStart, ve.GetStartAt)
	if !ok {
		return out, errMissingStart
	}
	out.Start = start
	out.AllDay = isDateOnly(dtStart)

	if end, ok := eventTime(ve.GetProperty(ical.ComponentPropertyDtEnd), ve.GetEndAt); ok {
		out.End = &end
	}

	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Status = propValue(ve, ical.ComponentPropertyStatus)

	// ORGANIZER/ATTENDEE may carry parameters (CN, ROLE, ...); the value is
	// always the calendar address itself.
	out.Organizer = propValue(ve, ical.ComponentPropertyOrganizer)

	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		if p.Value != "" {
			out.Attendees = append(out.Attendees, p.Value)
		}
	}

	// CATEGORIES is a comma list and may repeat.
	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range splitTextList(p.Value) {
			if c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	if raw := propValue(ve, ical.ComponentPropertyRrule); raw != "" {
		out.RRule = canonicalRRule(raw)
	}

	return out, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Value)
}

// eventTime resolves a DTSTART/DTEND value. The library helper handles
// VTIMEZONE/TZID; values it rejects go through parseICSTime.
func eventTime(prop *ical.IANAProperty, get func() (time.Time, error)) (time.Time, bool) {
	if prop == nil || strings.TrimSpace(prop.Value) == "" {
		return time.Time{}, false
	}
	if t, err := get(); err == nil && !t.IsZero() {
		return t, true
	}

	loc := time.Local
	if tzs, ok := prop.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			loc = l
		}
	}
	t, err := parseICSTime(prop.Value, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// isDateOnly reports whether DTSTART is a DATE value (VALUE=DATE or no time part).
func isDateOnly(prop *ical.IANAProperty) bool {
	if prop == nil {
		return false
	}
	if vs, ok := prop.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(prop.Value, "T")
}

// canonicalRRule normalizes an RRULE value through rrule-go. A rule the
// library cannot read is kept verbatim.
func canonicalRRule(raw string) string {
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		appLog.Debug("rrule kept verbatim", "rrule", raw, "reason", err.Error())
		return raw
	}
	return opt.RRuleString()
}

// splitTextList splits a TEXT list on unescaped commas and unescapes the parts.
func splitTextList(v string) []string {
	var (
		parts []string
		cur   strings.Builder
	)
	escaped := false
	for _, r := range v {
		switch {
		case escaped:
			switch r {
			case 'n', 'N':
				cur.WriteRune('\n')
			default:
				cur.WriteRune(r)
			}
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, strings.TrimSpace(cur.String()))
	return parts
}

// parseICSTime parses a basic ICS date/date-time string.
// Floating and date-only values are interpreted in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, loc)
}
