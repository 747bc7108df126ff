package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calendar(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//vdircal//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return strings.Join(all, "\r\n")
}

func vevent(lines ...string) []string {
	out := append([]string{"BEGIN:VEVENT"}, lines...)
	return append(out, "END:VEVENT")
}

func memFile(t *testing.T, path, content string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	return fsys
}

func TestParseFile_Valid(t *testing.T) {
	body := calendar(vevent(
		"UID:abc-123",
		"SUMMARY:Team sync",
		"DTSTART:20250101T090000Z",
		"DTEND:20250101T100000Z",
		"LOCATION:Room 4",
		"DESCRIPTION:Weekly",
		"STATUS:CONFIRMED",
	)...)
	fsys := memFile(t, "/cal/work/abc.ics", body)

	events := ParseFile(fsys, "/cal/work/abc.ics", "work")

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "abc-123", ev.UID)
	assert.Equal(t, "Team sync", ev.Summary)
	assert.True(t, ev.Start.Equal(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)))
	require.NotNil(t, ev.End)
	assert.True(t, ev.End.Equal(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Room 4", ev.Location)
	assert.Equal(t, "Weekly", ev.Description)
	assert.Equal(t, "CONFIRMED", ev.Status)
	assert.False(t, ev.AllDay)
	assert.Equal(t, "work", ev.Collection)
	assert.Equal(t, "/cal/work/abc.ics", ev.FilePath)
	assert.Equal(t, StableID("work", "abc.ics"), ev.ID)
	assert.Nil(t, ev.Attendees)
	assert.Nil(t, ev.Categories)
	assert.Empty(t, ev.RRule)
}

func TestParseFile_MissingRequiredField(t *testing.T) {
	cases := map[string][]string{
		"no uid":     {"SUMMARY:x", "DTSTART:20250101T090000Z"},
		"no summary": {"UID:u1", "DTSTART:20250101T090000Z"},
		"no start":   {"UID:u1", "SUMMARY:x"},
		"empty uid":  {"UID:", "SUMMARY:x", "DTSTART:20250101T090000Z"},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			fsys := memFile(t, "/c/e.ics", calendar(vevent(lines...)...))
			events := ParseFile(fsys, "/c/e.ics", "c")
			assert.NotNil(t, events)
			assert.Empty(t, events)
		})
	}
}

func TestParseFile_StructuredFields(t *testing.T) {
	body := calendar(vevent(
		"UID:u-structured",
		"SUMMARY:Planning",
		"DTSTART:20250301T120000Z",
		"ORGANIZER;CN=Alice:mailto:alice@example.com",
		"ATTENDEE;CN=Bob;ROLE=REQ-PARTICIPANT:mailto:bob@example.com",
		"ATTENDEE:mailto:carol@example.com",
		"CATEGORIES:Work,Meeting",
		"CATEGORIES:Q1",
		"RRULE:FREQ=WEEKLY;COUNT=5",
	)...)
	fsys := memFile(t, "/c/p.ics", body)

	events := ParseFile(fsys, "/c/p.ics", "c")

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "mailto:alice@example.com", ev.Organizer)
	assert.Equal(t, []string{"mailto:bob@example.com", "mailto:carol@example.com"}, ev.Attendees)
	assert.Equal(t, []string{"Work", "Meeting", "Q1"}, ev.Categories)
	assert.True(t, strings.HasPrefix(ev.RRule, "FREQ=WEEKLY"), ev.RRule)
	assert.Contains(t, ev.RRule, "COUNT=5")
	assert.Nil(t, ev.End)
}

func TestParseFile_AllDay(t *testing.T) {
	body := calendar(vevent(
		"UID:u-day",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20250102",
		"DTEND;VALUE=DATE:20250103",
	)...)
	fsys := memFile(t, "/c/d.ics", body)

	events := ParseFile(fsys, "/c/d.ics", "c")

	require.Len(t, events, 1)
	ev := events[0]
	assert.True(t, ev.AllDay)
	assert.Equal(t, 2025, ev.Start.Year())
	assert.Equal(t, time.January, ev.Start.Month())
	assert.Equal(t, 2, ev.Start.Day())
}

func TestParseFile_MultipleEventsKeepOrder(t *testing.T) {
	lines := vevent("UID:first", "SUMMARY:One", "DTSTART:20250101T090000Z")
	lines = append(lines, vevent("UID:broken", "DTSTART:20250101T090000Z")...)
	lines = append(lines, vevent("UID:second", "SUMMARY:Two", "DTSTART:20250102T090000Z")...)
	fsys := memFile(t, "/c/m.ics", calendar(lines...))

	events := ParseFile(fsys, "/c/m.ics", "c")

	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].UID)
	assert.Equal(t, "second", events[1].UID)
}

func TestParseFile_IgnoresNonEventComponents(t *testing.T) {
	body := calendar(
		"BEGIN:VTODO",
		"UID:todo-1",
		"SUMMARY:Buy milk",
		"DTSTART:20250101T090000Z",
		"END:VTODO",
	)
	fsys := memFile(t, "/c/t.ics", body)

	assert.Empty(t, ParseFile(fsys, "/c/t.ics", "c"))
}

func TestParseFile_Unreadable(t *testing.T) {
	events := ParseFile(afero.NewMemMapFs(), "/c/missing.ics", "c")
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestParseICS_Empty(t *testing.T) {
	_, err := ParseICS(nil, "c", "/c/x.ics")
	assert.Error(t, err)
}

func TestIsValidItem(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/c/ok.ics", []byte(calendar()), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/c/half.ics", []byte("BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\n"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/c/text.ics", []byte("hello"), 0o644))

	assert.True(t, IsValidItem(fsys, "/c/ok.ics"))
	assert.False(t, IsValidItem(fsys, "/c/half.ics"))
	assert.False(t, IsValidItem(fsys, "/c/text.ics"))
	assert.False(t, IsValidItem(fsys, "/c/missing.ics"))
}

func TestCanonicalRRule(t *testing.T) {
	assert.Equal(t, "NOTARULE", canonicalRRule("NOTARULE"))

	got := canonicalRRule("FREQ=DAILY;INTERVAL=2")
	assert.True(t, strings.HasPrefix(got, "FREQ=DAILY"), got)
	assert.Contains(t, got, "INTERVAL=2")
	assert.Equal(t, got, canonicalRRule(got))
}

func TestSplitTextList(t *testing.T) {
	assert.Equal(t, []string{"a", "b,c", "d"}, splitTextList(`a,b\,c, d`))
	assert.Equal(t, []string{"single"}, splitTextList("single"))
}

func TestStableID(t *testing.T) {
	assert.Equal(t, StableID("work", "a.ics"), StableID("work", "a.ics"))
	assert.NotEqual(t, StableID("work", "a.ics"), StableID("home", "a.ics"))
}

func TestParseICSTime(t *testing.T) {
	ts, err := parseICSTime("20250101T090000Z", time.Local)
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)))

	loc := time.FixedZone("X", 3600)
	ts, err = parseICSTime("20250101T090000", loc)
	require.NoError(t, err)
	assert.Equal(t, loc, ts.Location())

	_, err = parseICSTime("", loc)
	assert.Error(t, err)
}
