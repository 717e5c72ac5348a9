package match

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/filecast/pkg/store"
)

// Filter evaluates whether a remote object passes filter criteria.
//
// Every criterion works on the metadata returned by a list call, so
// filtering never costs extra store requests.
type Filter interface {
	// Match returns true if the object passes the filter.
	Match(obj *store.RemoteObject) bool

	// String returns a human-readable description of the filter.
	String() string
}

// FilterConfig holds filter criteria from CLI flags.
type FilterConfig struct {
	// Names configures display-name globs.
	Names Config `json:"names" yaml:"names"`

	// States are allowed object states (ACTIVE, PROCESSING, FAILED).
	States []string `json:"states,omitempty" yaml:"states,omitempty"`

	// MIMETypes are allowed MIME types. Globs such as "image/*" are accepted.
	MIMETypes []string `json:"mime_types,omitempty" yaml:"mime_types,omitempty"`

	// Size specifies min/max size constraints.
	Size *SizeFilterConfig `json:"size,omitempty" yaml:"size,omitempty"`

	// Created specifies a creation time range.
	Created *DateFilterConfig `json:"created,omitempty" yaml:"created,omitempty"`

	// IDRegex is a regex applied to canonical ids.
	IDRegex string `json:"id_regex,omitempty" yaml:"id_regex,omitempty"`
}

// SizeFilterConfig specifies size constraints.
type SizeFilterConfig struct {
	// Min is the minimum size (inclusive). Supports human-readable: "1KB", "100MiB".
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum size (inclusive).
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// DateFilterConfig specifies date range constraints.
type DateFilterConfig struct {
	// After keeps objects created at or after this time (inclusive).
	// Supports ISO 8601: "2024-01-15" or "2024-01-15T10:30:00Z".
	After string `json:"after,omitempty" yaml:"after,omitempty"`

	// Before keeps objects created before this time (exclusive).
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

// Filter errors.
var (
	ErrInvalidSize  = errors.New("invalid size value")
	ErrInvalidDate  = errors.New("invalid date value")
	ErrInvalidRegex = errors.New("invalid regex pattern")
	ErrInvalidState = errors.New("invalid state")
)

// NameFilter applies a Matcher to display names.
type NameFilter struct {
	m *Matcher
}

// NewNameFilter creates a name filter. Returns nil when cfg has no patterns.
func NewNameFilter(cfg Config) (*NameFilter, error) {
	if len(cfg.Includes) == 0 && len(cfg.Excludes) == 0 {
		return nil, nil
	}
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &NameFilter{m: m}, nil
}

// Match returns true if the display name passes the matcher.
func (f *NameFilter) Match(obj *store.RemoteObject) bool {
	return f.m.Match(obj.DisplayName)
}

func (f *NameFilter) String() string {
	parts := []string{}
	if inc := f.m.IncludePatterns(); len(inc) > 0 {
		parts = append(parts, "match: "+strings.Join(inc, "|"))
	}
	if exc := f.m.ExcludePatterns(); len(exc) > 0 {
		parts = append(parts, "exclude: "+strings.Join(exc, "|"))
	}
	return strings.Join(parts, ", ")
}

// StateFilter keeps objects in one of the given states.
type StateFilter struct {
	states map[store.State]bool
	raw    []string
}

// NewStateFilter creates a state filter. Returns nil if states is empty.
func NewStateFilter(states []string) (*StateFilter, error) {
	if len(states) == 0 {
		return nil, nil
	}
	f := &StateFilter{states: make(map[store.State]bool)}
	for _, s := range states {
		st := store.State(strings.ToUpper(strings.TrimSpace(s)))
		switch st {
		case store.StateActive, store.StateProcessing, store.StateFailed, store.StateUnspecified:
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidState, s)
		}
		f.states[st] = true
		f.raw = append(f.raw, string(st))
	}
	return f, nil
}

// Match returns true if the object's state is allowed.
func (f *StateFilter) Match(obj *store.RemoteObject) bool {
	return f.states[obj.State]
}

func (f *StateFilter) String() string {
	return "state: " + strings.Join(f.raw, "|")
}

// MIMETypeFilter keeps objects whose MIME type matches one of the patterns.
type MIMETypeFilter struct {
	patterns []string
}

// NewMIMETypeFilter creates a MIME type filter. Returns nil if patterns
// is empty.
func NewMIMETypeFilter(patterns []string) (*MIMETypeFilter, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	f := &MIMETypeFilter{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		f.patterns = append(f.patterns, p)
	}
	return f, nil
}

// Match returns true if the MIME type (parameters ignored) matches.
func (f *MIMETypeFilter) Match(obj *store.RemoteObject) bool {
	mt, _, _ := strings.Cut(obj.MIMEType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	for _, p := range f.patterns {
		if matchPattern(p, mt) {
			return true
		}
	}
	return false
}

func (f *MIMETypeFilter) String() string {
	return "mime_type: " + strings.Join(f.patterns, "|")
}

// SizeFilter filters objects by size range.
type SizeFilter struct {
	min int64 // -1 means no minimum
	max int64 // -1 means no maximum
}

// NewSizeFilter creates a size filter from config.
// Returns nil if no size constraints are specified.
func NewSizeFilter(cfg *SizeFilterConfig) (*SizeFilter, error) {
	if cfg == nil || (cfg.Min == "" && cfg.Max == "") {
		return nil, nil
	}

	f := &SizeFilter{min: -1, max: -1}

	if cfg.Min != "" {
		size, err := ParseSize(cfg.Min)
		if err != nil {
			return nil, fmt.Errorf("min size: %w", err)
		}
		f.min = size
	}

	if cfg.Max != "" {
		size, err := ParseSize(cfg.Max)
		if err != nil {
			return nil, fmt.Errorf("max size: %w", err)
		}
		f.max = size
	}

	if f.min >= 0 && f.max >= 0 && f.min > f.max {
		return nil, fmt.Errorf("%w: min (%d) > max (%d)", ErrInvalidSize, f.min, f.max)
	}

	return f, nil
}

// Match returns true if object size is within the configured range.
// Objects without a parseable size never match.
func (f *SizeFilter) Match(obj *store.RemoteObject) bool {
	size, err := strconv.ParseInt(obj.SizeBytes, 10, 64)
	if err != nil {
		return false
	}
	if f.min >= 0 && size < f.min {
		return false
	}
	if f.max >= 0 && size > f.max {
		return false
	}
	return true
}

func (f *SizeFilter) String() string {
	switch {
	case f.min >= 0 && f.max >= 0:
		return fmt.Sprintf("size: %s - %s", FormatSize(f.min), FormatSize(f.max))
	case f.min >= 0:
		return fmt.Sprintf("size: >= %s", FormatSize(f.min))
	default:
		return fmt.Sprintf("size: <= %s", FormatSize(f.max))
	}
}

// DateFilter filters objects by creation time.
type DateFilter struct {
	after  time.Time // zero means no after constraint
	before time.Time // zero means no before constraint
}

// NewDateFilter creates a date filter from config.
// Returns nil if no date constraints are specified.
func NewDateFilter(cfg *DateFilterConfig) (*DateFilter, error) {
	if cfg == nil || (cfg.After == "" && cfg.Before == "") {
		return nil, nil
	}

	f := &DateFilter{}

	if cfg.After != "" {
		t, err := ParseDate(cfg.After)
		if err != nil {
			return nil, fmt.Errorf("after date: %w", err)
		}
		f.after = t
	}

	if cfg.Before != "" {
		t, err := ParseDate(cfg.Before)
		if err != nil {
			return nil, fmt.Errorf("before date: %w", err)
		}
		f.before = t
	}

	if !f.after.IsZero() && !f.before.IsZero() && !f.after.Before(f.before) {
		return nil, fmt.Errorf("%w: after (%s) >= before (%s)", ErrInvalidDate, f.after, f.before)
	}

	return f, nil
}

// Match returns true if the creation time is within range. Objects
// without a parseable creation time never match.
func (f *DateFilter) Match(obj *store.RemoteObject) bool {
	created, err := time.Parse(time.RFC3339Nano, obj.CreateTime)
	if err != nil {
		return false
	}
	if !f.after.IsZero() && created.Before(f.after) {
		return false
	}
	if !f.before.IsZero() && !created.Before(f.before) {
		return false
	}
	return true
}

func (f *DateFilter) String() string {
	switch {
	case !f.after.IsZero() && !f.before.IsZero():
		return fmt.Sprintf("created: %s to %s", f.after.Format("2006-01-02"), f.before.Format("2006-01-02"))
	case !f.after.IsZero():
		return fmt.Sprintf("created: on/after %s", f.after.Format("2006-01-02"))
	default:
		return fmt.Sprintf("created: before %s", f.before.Format("2006-01-02"))
	}
}

// RegexFilter filters objects by canonical id.
type RegexFilter struct {
	pattern *regexp.Regexp
	raw     string
}

// NewRegexFilter creates a regex filter from pattern string.
// Returns nil if pattern is empty.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	if pattern == "" {
		return nil, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}

	return &RegexFilter{pattern: re, raw: pattern}, nil
}

// Match returns true if the object id matches the regex.
func (f *RegexFilter) Match(obj *store.RemoteObject) bool {
	return f.pattern.MatchString(obj.ID)
}

func (f *RegexFilter) String() string {
	return fmt.Sprintf("id_regex: %s", f.raw)
}

// CompositeFilter combines multiple filters with AND semantics.
type CompositeFilter struct {
	filters []Filter
}

// NewFilterFromConfig builds a CompositeFilter from cfg.
// Returns nil if no criteria are configured.
func NewFilterFromConfig(cfg *FilterConfig) (*CompositeFilter, error) {
	if cfg == nil {
		return nil, nil
	}

	var filters []Filter

	nameFilter, err := NewNameFilter(cfg.Names)
	if err != nil {
		return nil, err
	}
	if nameFilter != nil {
		filters = append(filters, nameFilter)
	}

	stateFilter, err := NewStateFilter(cfg.States)
	if err != nil {
		return nil, err
	}
	if stateFilter != nil {
		filters = append(filters, stateFilter)
	}

	mimeFilter, err := NewMIMETypeFilter(cfg.MIMETypes)
	if err != nil {
		return nil, err
	}
	if mimeFilter != nil {
		filters = append(filters, mimeFilter)
	}

	sizeFilter, err := NewSizeFilter(cfg.Size)
	if err != nil {
		return nil, err
	}
	if sizeFilter != nil {
		filters = append(filters, sizeFilter)
	}

	dateFilter, err := NewDateFilter(cfg.Created)
	if err != nil {
		return nil, err
	}
	if dateFilter != nil {
		filters = append(filters, dateFilter)
	}

	regexFilter, err := NewRegexFilter(cfg.IDRegex)
	if err != nil {
		return nil, err
	}
	if regexFilter != nil {
		filters = append(filters, regexFilter)
	}

	if len(filters) == 0 {
		return nil, nil
	}
	return &CompositeFilter{filters: filters}, nil
}

// Match returns true if all filters pass. A nil filter passes everything.
func (f *CompositeFilter) Match(obj *store.RemoteObject) bool {
	if f == nil {
		return true
	}
	for _, filter := range f.filters {
		if !filter.Match(obj) {
			return false
		}
	}
	return true
}

func (f *CompositeFilter) String() string {
	if f == nil {
		return "no filters"
	}
	parts := make([]string, len(f.filters))
	for i, filter := range f.filters {
		parts[i] = filter.String()
	}
	return strings.Join(parts, ", ")
}

// Filters returns the underlying filters.
func (f *CompositeFilter) Filters() []Filter {
	return f.filters
}

// Apply returns the objects that pass f, preserving order. A nil f keeps
// every object.
func Apply(f Filter, objs []store.RemoteObject) []store.RemoteObject {
	if f == nil {
		return objs
	}
	out := make([]store.RemoteObject, 0, len(objs))
	for i := range objs {
		if f.Match(&objs[i]) {
			out = append(out, objs[i])
		}
	}
	return out
}

// Size units. SI units are powers of 1000, IEC units powers of 1024.
const (
	Byte int64 = 1
	KB   int64 = 1000
	MB         = KB * 1000
	GB         = MB * 1000
	TB         = GB * 1000
	KiB  int64 = 1 << 10
	MiB        = KiB << 10
	GiB        = MiB << 10
	TiB        = GiB << 10
)

// sizeUnits maps upper-cased unit suffixes to multipliers.
var sizeUnits = map[string]int64{
	"": Byte, "B": Byte,
	"K": KB, "KB": KB, "M": MB, "MB": MB, "G": GB, "GB": GB, "T": TB, "TB": TB,
	"KI": KiB, "KIB": KiB, "MI": MiB, "MIB": MiB, "GI": GiB, "GIB": GiB, "TI": TiB, "TIB": TiB,
}

// ParseSize parses sizes such as "1024", "1.5KB" or "100 MiB".
// Units are case-insensitive; 1KB is 1000 bytes and 1KiB is 1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	digits := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
	if digits < 0 {
		digits = len(s)
	}
	if digits == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	unit := strings.ToUpper(strings.TrimSpace(s[digits:]))
	mult, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidSize, unit)
	}

	num, err := strconv.ParseFloat(s[:digits], 64)
	if err != nil || math.IsInf(num, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	total := num * float64(mult)
	if total >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q overflows int64", ErrInvalidSize, s)
	}
	return int64(total), nil
}

var sizeSteps = []struct {
	unit string
	size int64
}{{"TiB", TiB}, {"GiB", GiB}, {"MiB", MiB}, {"KiB", KiB}}

// FormatSize renders bytes with the largest fitting IEC unit.
func FormatSize(bytes int64) string {
	for _, step := range sizeSteps {
		if bytes >= step.size {
			return strconv.FormatFloat(float64(bytes)/float64(step.size), 'f', 1, 64) + step.unit
		}
	}
	return strconv.FormatInt(bytes, 10) + "B"
}

// ParseDate parses an ISO 8601 date or datetime string into UTC.
//
//   - Date only: "2024-01-15" (start of day UTC)
//   - Datetime: "2024-01-15T10:30:00Z" or with an offset
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
