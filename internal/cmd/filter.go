package cmd

import (
	"github.com/spf13/cobra"

	"github.com/3leaps/filecast/pkg/match"
)

// filterFlags holds the object selection flags shared by list and delete.
type filterFlags struct {
	match         []string
	exclude       []string
	includeHidden bool
	states        []string
	mimeTypes     []string
	minSize       string
	maxSize       string
	createdAfter  string
	createdBefore string
	idRegex       string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringArrayVar(&f.match, "match", nil, "Display-name glob to include (repeatable, doublestar syntax)")
	fl.StringArrayVar(&f.exclude, "exclude", nil, "Display-name glob to exclude (repeatable)")
	fl.BoolVar(&f.includeHidden, "include-hidden", false, "Let globs match dot-prefixed names")
	fl.StringSliceVar(&f.states, "state", nil, "Keep files in these states: ACTIVE, PROCESSING, FAILED")
	fl.StringArrayVar(&f.mimeTypes, "mime-type", nil, "Keep files with these MIME types (globs such as image/*)")
	fl.StringVar(&f.minSize, "min-size", "", "Minimum size (e.g. 1KB, 10MiB)")
	fl.StringVar(&f.maxSize, "max-size", "", "Maximum size")
	fl.StringVar(&f.createdAfter, "created-after", "", "Keep files created at or after this date (ISO 8601)")
	fl.StringVar(&f.createdBefore, "created-before", "", "Keep files created before this date (ISO 8601)")
	fl.StringVar(&f.idRegex, "id-regex", "", "Keep files whose id matches this regular expression")
}

// build returns the composite filter, or nil when no flag is set.
func (f *filterFlags) build() (*match.CompositeFilter, error) {
	cfg := &match.FilterConfig{
		Names: match.Config{
			Includes:      f.match,
			Excludes:      f.exclude,
			IncludeHidden: f.includeHidden,
		},
		States:    f.states,
		MIMETypes: f.mimeTypes,
		IDRegex:   f.idRegex,
	}
	if f.minSize != "" || f.maxSize != "" {
		cfg.Size = &match.SizeFilterConfig{Min: f.minSize, Max: f.maxSize}
	}
	if f.createdAfter != "" || f.createdBefore != "" {
		cfg.Created = &match.DateFilterConfig{After: f.createdAfter, Before: f.createdBefore}
	}
	return match.NewFilterFromConfig(cfg)
}
