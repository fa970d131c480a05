package match

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/sidkik/iris-sync/pkg/errors"
)

// A Set holds the compiled include and exclude patterns for a project's item
// specifications, plus the item types the specifications cover.
//
// A specification is a glob-like pattern selecting items by name. `*` matches
// any run of characters, all other characters match literally. A leading `-`
// makes the specification an exclusion. Specifications containing a `/`
// select web application (CSP) items; all others must carry a file extension,
// which determines the item type to query the server for.
type Set struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
	types   map[string]bool
}

// Compile converts item specifications into a matchable Set.
func Compile(specs []string) (*Set, error) {
	set := &Set{types: map[string]bool{}}
	for _, spec := range specs {
		name := strings.TrimPrefix(spec, "-")

		// Determine the item type bucket this spec selects.
		if strings.Contains(name, "/") {
			set.types["csp"] = true
		} else {
			ext := path.Ext(name)
			if ext == "" {
				return nil, errors.NewFriendlyError(
					"Project item specifications need an extension; %q doesn't have one.", spec)
			}
			set.types[strings.ToLower(ext[1:])] = true
		}

		if err := set.add(spec); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// CompileLookup converts lookup table specifications into a matchable Set.
// Lookup specs follow the same glob rules as item specs, but don't require an
// extension, and don't contribute item types.
func CompileLookup(specs []string) (*Set, error) {
	set := &Set{types: map[string]bool{}}
	for _, spec := range specs {
		if err := set.add(spec); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (set *Set) add(spec string) error {
	exclude := false
	if strings.HasPrefix(spec, "-") {
		spec = spec[1:]
		exclude = true
	}

	rx, err := compileGlob(spec)
	if err != nil {
		return errors.WithContext(err, "compile spec")
	}

	if exclude {
		set.exclude = append(set.exclude, rx)
	} else {
		set.include = append(set.include, rx)
	}
	return nil
}

// compileGlob converts a glob-like spec to an anchored regular expression:
// literal dots are escaped and `*` becomes `.*`.
func compileGlob(spec string) (*regexp.Regexp, error) {
	spec = strings.ReplaceAll(spec, ".", `\.`)
	spec = strings.ReplaceAll(spec, "*", ".*")
	return regexp.Compile("^" + spec + "$")
}

// Match reports whether the named item is selected by the Set. Exclusions
// take precedence over inclusions, and an item matching no pattern at all is
// not selected.
func (set *Set) Match(name string) bool {
	for _, rx := range set.exclude {
		if rx.MatchString(name) {
			return false
		}
	}
	for _, rx := range set.include {
		if rx.MatchString(name) {
			return true
		}
	}
	return false
}

// Types returns the sorted list of item types the specifications cover.
func (set *Set) Types() []string {
	var types []string
	for tp := range set.types {
		types = append(types, tp)
	}
	sort.Strings(types)
	return types
}

// LikePatterns returns the inclusion specs converted to SQL LIKE syntax
// (`*` becomes `%`). Used to enumerate lookup tables server-side; exclusions
// are applied client-side via Match.
func LikePatterns(specs []string) []string {
	var patterns []string
	for _, spec := range specs {
		if strings.HasPrefix(spec, "-") {
			continue
		}
		patterns = append(patterns, strings.ReplaceAll(spec, "*", "%"))
	}
	return patterns
}
