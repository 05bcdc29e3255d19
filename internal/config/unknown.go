package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each section to its valid keys.
var knownKeys = map[string][]string{
	"tracking": {"auto_tracking", "process_scan"},
	"cloud":    {"enabled", "endpoint", "bucket", "remote_root", "token_file"},
	"library":  {"database"},
	"bridge":   {"listen", "metrics"},
	"logging":  {"log_level", "log_format"},
	"network":  {"connect_timeout", "data_timeout", "user_agent"},
}

// knownSections is the sorted list of section names, for deterministic
// suggestions when two candidates have the same edit distance.
var knownSections = func() []string {
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. Keys of a known section are
// matched against that section's keys; anything else is treated as an
// unknown section.
func unknownKeyError(key toml.Key) error {
	if len(key) == 0 {
		return nil
	}

	section := key[0]

	keys, ok := knownKeys[section]
	if !ok || len(key) == 1 {
		return suggest("unknown config section", section, knownSections)
	}

	field := key[1]
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	return suggest(fmt.Sprintf("unknown config key in [%s]", section), field, sorted)
}

func suggest(prefix, name string, known []string) error {
	if s := closestMatch(name, known); s != "" {
		return fmt.Errorf("%s %q, did you mean %q?", prefix, name, s)
	}

	return fmt.Errorf("%s %q (valid: %s)", prefix, name, strings.Join(known, ", "))
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
