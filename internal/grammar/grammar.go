// Package grammar extracts commands from message subjects.
//
// The grammar is an ordered table of rules. Every rule is applied to
// the normalized subject independently, so one subject may yield several
// commands. Adding a command kind means adding a row to the table.
package grammar

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/nhle/mailcmd/internal/model"
)

// Rule turns the submatches of Pattern into a command. Build returns
// false when a capture is malformed, in which case the rule does not
// match.
type Rule struct {
	Kind    model.Kind
	Pattern *regexp.Regexp
	Build   func(groups []string) (model.Command, bool)
}

// Rules is the command table in priority order.
var Rules = []Rule{
	{
		Kind:    model.KindScene,
		Pattern: regexp.MustCompile(`\bscene\b[ \t]*(\w*)`),
		Build: func(g []string) (model.Command, bool) {
			return model.Scene{Name: g[1]}, true
		},
	},
	{
		Kind:    model.KindSolar,
		Pattern: regexp.MustCompile(`\bsolar\s+(charge|discharge)\s+(\S+)`),
		Build: func(g []string) (model.Command, bool) {
			n, ok := parseInt(g[2])
			if !ok {
				return nil, false
			}
			return model.Solar{Mode: model.SolarMode(g[1]), Value: n}, true
		},
	},
	{
		Kind:    model.KindAlarm,
		Pattern: regexp.MustCompile(`\balarm\s+(\d{1,2}:\d{2})\b`),
		Build: func(g []string) (model.Command, bool) {
			t, err := time.Parse("15:04", g[1])
			if err != nil {
				return nil, false
			}
			return model.Alarm{Time: t.Format("15:04")}, true
		},
	},
	{
		Kind:    model.KindWater,
		Pattern: regexp.MustCompile(`\bwater\b(?:[ \t]+(\S+))?`),
		Build: func(g []string) (model.Command, bool) {
			if g[1] == "" {
				return model.Water{HoldMinutes: model.DefaultHoldMinutes}, true
			}
			n, ok := parseInt(g[1])
			if !ok {
				return nil, false
			}
			return model.Water{HoldMinutes: n}, true
		},
	},
	{
		Kind:    model.KindFree,
		Pattern: regexp.MustCompile(`^free\b(.*)$`),
		Build: func(g []string) (model.Command, bool) {
			return model.Free{Date: strings.TrimSpace(g[1])}, true
		},
	},
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// replyPrefix matches the reply and forward markers mail clients prepend.
var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fwd?)\s*(\[\d+\])?\s*:\s*`)

// Normalize strips reply/forward prefixes and surrounding whitespace from
// subject and case-folds the result.
func Normalize(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		loc := replyPrefix.FindStringIndex(s)
		if loc == nil {
			break
		}
		s = s[loc[1]:]
	}
	return cases.Fold().String(strings.TrimSpace(s))
}

// Parse applies every rule to the normalized subject and returns all
// matches in rule order. A subject with no command yields nil.
func Parse(subject string) []model.Command {
	return ParseNormalized(Normalize(subject))
}

// ParseNormalized is Parse for a subject that is already normalized.
func ParseNormalized(subject string) []model.Command {
	var cmds []model.Command
	for _, r := range Rules {
		m := r.Pattern.FindStringSubmatch(subject)
		if m == nil {
			continue
		}
		if cmd, ok := r.Build(m); ok {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}
