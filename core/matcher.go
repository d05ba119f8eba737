package core

import "strings"

// TopicMatcher determines whether a pattern matches a topic name.
type TopicMatcher interface {
	Match(pattern string, topic string) bool
}

// DefaultMatcher matches dot-separated topic names. "*" matches exactly one
// level and "#" matches any number of levels, including none.
//
//	"orders.created" matches "orders.created"
//	"orders.*"       matches "orders.created" but not "orders.us.created"
//	"payments.#"     matches "payments", "payments.created" and "payments.us.created"
type DefaultMatcher struct{}

func (DefaultMatcher) Match(pattern, topic string) bool {
	return matchLevels(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchLevels(pat, top []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "#":
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(top); i++ {
				if matchLevels(rest, top[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(top) == 0 {
				return false
			}
		default:
			if len(top) == 0 || pat[0] != top[0] {
				return false
			}
		}
		pat, top = pat[1:], top[1:]
	}
	return len(top) == 0
}
