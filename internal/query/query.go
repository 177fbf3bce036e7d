// Package query composes the ranking query from a persona and a task.
package query

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Build joins role and task as "<role>. <task>". Whitespace is collapsed and a
// role that already ends in sentence punctuation is not given a second period.
// An empty role or task yields the other part alone.
func Build(role, task string) string {
	role = clean(role)
	task = clean(task)

	switch {
	case role == "":
		return task
	case task == "":
		return role
	}

	if last, _ := utf8.DecodeLastRuneInString(role); strings.ContainsRune(".!?;:", last) {
		return role + " " + task
	}
	return role + ". " + task
}

func clean(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}
