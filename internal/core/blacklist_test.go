package core_test

import (
	"testing"

	"syncapp/internal/core"
)

func TestBlacklistMatcher(t *testing.T) {
	t.Run("no rules matches nothing", func(t *testing.T) {
		m := core.NewBlacklistMatcher(nil)
		if m.Match("file:///data/a.txt") {
			t.Error("Match() = true with no rules")
		}
	})

	t.Run("url rule excludes the item and everything under it", func(t *testing.T) {
		m := core.NewBlacklistMatcher([]string{"s3://bucket/private"})

		if !m.Match("s3://bucket/private") {
			t.Error("exact URL not matched")
		}
		if !m.Match("s3://bucket/private/sub/a.txt") {
			t.Error("nested URL not matched")
		}
		if m.Match("s3://bucket/privateer/a.txt") {
			t.Error("sibling with shared prefix wrongly matched")
		}
	})

	t.Run("bare rule globs against the basename", func(t *testing.T) {
		m := core.NewBlacklistMatcher([]string{"*.tmp", ".DS_Store"})

		if !m.Match("file:///data/work/scratch.tmp") {
			t.Error("glob rule not matched")
		}
		if !m.Match("gs://bucket/x/.DS_Store") {
			t.Error("literal basename rule not matched")
		}
		if m.Match("file:///data/work/scratch.txt") {
			t.Error("non-matching basename wrongly matched")
		}
	})

	t.Run("blank and malformed rules are ignored", func(t *testing.T) {
		m := core.NewBlacklistMatcher([]string{"", "  ", "[bad"})
		if m.Match("file:///data/a.txt") {
			t.Error("Match() = true with only unusable rules")
		}
	})
}
