// internal/gitx/parse_test.go
package gitx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLog(t *testing.T) {
	out := "\x1eaaa\x1f\x1fAda\x1fada@example.com\x1f2024-01-01T12:00:00+00:00\x1finitial\n\nbody line\n\x1f\n\nREADME.md\nsrc/main.go\n" +
		"\x1ebbb\x1faaa\x1fBob\x1fbob@example.com\x1f2024-01-02T12:00:00+00:00\x1ffix\n\x1f\n\n\"caf\\303\\251.txt\"\n" +
		"\x1eccc\x1faaa bbb\x1fAda\x1fada@example.com\x1f2024-01-03T12:00:00+00:00\x1fMerge\n\x1f"

	entries, err := ParseLog(out)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "aaa", entries[0].Hash)
	assert.Empty(t, entries[0].Parents)
	assert.Equal(t, "Ada", entries[0].AuthorName)
	assert.Equal(t, "initial\n\nbody line", entries[0].Message)
	assert.Equal(t, []string{"README.md", "src/main.go"}, entries[0].Files)
	assert.True(t, entries[0].AuthoredAt.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))

	assert.Equal(t, []string{"aaa"}, entries[1].Parents)
	assert.Equal(t, []string{`"caf\303\251.txt"`}, entries[1].Files)

	assert.Equal(t, []string{"aaa", "bbb"}, entries[2].Parents)
	assert.Empty(t, entries[2].Files)
}

func TestParseLog_Malformed(t *testing.T) {
	_, err := ParseLog("\x1eaaa\x1fbroken")
	assert.Error(t, err)

	_, err = ParseLog("\x1eaaa\x1f\x1fAda\x1fa@b\x1fyesterday\x1fmsg\x1f")
	assert.ErrorContains(t, err, "parse author date")
}

func TestParseNumStat(t *testing.T) {
	out := "10\t2\tsrc/main.go\n-\t-\tlogo.png\n3\t0\tsrc/{old => new}/x.go\ngarbage\n"
	entries := ParseNumStat(out)
	require.Len(t, entries, 3)
	assert.Equal(t, NumStatEntry{Path: "src/main.go", Added: 10, Deleted: 2}, entries[0])
	assert.Equal(t, NumStatEntry{Path: "logo.png", Binary: true}, entries[1])
	assert.Equal(t, "src/{old => new}/x.go", entries[2].Path)
}

func TestParseNameRev(t *testing.T) {
	cases := map[string]string{
		"remotes/origin/main~3":       "main",
		"remotes/origin/feature/x^2~1": "feature/x",
		"origin/dev":                  "dev",
		"undefined":                   "",
		"":                            "",
		"tags/v1.0~2":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseNameRev(in), "input %q", in)
	}
}

func TestParseRefTips(t *testing.T) {
	out := "origin/HEAD\x1fabc\norigin\x1fabc\norigin/main\x1fabc\norigin/feature/a\x1fdef\n"
	tips := ParseRefTips(out, "origin/")
	assert.Equal(t, []RefTip{{Name: "main", Hash: "abc"}, {Name: "feature/a", Hash: "def"}}, tips)

	local := ParseRefTips("main\x1f111\n", "")
	assert.Equal(t, []RefTip{{Name: "main", Hash: "111"}}, local)
}

func TestParseRenames(t *testing.T) {
	out := "\x1eaaa\n\nR100\told.go\tnew.go\n\x1ebbb\n\nR087\tnew.go\tpkg/new.go\nM\tother.go\n"
	assert.Equal(t, []Rename{
		{Commit: "aaa", Old: "old.go", New: "new.go"},
		{Commit: "bbb", Old: "new.go", New: "pkg/new.go"},
	}, ParseRenames(out))
}
