package scanner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatcherCaseInsensitiveByDefault(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]FilterRule{
		{ID: 1, Keyword: "discount", IsActive: true},
	})
	require.NoError(t, err)

	rule, ok := m.Match("Big DISCOUNT on everything today")
	require.True(t, ok)
	require.Equal(t, int64(1), rule.ID)
}

func TestMatcherCaseSensitive(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]FilterRule{
		{ID: 1, Keyword: "GPU", CaseSensitive: true, IsActive: true},
	})
	require.NoError(t, err)

	_, ok := m.Match("selling a gpu cheap")
	require.False(t, ok)

	rule, ok := m.Match("selling a GPU cheap")
	require.True(t, ok)
	require.Equal(t, "GPU", rule.Keyword)
}

func TestMatcherWholeWord(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]FilterRule{
		{ID: 1, Keyword: "cat", WholeWord: true, IsActive: true},
	})
	require.NoError(t, err)

	_, ok := m.Match("this is a category listing")
	require.False(t, ok, "substring inside a larger word must not match")

	_, ok = m.Match("lost cat, reward offered")
	require.True(t, ok)
}

func TestMatcherSubstringWithoutWholeWord(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]FilterRule{
		{ID: 1, Keyword: "cat", IsActive: true},
	})
	require.NoError(t, err)

	_, ok := m.Match("this is a category listing")
	require.True(t, ok)
}

func TestMatcherFirstRuleWinsByID(t *testing.T) {
	t.Parallel()

	// Declared out of order on purpose: evaluation order follows rule ID.
	m, err := NewMatcher([]FilterRule{
		{ID: 7, Keyword: "sale", IsActive: true},
		{ID: 2, Keyword: "free", IsActive: true},
	})
	require.NoError(t, err)

	rule, ok := m.Match("free sale this weekend")
	require.True(t, ok)
	require.Equal(t, int64(2), rule.ID)
}

func TestMatcherSkipsInactiveRules(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]FilterRule{
		{ID: 1, Keyword: "urgent", IsActive: false},
		{ID: 2, Keyword: "offer", IsActive: true},
	})
	require.NoError(t, err)

	_, ok := m.Match("urgent message")
	require.False(t, ok)

	rule, ok := m.Match("special offer inside")
	require.True(t, ok)
	require.Equal(t, int64(2), rule.ID)
}

func TestMatcherEscapesRegexMetacharacters(t *testing.T) {
	t.Parallel()

	m, err := NewMatcher([]FilterRule{
		{ID: 1, Keyword: "c++ (senior)", IsActive: true},
	})
	require.NoError(t, err)

	_, ok := m.Match("hiring c++ (senior) engineers")
	require.True(t, ok)

	_, ok = m.Match("hiring c engineers")
	require.False(t, ok)
}

func TestMatcherHasRules(t *testing.T) {
	t.Parallel()

	empty, err := NewMatcher([]FilterRule{{ID: 1, Keyword: "x", IsActive: false}})
	require.NoError(t, err)
	require.False(t, empty.HasRules())

	nonEmpty, err := NewMatcher([]FilterRule{{ID: 1, Keyword: "x", IsActive: true}})
	require.NoError(t, err)
	require.True(t, nonEmpty.HasRules())
}
