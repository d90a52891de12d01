package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LJTian/MarketPulse/internal/config"
)

type stubFetcher struct {
	name string
	kind config.SourceKind
}

func (s stubFetcher) Name() string            { return s.name }
func (s stubFetcher) Kind() config.SourceKind { return s.kind }
func (s stubFetcher) Fetch(context.Context, config.Source) ([]RawItem, error) {
	return nil, nil
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(stubFetcher{name: config.FeedYahoo, kind: config.KindPrice})

	f, err := reg.Lookup(config.Source{Feed: config.FeedYahoo, Kind: config.KindPrice, ID: "SPY"})
	require.NoError(t, err)
	require.Equal(t, config.FeedYahoo, f.Name())

	_, err = reg.Lookup(config.Source{Feed: config.FeedReddit, Kind: config.KindDiscussion, ID: "stocks"})
	require.ErrorIs(t, err, ErrSourceUnavailable)

	_, err = reg.Lookup(config.Source{Feed: config.FeedYahoo, Kind: config.KindDiscussion, ID: "SPY"})
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestUnavailableErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := unavailable("reddit:stocks", cause)

	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "reddit:stocks")
}

func TestExcluded(t *testing.T) {
	require.False(t, (&DiscussionItem{}).Excluded())
	require.True(t, (&DiscussionItem{Removed: true}).Excluded())
	require.True(t, (&DiscussionItem{Deleted: true}).Excluded())
	require.True(t, (&DiscussionItem{Pinned: true}).Excluded())
}
