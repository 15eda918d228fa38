package dataset

import (
	"github.com/Rajchodisetti/replay-engine/internal/feed"
	"github.com/Rajchodisetti/replay-engine/internal/marketdata"
)

// Set is everything a run replays: ordered price bars plus news and filing
// events, already validated and timestamp-normalized to UTC.
type Set struct {
	News    []feed.Event
	Filings []feed.Event
	Bars    []marketdata.Bar
}

// FixtureLoader loads a Set from JSON fixture files. Bars are required; news
// and filings paths may be empty, yielding empty feeds.
type FixtureLoader struct {
	NewsPath    string
	FilingsPath string
	BarsPath    string
}

func (l FixtureLoader) Load() (Set, error) {
	var ds Set
	var err error
	ds.Bars, err = LoadBars(l.BarsPath)
	if err != nil {
		return Set{}, err
	}
	if l.NewsPath != "" {
		ds.News, err = LoadNews(l.NewsPath)
		if err != nil {
			return Set{}, err
		}
	}
	if l.FilingsPath != "" {
		ds.Filings, err = LoadFilings(l.FilingsPath)
		if err != nil {
			return Set{}, err
		}
	}
	return ds, nil
}
