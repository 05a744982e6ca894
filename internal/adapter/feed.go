package adapter

import (
	"encoding/xml"

	"github.com/r3e-network/ingestion-engine/internal/fetch"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
)

func init() {
	Default.Register(NewFeedAdapter())
}

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

// FeedAdapter ingests standard REST/RSS patterns shared by prediction
// markets, job postings, and news sources: one HTTP fetch per feed, no
// pagination cursor (the upstream feed is always the current snapshot),
// items keyed by GUID when present and by link otherwise.
type FeedAdapter struct{}

func NewFeedAdapter() *FeedAdapter { return &FeedAdapter{} }

func (a *FeedAdapter) Name() string { return "rss_feed" }

func (a *FeedAdapter) Defaults() fetch.Policy {
	p := fetch.DefaultPolicy()
	p.MaxConcurrency = 5
	p.RateLimit = 0
	return p
}

func (a *FeedAdapter) SchemaFor(dataset string, config map[string]any) (provision.SchemaSpec, error) {
	tableName, _ := config["table_name"].(string)
	if tableName == "" {
		tableName = "feed_" + dataset
	}
	return provision.SchemaSpec{
		Source:      "rss_feed",
		DatasetID:   dataset,
		TableName:   tableName,
		DisplayName: "Feed " + dataset,
		Columns: []provision.ColumnSpec{
			{Name: "guid", SQLType: "TEXT"},
			{Name: "title", SQLType: "TEXT", Nullable: true},
			{Name: "link", SQLType: "TEXT", Nullable: true},
			{Name: "published_at", SQLType: "TEXT", Nullable: true},
			{Name: "description", SQLType: "TEXT", Nullable: true},
		},
		UniqueKey: []string{"guid"},
	}, nil
}

func (a *FeedAdapter) Plan(config map[string]any) (Pager, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, ingesterr.Config("rss_feed adapter: config.url is required")
	}
	return NewSinglePager(FetchStep{URL: url}), nil
}

func (a *FeedAdapter) Parse(_ FetchStep, payload []byte) ([]model.Row, error) {
	var doc rssDocument
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, ingesterr.Parse(err, "rss_feed adapter: payload is not valid RSS/XML")
	}

	var rows []model.Row
	for _, item := range doc.Channel.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			continue
		}
		rows = append(rows, model.Row{
			"guid":         model.Text(guid),
			"title":        model.Text(item.Title),
			"link":         model.Text(item.Link),
			"published_at": model.Text(item.PubDate),
			"description":  model.Text(item.Description),
		})
	}
	return rows, nil
}
