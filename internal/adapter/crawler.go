package adapter

import (
	"regexp"
	"strings"
	"time"

	"github.com/r3e-network/ingestion-engine/internal/fetch"
	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
)

func init() {
	Default.Register(NewCrawlerAdapter())
}

var (
	crawlerTitlePattern  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	crawlerPersonPattern = regexp.MustCompile(`(?is)<(?:h[2-4]|span|div)[^>]*class="[^"]*(?:team-member|person|bio)[^"]*"[^>]*>(.*?)</`)
	crawlerTagPattern    = regexp.MustCompile(`(?s)<[^>]+>`)
	// validPersonName rejects obvious non-name extraction noise: must be
	// two or three capitalized words, no digits or punctuation beyond a
	// hyphen or apostrophe.
	validPersonName = regexp.MustCompile(`^[A-Z][a-zA-Z'-]+(?: [A-Z][a-zA-Z'-]+){1,2}$`)
)

// CrawlerAdapter ingests LP/FO governance, team, and portfolio pages:
// same-domain HTML fetch, pattern-based extraction of named-entity
// candidates, with strict validation (capitalization, word count) before
// a candidate is accepted as a row. No JavaScript rendering: pages that
// require it yield zero rows rather than a false match.
type CrawlerAdapter struct{}

func NewCrawlerAdapter() *CrawlerAdapter { return &CrawlerAdapter{} }

func (a *CrawlerAdapter) Name() string { return "web_crawler" }

func (a *CrawlerAdapter) Defaults() fetch.Policy {
	p := fetch.DefaultPolicy()
	p.MaxConcurrency = 5
	p.RateLimit = 500 * time.Millisecond
	return p
}

func (a *CrawlerAdapter) SchemaFor(string, map[string]any) (provision.SchemaSpec, error) {
	return provision.SchemaSpec{
		Source:      "web_crawler",
		DatasetID:   "crawled_people",
		TableName:   "crawled_people",
		DisplayName: "Crawled Governance/Team Pages",
		Columns: []provision.ColumnSpec{
			{Name: "source_url", SQLType: "TEXT"},
			{Name: "page_title", SQLType: "TEXT", Nullable: true},
			{Name: "person_name", SQLType: "TEXT"},
		},
		UniqueKey: []string{"source_url", "person_name"},
	}, nil
}

func (a *CrawlerAdapter) Plan(config map[string]any) (Pager, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, ingesterr.Config("web_crawler adapter: config.url is required")
	}
	return NewSinglePager(FetchStep{URL: url}), nil
}

func (a *CrawlerAdapter) Parse(step FetchStep, payload []byte) ([]model.Row, error) {
	html := string(payload)

	var title string
	if m := crawlerTitlePattern.FindStringSubmatch(html); m != nil {
		title = strings.TrimSpace(crawlerTagPattern.ReplaceAllString(m[1], ""))
	}

	matches := crawlerPersonPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	seen := map[string]bool{}
	var rows []model.Row
	for _, m := range matches {
		name := strings.TrimSpace(crawlerTagPattern.ReplaceAllString(m[1], ""))
		if !validPersonName.MatchString(name) || seen[name] {
			continue
		}
		seen[name] = true
		rows = append(rows, model.Row{
			"source_url":  model.Text(step.URL),
			"page_title":  model.Text(title),
			"person_name": model.Text(name),
		})
	}
	return rows, nil
}
