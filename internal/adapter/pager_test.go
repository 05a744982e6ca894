package adapter

import "testing"

func TestOffsetPagerStopsOnShortPage(t *testing.T) {
	p := NewOffsetPager(FetchStep{URL: "http://x"}, 100, 0, "offset", "limit")

	step, ok := p.Step()
	if !ok {
		t.Fatal("expected first step")
	}
	if step.Query["offset"] != "0" || step.Query["limit"] != "100" {
		t.Fatalf("unexpected first-page query: %v", step.Query)
	}
	p.Observe(nil, 100)

	step, ok = p.Step()
	if !ok {
		t.Fatal("expected second step")
	}
	if step.Query["offset"] != "100" {
		t.Fatalf("expected offset to advance to 100, got %v", step.Query)
	}
	p.Observe(nil, 40) // short page: fewer than the limit

	if _, ok := p.Step(); ok {
		t.Fatal("expected pager to stop after a short page")
	}
}

func TestOffsetPagerStopsOnEmptyPage(t *testing.T) {
	p := NewOffsetPager(FetchStep{URL: "http://x"}, 100, 0, "offset", "limit")
	p.Step()
	p.Observe(nil, 0)
	if _, ok := p.Step(); ok {
		t.Fatal("expected pager to stop after an empty page")
	}
}

func TestOffsetPagerRespectsMaxPages(t *testing.T) {
	p := NewOffsetPager(FetchStep{URL: "http://x"}, 100, 2, "offset", "limit")
	p.Step()
	p.Observe(nil, 100)
	p.Step()
	p.Observe(nil, 100)
	if _, ok := p.Step(); ok {
		t.Fatal("expected pager to stop at max_pages")
	}
}

func TestSinglePagerYieldsExactlyOneStep(t *testing.T) {
	p := NewSinglePager(FetchStep{URL: "http://x"})
	if _, ok := p.Step(); !ok {
		t.Fatal("expected a step")
	}
	if _, ok := p.Step(); ok {
		t.Fatal("expected single pager to be exhausted")
	}
}
