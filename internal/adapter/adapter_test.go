package adapter

import "testing"

func TestDefaultRegistryHasOneEntryPerFamily(t *testing.T) {
	want := []string{"eia", "fred", "census", "sec_edgar", "form_990", "dunl", "cafr", "web_crawler", "rss_feed"}
	for _, name := range want {
		if _, ok := Default.Get(name); !ok {
			t.Fatalf("expected adapter %q to be registered, sources=%v", name, Default.Sources())
		}
	}
}

func TestRegisterPanicsOnDuplicateName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := NewRegistry()
	r.Register(NewEIAAdapter())
	r.Register(NewEIAAdapter())
}

func TestFetchStepCloneDoesNotAliasMaps(t *testing.T) {
	step := FetchStep{URL: "http://x", Query: map[string]string{"a": "1"}}
	clone := step.Clone()
	clone.Query["a"] = "2"
	if step.Query["a"] != "1" {
		t.Fatalf("clone mutated original: %v", step.Query)
	}
}
