package navigation

import (
	"sync"
	"testing"
)

func TestTracker_CurrentDefaultsEmpty(t *testing.T) {
	tr := NewTracker()
	if got := tr.Current(); got != "" {
		t.Errorf("Current() = %q, want empty", got)
	}
}

func TestTracker_SetOverwrites(t *testing.T) {
	tr := NewTracker()
	tr.Set("https://a.example/")
	tr.Set("https://b.example/")
	if got := tr.Current(); got != "https://b.example/" {
		t.Errorf("Current() = %q, want %q", got, "https://b.example/")
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				tr.Set("https://even.example/")
			} else {
				tr.Set("https://odd.example/")
			}
		}()
		go func() {
			defer wg.Done()
			_ = tr.Current()
		}()
	}
	wg.Wait()

	switch tr.Current() {
	case "https://even.example/", "https://odd.example/":
	default:
		t.Errorf("Current() = %q, want one of the written values", tr.Current())
	}
}
