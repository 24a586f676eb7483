package datastore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryAttachAnalysisOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.CreateSample(ctx, "1700000000000", SampleRecord{ImageName: "Basalt_01"}); err != nil {
		t.Fatal(err)
	}

	a := Analysis{AnalystName: "Ada", Comment: "vesicular", ImageName: "basalt_01", Model: "rock", At: time.UnixMilli(42)}
	rec, err := m.AttachAnalysis(ctx, "BASALT_01", a)
	if err != nil {
		t.Fatalf("AttachAnalysis: %v", err)
	}
	if rec.AnalystName != "Ada" || rec.ModelUsed != "rock" || rec.AnalysisTimestamp != 42 {
		t.Errorf("rec = %+v", rec)
	}

	if _, err := m.AttachAnalysis(ctx, "basalt_01", a); !errors.Is(err, ErrAlreadyAnalyzed) {
		t.Fatalf("second attach err = %v, want ErrAlreadyAnalyzed", err)
	}
	if _, err := m.AttachAnalysis(ctx, "granite", a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing sample err = %v, want ErrNotFound", err)
	}
}

func TestMemoryConcurrentAttachHasOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateSample(ctx, "k", SampleRecord{ImageName: "s"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.AttachAnalysis(ctx, "s", Analysis{AnalystName: "x", At: time.UnixMilli(1)}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestMemoryImagesAndListing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.ImageURL(ctx, "missing.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	ref, err := m.UploadImage(ctx, "EXPLORATION_SAMPLES/a.png", []byte("png"), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if u, err := m.ImageURL(ctx, ref); err != nil || u != "memory://EXPLORATION_SAMPLES/a.png" {
		t.Errorf("ImageURL = %q, %v", u, err)
	}

	m.CreateSample(ctx, "2", SampleRecord{ImageName: "b"})
	m.CreateSample(ctx, "1", SampleRecord{ImageName: "a"})
	gen, _ := m.CreateSample(ctx, "", SampleRecord{ImageName: "c"})
	if gen.Key == "" {
		t.Error("expected generated key")
	}
	list, _ := m.ListSamples(ctx)
	if len(list) != 3 || list[0].Key != "1" || list[1].Key != "2" {
		t.Errorf("list = %+v", list)
	}
}

func TestMemoryLookupDataset(t *testing.T) {
	m := NewMemory()
	m.SeedDataset("r1", DatasetEntry{Type: "Basalt", LifeSupport: &LifeSupport{Percentage: 60}})
	m.SeedDataset("r2", DatasetEntry{Type: "Shale"})

	e, err := m.LookupDataset(context.Background(), "basalt")
	if err != nil {
		t.Fatal(err)
	}
	if !e.SupportsLife() {
		t.Error("60% should support life")
	}
	if e, _ := m.LookupDataset(context.Background(), "shale"); e.SupportsLife() {
		t.Error("missing estimate should not support life")
	}
	if _, err := m.LookupDataset(context.Background(), "obsidian"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}
