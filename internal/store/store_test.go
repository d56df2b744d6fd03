package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/tuisync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "nested", "tuisync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return st
}

func TestLatencyRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.LoadLatency(ctx); !errors.Is(err, ErrNoSettings) {
		t.Fatalf("expected ErrNoSettings, got %v", err)
	}

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := st.SaveLatency(ctx, model.LatencyRecord{Audio: 20 * time.Millisecond, Video: -5 * time.Millisecond, Source: "calibration", UpdatedAt: updated}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.SaveLatency(ctx, model.LatencyRecord{Audio: 20 * time.Millisecond, Video: -3 * time.Millisecond, Source: "finetune", UpdatedAt: updated.Add(time.Hour)}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err := st.LoadLatency(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Audio != 20*time.Millisecond || got.Video != -3*time.Millisecond || got.Source != "finetune" {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.UpdatedAt.Equal(updated.Add(time.Hour)) {
		t.Fatalf("unexpected updated_at %v", got.UpdatedAt)
	}

	if err := st.ResetLatency(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := st.LoadLatency(ctx); !errors.Is(err, ErrNoSettings) {
		t.Fatalf("expected ErrNoSettings after reset, got %v", err)
	}
}

func TestInsertAndListSessions(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	kinds := []string{"audio", "video", "audio"}
	var ids []string
	for i, kind := range kinds {
		rec := model.SessionRecord{
			Kind:      kind,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			EndedAt:   base.Add(time.Duration(i)*time.Hour + 30*time.Second),
			Latency:   time.Duration(10*(i+1)) * time.Millisecond,
			Samples:   2,
			Misses:    i,
		}
		samples := []model.SampleRecord{
			{Beat: 0, Raw: rec.Latency - time.Millisecond, Effective: rec.Latency - time.Millisecond},
			{Beat: 1, Raw: rec.Latency + time.Millisecond, Effective: rec.Latency + time.Millisecond, Rejected: i == 2},
		}
		id, err := st.InsertSession(ctx, rec, samples)
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if id == "" {
			t.Fatalf("expected generated id")
		}
		ids = append(ids, id)
	}

	all, err := st.ListSessions(ctx, model.HistoryConfig{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != ids[0] || all[2].ID != ids[2] {
		t.Fatalf("unexpected sessions %+v", all)
	}
	if all[1].Latency != 20*time.Millisecond || all[1].Misses != 1 {
		t.Fatalf("unexpected second session %+v", all[1])
	}

	audio, err := st.ListSessions(ctx, model.HistoryConfig{Kind: "audio"})
	if err != nil {
		t.Fatalf("list audio: %v", err)
	}
	if len(audio) != 2 {
		t.Fatalf("expected 2 audio sessions, got %d", len(audio))
	}

	since := base.Add(90 * time.Minute)
	recent, err := st.ListSessions(ctx, model.HistoryConfig{Since: &since})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != ids[2] {
		t.Fatalf("unexpected recent sessions %+v", recent)
	}

	last, err := st.ListSessions(ctx, model.HistoryConfig{Last: 2})
	if err != nil {
		t.Fatalf("list last: %v", err)
	}
	if len(last) != 2 || last[0].ID != ids[1] || last[1].ID != ids[2] {
		t.Fatalf("unexpected last sessions %+v", last)
	}

	samples, err := st.ListSamples(ctx, ids[2])
	if err != nil {
		t.Fatalf("list samples: %v", err)
	}
	if len(samples) != 2 || !samples[1].Rejected || samples[0].Raw != 29*time.Millisecond {
		t.Fatalf("unexpected samples %+v", samples)
	}

	if err := st.DeleteSessions(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = st.ListSessions(ctx, model.HistoryConfig{})
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty history, got %d", len(all))
	}
}

func TestInsertSessionKeepsGivenID(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now()
	id, err := st.InsertSession(ctx, model.SessionRecord{ID: "fixed", Kind: "video", StartedAt: now, EndedAt: now}, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != "fixed" {
		t.Fatalf("expected fixed id, got %q", id)
	}
	if _, err := st.InsertSession(ctx, model.SessionRecord{ID: "fixed", Kind: "video", StartedAt: now, EndedAt: now}, nil); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
}

func TestSessionsOrderBySubsecondEndTime(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	whole := time.Date(2026, 5, 1, 10, 0, 5, 0, time.UTC)
	half := whole.Add(500 * time.Millisecond)
	for _, rec := range []model.SessionRecord{
		{ID: "half", Kind: "audio", StartedAt: half, EndedAt: half},
		{ID: "whole", Kind: "audio", StartedAt: whole, EndedAt: whole},
	} {
		if _, err := st.InsertSession(ctx, rec, nil); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}

	all, err := st.ListSessions(ctx, model.HistoryConfig{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != "whole" || all[1].ID != "half" {
		t.Fatalf("expected whole second first, got %+v", all)
	}
	if !all[0].EndedAt.Equal(whole) {
		t.Fatalf("unexpected round trip %v", all[0].EndedAt)
	}

	since := whole.Add(time.Millisecond)
	recent, err := st.ListSessions(ctx, model.HistoryConfig{Since: &since})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "half" {
		t.Fatalf("expected only the later session, got %+v", recent)
	}
}
