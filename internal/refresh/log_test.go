package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryLogList(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, e := range []LogEntry{
		{ViewName: "a", UpdatedAt: base, Duration: time.Second},
		{ViewName: "b", UpdatedAt: base.Add(time.Minute), Duration: 2 * time.Second, Failed: true},
		{ViewName: "a", UpdatedAt: base.Add(2 * time.Minute), Duration: 3 * time.Second},
		{ViewName: "a", UpdatedAt: base.Add(2 * time.Minute), Duration: 4 * time.Second, Failed: true},
	} {
		if _, err := log.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	ids := func(entries []LogEntry) []int64 {
		var out []int64
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"all newest first", Filter{}, []int64{4, 3, 2, 1}},
		{"by view", Filter{View: "a"}, []int64{4, 3, 1}},
		{"failed only", Filter{FailedOnly: true}, []int64{4, 2}},
		{"since", Filter{Since: base.Add(time.Minute)}, []int64{4, 3, 2}},
		{"limit", Filter{Limit: 2}, []int64{4, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := log.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("List() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
