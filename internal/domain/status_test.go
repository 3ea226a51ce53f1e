package domain_test

import (
	"testing"

	"mastersync/internal/domain"
)

func contents(statuses ...domain.Status) []domain.Content {
	out := make([]domain.Content, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, domain.Content{
			UUID:       string(rune('a' + i)),
			ColumnName: "col",
			Title:      "title",
			Status:     s,
		})
	}
	return out
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name     string
		contents []domain.Content
		want     domain.Status
	}{
		{"empty set has no opinion", nil, ""},
		{"all ok", contents(domain.StatusOK, domain.StatusOK), domain.StatusOK},
		{"ok and not applicable", contents(domain.StatusOK, domain.StatusNotApplicable), domain.StatusOK},
		{"all not applicable", contents(domain.StatusNotApplicable), domain.StatusOK},
		{"all missing", contents(domain.StatusMissing, domain.StatusMissing), domain.StatusMissing},
		{"some missing wins over ok", contents(domain.StatusOK, domain.StatusMissing), domain.StatusIncomplete},
		{"some missing wins over na", contents(domain.StatusNotApplicable, domain.StatusMissing), domain.StatusIncomplete},
		{"single missing", contents(domain.StatusMissing), domain.StatusMissing},
		{"unset statuses have no opinion", contents("", ""), ""},
		{"missing among unset is incomplete", contents("", domain.StatusMissing), domain.StatusIncomplete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.Derive(tc.contents); got != tc.want {
				t.Fatalf("Derive() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDeriveIsPure(t *testing.T) {
	set := contents(domain.StatusOK, domain.StatusMissing, domain.StatusNotApplicable)
	first := domain.Derive(set)
	for i := 0; i < 5; i++ {
		if got := domain.Derive(set); got != first {
			t.Fatalf("Derive changed between calls: %q then %q", first, got)
		}
	}
}
