package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"interunit-loan-recon/internal/matcher"
	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/reconciler"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func sampleRun() *reconciler.RunResult {
	return &reconciler.RunResult{
		Considered: 6,
		Results: []*models.MatchResult{
			{LenderUID: "L1", BorrowerUID: "B1", Type: models.MatchTypePO, Pass: models.PassReference},
			{LenderUID: "L2", BorrowerUID: "B2", Type: models.MatchTypeSalary, Pass: models.PassSimilarity},
		},
		ByPass:     map[models.Pass]int{models.PassReference: 1, models.PassSimilarity: 1},
		Duplicates: []matcher.DuplicateGroup{{}},
		StartedAt:  time.Unix(1700000000, 0),
		Duration:   1500 * time.Millisecond,
	}
}

func TestRecorder_ObserveRun(t *testing.T) {
	r := New(false)

	r.ObserveRun(models.Scope{}, sampleRun(), nil)
	r.ObserveRun(models.Scope{}, nil, fmt.Errorf("storage down"))

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"ok runs", testutil.ToFloat64(r.runs.WithLabelValues("ok")), 1},
		{"failed runs", testutil.ToFloat64(r.runs.WithLabelValues("error")), 1},
		{"entries", testutil.ToFloat64(r.entries), 6},
		{"confirmed PO", testutil.ToFloat64(r.matches.WithLabelValues("PO", "confirmed")), 1},
		{"pending salary", testutil.ToFloat64(r.matches.WithLabelValues("SALARY", "matched")), 1},
		{"reference pass", testutil.ToFloat64(r.passMatches.WithLabelValues("reference")), 1},
		{"duplicates", testutil.ToFloat64(r.duplicateGroups), 1},
		{"last run", testutil.ToFloat64(r.lastRun), 1700000001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestRecorder_ObserveReview(t *testing.T) {
	r := New(false)
	r.ObserveReview("accept", nil)
	r.ObserveReview("accept", nil)
	r.ObserveReview("reject", fmt.Errorf("not matched"))

	if got := testutil.ToFloat64(r.reviews.WithLabelValues("accept", "ok")); got != 2 {
		t.Errorf("accept ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.reviews.WithLabelValues("reject", "error")); got != 1 {
		t.Errorf("reject error = %v, want 1", got)
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := New(true)
	r.ObserveReview("accept", nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`recon_review_decisions_total{action="accept",outcome="ok"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(false), New(false)
	a.ObserveReview("accept", nil)
	if got := testutil.ToFloat64(b.reviews.WithLabelValues("accept", "ok")); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}
