package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"curaj-bot/internal/domain"
	"curaj-bot/internal/llm"
	"curaj-bot/internal/qa"
)

// recordingSleep reemplaza la espera real y guarda las duraciones pedidas.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestResolver(t *testing.T) (*Resolver, *recordingSleep) {
	t.Helper()
	table, err := qa.Default()
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	r, err := NewSimulatedResolver(table, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	rec := &recordingSleep{}
	r.sleep = rec.sleep
	return r, rec
}

func TestResolver_ExamScenario(t *testing.T) {
	r, _ := newTestResolver(t)

	reply, err := r.Resolve(context.Background(), "what is the exam structure in curaj")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.Reply{
		Text:    "CURAJ B.Tech: 30% internal + 70% semester-end exam. A student must clear both parts to pass.",
		Sources: []domain.Source{{FileName: "CURAJ_ExamStructure.pdf", Score: "0.95"}},
	}
	if diff := cmp.Diff(want, reply); diff != "" {
		t.Fatalf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_ExactMatchIsDeterministic(t *testing.T) {
	r, _ := newTestResolver(t)

	for _, key := range r.table.Keys() {
		entry, _ := r.table.Lookup(key)
		variants := []string{key, strings.ToUpper(key), "  " + strings.ReplaceAll(key, " ", "   ") + "?! "}
		for _, v := range variants {
			for i := 0; i < 3; i++ {
				reply, err := r.Resolve(context.Background(), v)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if diff := cmp.Diff(entry.Reply(), reply); diff != "" {
					t.Fatalf("variant %q mismatch (-want +got):\n%s", v, diff)
				}
			}
		}
	}
}

func TestResolver_KeywordFallback(t *testing.T) {
	r, _ := newTestResolver(t)
	ingest, ok := r.table.Lookup("how do i ingest documents into the system")
	if !ok {
		t.Fatalf("ingestion entry missing from default table")
	}

	reply, kind := r.Match("please help me with ingestion")
	if kind != MatchKeyword {
		t.Fatalf("expected keyword match, got %s", kind)
	}
	if reply.Text != ingest.Response {
		t.Fatalf("expected ingestion text, got %q", reply.Text)
	}
	if reply.Text == r.table.DefaultReply().Text {
		t.Fatalf("keyword fallback must not return the generic reply")
	}
}

func TestResolver_GenericFallback(t *testing.T) {
	r, _ := newTestResolver(t)

	reply, err := r.Resolve(context.Background(), "what is the capital of France")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != r.table.DefaultReply().Text {
		t.Fatalf("expected generic reply, got %q", reply.Text)
	}
	if reply.Sources != nil {
		t.Fatalf("expected no sources, got %+v", reply.Sources)
	}
}

func TestResolver_DelayWithinInterval(t *testing.T) {
	r, rec := newTestResolver(t)

	for i := 0; i < 100; i++ {
		if _, err := r.Resolve(context.Background(), "hello"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(rec.delays) != 100 {
		t.Fatalf("expected 100 delays, got %d", len(rec.delays))
	}
	for _, d := range rec.delays {
		if d < 1500*time.Millisecond || d > 1800*time.Millisecond {
			t.Fatalf("delay %v outside [1500ms, 1800ms]", d)
		}
		if d%time.Millisecond != 0 {
			t.Fatalf("delay %v is not a whole number of milliseconds", d)
		}
	}
}

func TestResolver_DelayBoundsAreInclusive(t *testing.T) {
	r, _ := newTestResolver(t)

	r.int64N = func(int64) int64 { return 0 }
	if d := r.NextDelay(); d != DefaultMinDelay {
		t.Fatalf("expected %v, got %v", DefaultMinDelay, d)
	}
	r.int64N = func(n int64) int64 {
		if n != 301 {
			t.Fatalf("expected n=301 for [1500,1800], got %d", n)
		}
		return n - 1
	}
	if d := r.NextDelay(); d != DefaultMaxDelay {
		t.Fatalf("expected %v, got %v", DefaultMaxDelay, d)
	}
}

func TestResolver_CancelDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	table, err := qa.Default()
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	r, err := NewSimulatedResolver(table, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "what is the exam structure in curaj")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("resolve did not return after cancel")
	}
}

func TestNewResolver_Validation(t *testing.T) {
	table, err := qa.Default()
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	cases := map[string]ResolverConfig{
		"simulated without table": {Mode: domain.ModeSimulated},
		"inverted interval":       {Mode: domain.ModeSimulated, Table: table, MinDelay: 2 * time.Second, MaxDelay: time.Second},
		"negative min":            {Mode: domain.ModeSimulated, Table: table, MinDelay: -time.Second},
		"live without backend":    {Mode: domain.ModeLive},
		"unknown mode":            {Mode: "dream", Table: table},
	}
	for name, cfg := range cases {
		if _, err := NewResolver(cfg); !errors.Is(err, ErrResolverNotConfigured) {
			t.Fatalf("%s: expected ErrResolverNotConfigured, got %v", name, err)
		}
	}
}

func TestResolver_LiveMode(t *testing.T) {
	t.Run("backend reply passthrough", func(t *testing.T) {
		mock := &llm.MockClient{Reply: domain.Reply{Text: "live answer", Sources: []domain.Source{{FileName: "a.pdf", Score: "0.5000"}}}}
		r, err := NewResolver(ResolverConfig{Mode: domain.ModeLive, Backend: mock, LiveMaxInFlight: 2})
		if err != nil {
			t.Fatalf("new resolver: %v", err)
		}
		reply, err := r.Resolve(context.Background(), "anything")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reply.Text != "live answer" || len(reply.Sources) != 1 {
			t.Fatalf("unexpected reply %+v", reply)
		}
		if len(mock.Prompts) != 1 || mock.Prompts[0] != "anything" {
			t.Fatalf("expected raw prompt forwarded, got %+v", mock.Prompts)
		}
	})

	t.Run("backend failures become apology", func(t *testing.T) {
		failures := map[error]string{
			&llm.BackendError{Kind: llm.ErrBackendStatus, Status: 500, Reason: "Query engine is not initialized."}: "Sorry, I ran into a problem: Query engine is not initialized.",
			&llm.BackendError{Kind: llm.ErrBackendUnreachable, Reason: "could not reach the server"}:               "Sorry, I ran into a problem: could not reach the server.",
			&llm.BackendError{Kind: llm.ErrBackendMalformed, Reason: "the server sent an unreadable response"}:     "Sorry, I ran into a problem: the server sent an unreadable response.",
			errors.New("boom"): "Sorry, I ran into a problem: boom.",
		}
		for backendErr, want := range failures {
			r, err := NewResolver(ResolverConfig{Mode: domain.ModeLive, Backend: &llm.MockClient{Err: backendErr}})
			if err != nil {
				t.Fatalf("new resolver: %v", err)
			}
			reply, err := r.Resolve(context.Background(), "hi")
			if err != nil {
				t.Fatalf("live failures must not surface as errors, got %v", err)
			}
			if reply.Text != want {
				t.Fatalf("expected %q, got %q", want, reply.Text)
			}
			if reply.Sources != nil {
				t.Fatalf("apology must carry no sources")
			}
		}
	})

	t.Run("cancelled context is an error", func(t *testing.T) {
		r, err := NewResolver(ResolverConfig{Mode: domain.ModeLive, Backend: &llm.MockClient{Err: errors.New("boom")}})
		if err != nil {
			t.Fatalf("new resolver: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := r.Resolve(ctx, "hi"); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestResolver_ModesSideBySide(t *testing.T) {
	sim, _ := newTestResolver(t)
	live, err := NewResolver(ResolverConfig{Mode: domain.ModeLive, Backend: &llm.MockClient{Reply: domain.Reply{Text: "from backend"}}})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	if sim.Mode() != domain.ModeSimulated || live.Mode() != domain.ModeLive {
		t.Fatalf("unexpected modes %s / %s", sim.Mode(), live.Mode())
	}
	a, _ := sim.Resolve(context.Background(), "what is the exam structure in curaj")
	b, _ := live.Resolve(context.Background(), "what is the exam structure in curaj")
	if a.Text == b.Text {
		t.Fatalf("expected different replies per mode")
	}
}
