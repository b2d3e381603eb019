package submit_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"pgregory.net/rapid"

	"github.com/JaimeStill/ktru/internal/batches"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/internal/prompts"
	"github.com/JaimeStill/ktru/internal/provider"
	"github.com/JaimeStill/ktru/internal/state"
	"github.com/JaimeStill/ktru/internal/submit"
	"github.com/JaimeStill/ktru/pkg/clock"
	"github.com/JaimeStill/ktru/pkg/pagination"
	"github.com/JaimeStill/ktru/pkg/retry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockClient struct {
	submitFn func(ctx context.Context, requests []provider.Request) (*provider.Job, error)
}

func (m *mockClient) Submit(ctx context.Context, requests []provider.Request) (*provider.Job, error) {
	return m.submitFn(ctx, requests)
}

func (m *mockClient) Status(context.Context, string) (*provider.Job, error) {
	return nil, errors.New("not implemented")
}

func (m *mockClient) Results(context.Context, *provider.Job) (*provider.ResultSet, error) {
	return nil, errors.New("not implemented")
}

var start = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T, client provider.Client, perJob int) (*submit.Submitter, batches.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := state.NewRedis(rdb, "test", discard, pagination.Config{DefaultPageSize: 10, MaxPageSize: 100})
	return newSubmitter(t, store, client, perJob), store
}

func newSubmitter(t *testing.T, store batches.Store, client provider.Client, perJob int) *submit.Submitter {
	t.Helper()

	renderer, err := prompts.NewRenderer(&prompts.Template{Name: "test", Text: "classify {product_json}"})
	if err != nil {
		t.Fatal(err)
	}

	cfg := submit.Config{
		MaxBatchProducts:  100,
		MaxRequestsPerJob: perJob,
		Concurrency:       2,
		BaseInterval:      5 * time.Second,
		Retry:             retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	return submit.New(cfg, store, client, renderer, clock.NewFake(start), nil, discard)
}

func items(n int) []products.Product {
	list := make([]products.Product, n)
	for i := range list {
		list[i] = products.Product{ID: fmt.Sprintf("sku-%d", i), Title: fmt.Sprintf("Товар %d", i)}
	}
	return list
}

func TestSubmitPartitionsAndPersists(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string][]string{}
		n    atomic.Int32
	)
	client := &mockClient{submitFn: func(_ context.Context, reqs []provider.Request) (*provider.Job, error) {
		handle := fmt.Sprintf("msgbatch_%d", n.Add(1))
		ids := make([]string, len(reqs))
		for i, r := range reqs {
			ids[i] = r.CustomID
			if !strings.HasPrefix(r.Prompt, "classify {") {
				t.Errorf("prompt not rendered: %q", r.Prompt)
			}
		}
		mu.Lock()
		seen[handle] = ids
		mu.Unlock()
		return &provider.Job{ID: handle, ProcessingStatus: provider.StatusInProgress}, nil
	}}

	sub, store := setup(t, client, 2)
	b, err := sub.Submit(context.Background(), items(3))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if !strings.HasPrefix(b.ID, batches.IDPrefix) {
		t.Errorf("id = %s", b.ID)
	}
	if b.Status != batches.StatusPending || b.ProductCount != 3 || b.ProcessedCount != 0 {
		t.Errorf("batch = %+v", b)
	}
	if len(b.SubBatches) != 2 {
		t.Fatalf("sub-batches = %d, want 2", len(b.SubBatches))
	}
	if !b.NextPollAt.Equal(start.Add(5 * time.Second)) {
		t.Errorf("next poll = %v", b.NextPollAt)
	}

	var customIDs []string
	for i, sb := range b.SubBatches {
		if sb.Index != i || sb.State != batches.SubSubmitted || sb.Handle == "" {
			t.Errorf("sub-batch %d = %+v", i, sb)
		}
		for _, it := range sb.Items {
			customIDs = append(customIDs, it.CustomID+"="+it.ProductID)
		}
		if got := strings.Join(seen[sb.Handle], ","); len(sb.Items) > 0 && got == "" {
			t.Errorf("handle %s never submitted", sb.Handle)
		}
	}
	if got := strings.Join(customIDs, " "); got != "0=sku-0 1=sku-1 2=sku-2" {
		t.Errorf("items = %s", got)
	}

	stored, err := store.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != batches.StatusPending || len(stored.SubBatches) != 2 {
		t.Errorf("stored = %+v", stored)
	}

	for _, sb := range b.SubBatches {
		id, err := store.Lookup(context.Background(), sb.Handle)
		if err != nil || id != b.ID {
			t.Errorf("Lookup(%s) = %s, %v", sb.Handle, id, err)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	client := &mockClient{submitFn: func(context.Context, []provider.Request) (*provider.Job, error) {
		t.Fatal("provider called for invalid input")
		return nil, nil
	}}
	sub, store := setup(t, client, 25)

	tests := []struct {
		name string
		list []products.Product
	}{
		{"empty", nil},
		{"too many", items(101)},
		{"duplicate ids", []products.Product{{ID: "a", Title: "x"}, {ID: "a", Title: "y"}}},
		{"missing title", []products.Product{{ID: "a"}}},
		{"missing id", []products.Product{{Title: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sub.Submit(context.Background(), tt.list)
			if !errors.Is(err, batches.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	page, err := store.List(context.Background(), pagination.PageRequest{Page: 1}, batches.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Errorf("batches created on validation failure: %d", page.Total)
	}
}

func TestSubmitPartialFailure(t *testing.T) {
	client := &mockClient{submitFn: func(_ context.Context, reqs []provider.Request) (*provider.Job, error) {
		if reqs[0].CustomID == "0" {
			return nil, &provider.Error{StatusCode: 400, Message: "invalid request"}
		}
		return &provider.Job{ID: "msgbatch_ok"}, nil
	}}

	sub, _ := setup(t, client, 2)
	b, err := sub.Submit(context.Background(), items(4))
	if err != nil {
		t.Fatal(err)
	}

	if b.Status != batches.StatusPending {
		t.Errorf("status = %s, want pending", b.Status)
	}
	if b.SubBatches[0].State != batches.SubFailed || b.SubBatches[0].Error == "" || b.SubBatches[0].Handle != "" {
		t.Errorf("sub-batch 0 = %+v", b.SubBatches[0])
	}
	if b.SubBatches[1].State != batches.SubSubmitted {
		t.Errorf("sub-batch 1 = %+v", b.SubBatches[1])
	}
}

func TestSubmitAllRejected(t *testing.T) {
	var calls atomic.Int32
	client := &mockClient{submitFn: func(context.Context, []provider.Request) (*provider.Job, error) {
		calls.Add(1)
		return nil, &provider.Error{StatusCode: 401, Message: "invalid x-api-key"}
	}}

	sub, store := setup(t, client, 25)
	b, err := sub.Submit(context.Background(), items(3))
	if err != nil {
		t.Fatal(err)
	}

	if b.Status != batches.StatusFailed || !strings.Contains(b.Reason, "invalid x-api-key") {
		t.Errorf("batch = %+v", b)
	}
	if calls.Load() != 1 {
		t.Errorf("non-retryable error retried: %d calls", calls.Load())
	}

	if b.NotifiedAt != nil {
		t.Errorf("failed batch marked notified at submit")
	}
	due, err := store.Due(context.Background(), start.Add(time.Hour), 10)
	if err != nil || len(due) != 1 || due[0] != b.ID {
		t.Errorf("failed batch not awaiting hand-off: %v %v", due, err)
	}
}

func TestSubmitStoreDownCreatesNoJobs(t *testing.T) {
	var calls atomic.Int32
	client := &mockClient{submitFn: func(context.Context, []provider.Request) (*provider.Job, error) {
		n := calls.Add(1)
		return &provider.Job{ID: fmt.Sprintf("msgbatch_%d", n), ProcessingStatus: provider.StatusInProgress}, nil
	}}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	store := state.NewRedis(rdb, "test", discard, pagination.Config{DefaultPageSize: 10, MaxPageSize: 100})
	mr.Close()

	sub := newSubmitter(t, store, client, 2)
	b, err := sub.Submit(context.Background(), items(4))
	if !errors.Is(err, batches.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if b != nil {
		t.Errorf("batch = %+v, want nil", b)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("provider jobs created = %d, want 0", got)
	}
}

func TestSubmitRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	client := &mockClient{submitFn: func(context.Context, []provider.Request) (*provider.Job, error) {
		if calls.Add(1) < 3 {
			return nil, &provider.Error{StatusCode: 529, Message: "Overloaded", Retryable: true}
		}
		return &provider.Job{ID: "msgbatch_retry"}, nil
	}}

	sub, _ := setup(t, client, 25)
	b, err := sub.Submit(context.Background(), items(1))
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 || b.SubBatches[0].Handle != "msgbatch_retry" {
		t.Errorf("calls = %d, sub-batch = %+v", calls.Load(), b.SubBatches[0])
	}
}

func TestPartition(t *testing.T) {
	if got := submit.Partition([]int{}, 3); got != nil {
		t.Errorf("empty input = %v", got)
	}
	if got := submit.Partition([]int{1, 2}, 0); got != nil {
		t.Errorf("zero size = %v", got)
	}

	got := submit.Partition([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != 5 {
		t.Errorf("Partition = %v", got)
	}
}

func TestPartitionProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		list := rapid.SliceOfN(rapid.Int(), 0, 250).Draw(t, "list")
		size := rapid.IntRange(1, 40).Draw(t, "size")

		chunks := submit.Partition(list, size)
		again := submit.Partition(list, size)

		want := (len(list) + size - 1) / size
		if len(chunks) != want {
			t.Fatalf("chunks = %d, want %d", len(chunks), want)
		}

		var flat []int
		for i, c := range chunks {
			if len(c) == 0 || len(c) > size {
				t.Fatalf("chunk %d has %d items (size %d)", i, len(c), size)
			}
			if i < len(chunks)-1 && len(c) != size {
				t.Fatalf("non-final chunk %d is short", i)
			}
			if len(again[i]) != len(c) {
				t.Fatalf("partitioning is not deterministic")
			}
			flat = append(flat, c...)
		}

		if len(flat) != len(list) {
			t.Fatalf("lost items: %d of %d", len(flat), len(list))
		}
		for i := range list {
			if flat[i] != list[i] {
				t.Fatalf("order changed at %d", i)
			}
		}
	})
}
