package paging

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeList serves a fixed sequence of pages and records every call.
type fakeList struct {
	pages [][]int
	total int
	// failAt makes the call for that page number fail with failErr.
	failAt  int
	failErr error

	calls     []int
	pageSizes []int
}

func (f *fakeList) list(_ context.Context, page, pageSize int) (Page[int], error) {
	f.calls = append(f.calls, page)
	f.pageSizes = append(f.pageSizes, pageSize)
	if f.failAt == page {
		return Page[int]{}, f.failErr
	}
	if page-1 >= len(f.pages) {
		return Page[int]{TotalRows: f.total}, nil
	}
	return Page[int]{Items: f.pages[page-1], TotalRows: f.total}, nil
}

// split divides n sequential items into pages of size.
func split(n, size int) [][]int {
	var pages [][]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		p := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			p = append(p, i)
		}
		pages = append(pages, p)
	}
	return pages
}

type vendorErr struct{ msg string }

func (e *vendorErr) Error() string         { return "vendor error: " + e.msg }
func (e *vendorErr) VendorMessage() string { return e.msg }

// ---------------------------------------------------------------------------
// Termination
// ---------------------------------------------------------------------------

func TestFetchAll_TerminatesOnCount(t *testing.T) {
	tests := []struct {
		total, pageSize int
		wantCalls       int
	}{
		{1, 100, 1},
		{100, 100, 1},
		{101, 100, 2},
		{250, 100, 3},
		{7, 3, 3},
		{1000, 1000, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("total=%d/size=%d", tt.total, tt.pageSize), func(t *testing.T) {
			f := &fakeList{pages: split(tt.total, tt.pageSize), total: tt.total}
			got, err := FetchAll(context.Background(), f.list, Options{PageSize: tt.pageSize})
			if err != nil {
				t.Fatalf("FetchAll: %v", err)
			}
			if len(got) != tt.total {
				t.Errorf("got %d items, want %d", len(got), tt.total)
			}
			if len(f.calls) != tt.wantCalls {
				t.Errorf("made %d calls, want %d", len(f.calls), tt.wantCalls)
			}
			for i, v := range got {
				if v != i {
					t.Fatalf("item %d = %d, out of order", i, v)
				}
			}
		})
	}
}

func TestFetchAll_EmptyPageEarlyExit(t *testing.T) {
	// Server claims 500 rows but runs dry after the second page.
	f := &fakeList{pages: [][]int{{1, 2}, {3, 4}, {}}, total: 500}
	got, err := FetchAll(context.Background(), f.list, Options{PageSize: 2})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d items, want 4", len(got))
	}
	if len(f.calls) != 3 {
		t.Errorf("made %d calls, want 3", len(f.calls))
	}
}

func TestFetchAll_ZeroTotal(t *testing.T) {
	f := &fakeList{total: 0}
	got, err := FetchAll(context.Background(), f.list, Options{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
	if len(f.calls) != 1 {
		t.Errorf("made %d calls, want 1", len(f.calls))
	}
}

func TestFetchAll_UnderReportedTotal(t *testing.T) {
	// Total says 2 but the first page already holds 3; count exit wins.
	f := &fakeList{pages: [][]int{{1, 2, 3}, {4}}, total: 2}
	got, err := FetchAll(context.Background(), f.list, Options{PageSize: 3})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 3 || len(f.calls) != 1 {
		t.Errorf("got %d items in %d calls, want 3 in 1", len(got), len(f.calls))
	}
}

func TestFetchAll_SinglePage(t *testing.T) {
	f := &fakeList{pages: split(30, 10), total: 30}
	got, err := FetchAll(context.Background(), f.list, Options{PageSize: 10, SinglePage: true})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 10 || len(f.calls) != 1 {
		t.Errorf("got %d items in %d calls, want 10 in 1", len(got), len(f.calls))
	}
}

func TestFetchAll_StartPage(t *testing.T) {
	f := &fakeList{pages: split(30, 10), total: 30}
	got, err := FetchAll(context.Background(), f.list, Options{PageSize: 10, StartPage: 3})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	// Page 3 alone does not reach the total; page 4 is empty and ends the walk.
	if len(got) != 10 {
		t.Errorf("got %d items, want 10", len(got))
	}
	if f.calls[0] != 3 {
		t.Errorf("first call page = %d, want 3", f.calls[0])
	}
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestFetchAll_VendorErrorAborts(t *testing.T) {
	f := &fakeList{
		pages:   split(300, 100),
		total:   300,
		failAt:  2,
		failErr: &vendorErr{msg: "Site not exist"},
	}
	got, err := FetchAll(context.Background(), f.list, Options{PageSize: 100})
	if err == nil {
		t.Fatal("expected error")
	}
	if got != nil {
		t.Errorf("got %d items alongside error, want nil", len(got))
	}

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("error %T is not *paging.Error", err)
	}
	if pe.Page != 2 || pe.Fetched != 100 {
		t.Errorf("Error{Page: %d, Fetched: %d}, want {2, 100}", pe.Page, pe.Fetched)
	}
	if pe.VendorMessage() != "Site not exist" {
		t.Errorf("VendorMessage = %q", pe.VendorMessage())
	}
	var ve *vendorErr
	if !errors.As(err, &ve) {
		t.Error("wrapped vendor error not reachable via errors.As")
	}
	if len(f.calls) != 2 {
		t.Errorf("made %d calls, want 2", len(f.calls))
	}
}

func TestFetchAll_NegativeTotal(t *testing.T) {
	f := &fakeList{pages: [][]int{{1}}, total: -1}
	if _, err := FetchAll(context.Background(), f.list, Options{}); err == nil {
		t.Fatal("expected error for negative total")
	}
}

func TestFetchAll_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeList{pages: split(10, 5), total: 10}
	_, err := FetchAll(ctx, f.list, Options{PageSize: 5})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("made %d calls after cancellation, want 0", len(f.calls))
	}
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

func TestOptions_PageSizeClamp(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultPageSize},
		{-5, 1},
		{50, 50},
		{5000, MaxPageSize},
	}
	for _, tt := range tests {
		f := &fakeList{total: 0}
		if _, err := FetchAll(context.Background(), f.list, Options{PageSize: tt.in}); err != nil {
			t.Fatalf("FetchAll: %v", err)
		}
		if f.pageSizes[0] != tt.want {
			t.Errorf("PageSize %d sent as %d, want %d", tt.in, f.pageSizes[0], tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Walk
// ---------------------------------------------------------------------------

func TestWalk_Stats(t *testing.T) {
	f := &fakeList{pages: split(25, 10), total: 25}
	var seen []int
	stats, err := Walk(context.Background(), f.list, Options{PageSize: 10},
		func(_ context.Context, page int, items []int) error {
			seen = append(seen, page)
			return nil
		})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if stats.Pages != 3 || stats.Items != 25 || stats.TotalRows != 25 {
		t.Errorf("stats = %+v", stats)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("pages seen = %v", seen)
	}
}

func TestWalk_CallbackErrorStops(t *testing.T) {
	f := &fakeList{pages: split(30, 10), total: 30}
	boom := errors.New("boom")
	_, err := Walk(context.Background(), f.list, Options{PageSize: 10},
		func(_ context.Context, page int, _ []int) error {
			if page == 2 {
				return boom
			}
			return nil
		})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(f.calls) != 2 {
		t.Errorf("made %d calls, want 2", len(f.calls))
	}
}
