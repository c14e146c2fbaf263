package search_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gptbridge/pkg/search"
)

func TestGoogleSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("cx") != "cx" {
			t.Errorf("credentials = %v", q)
		}
		gotQuery = q.Get("q")
		io.WriteString(w, `{"items":[
			{"title":"T1","snippet":"S1","link":"L1"},
			{"title":"T2","snippet":"S2","link":"L2"},
			{"title":"T3","snippet":"S3","link":"L3"},
			{"title":"T4","snippet":"S4","link":"L4"}
		]}`)
	}))
	defer srv.Close()

	g := search.NewGoogle("k", "cx", srv.URL)
	results, err := g.Search(context.Background(), "go generics & iterators")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "go generics & iterators" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(results) != search.MaxResults || results[2].Link != "L3" {
		t.Errorf("results = %+v", results)
	}
}

func TestGoogleSearchEmptyAndErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
		wantLen int
	}{
		{name: "no items", status: 200, body: `{"searchInformation":{"totalResults":"0"}}`},
		{name: "api error", status: 403, body: `{"error":{"code":403,"message":"quota"}}`, wantErr: "google api error: 403 - quota"},
		{name: "bad json", status: 502, body: `<html>`, wantErr: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			results, err := search.NewGoogle("k", "cx", srv.URL).Search(context.Background(), "asdkjaslkdj123")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || len(results) != tt.wantLen {
				t.Fatalf("results = %v, err = %v", results, err)
			}
		})
	}
}

func TestGoogleNotConfigured(t *testing.T) {
	_, err := search.NewGoogle("", "", "").Search(context.Background(), "q")
	if !errors.Is(err, search.ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}
