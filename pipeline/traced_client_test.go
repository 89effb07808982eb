package pipeline

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTracedClientReusesConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	c := NewTracedClient(5 * time.Second)
	for i, wantReused := range []bool{false, true} {
		req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("payload"))
		if err != nil {
			t.Fatal(err)
		}
		env, err := c.Do(req)
		if err != nil {
			t.Fatalf("Do #%d: %v", i, err)
		}
		if env.Metrics.ConnReused != wantReused {
			t.Errorf("Do #%d: ConnReused = %v, want %v", i, env.Metrics.ConnReused, wantReused)
		}
		if env.Metrics.Total <= 0 || env.Metrics.Sum() < 0 {
			t.Errorf("Do #%d: Total = %v, Sum = %v", i, env.Metrics.Total, env.Metrics.Sum())
		}
		if string(env.Body) != `{"text":"ok"}` {
			t.Errorf("Do #%d: body = %q", i, env.Body)
		}
	}
}

func TestTracedClientConcurrentExchanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewTracedClient(5 * time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(strings.Repeat("x", 64<<10)))
			if err != nil {
				t.Error(err)
				return
			}
			env, err := c.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			if env.StatusCode != http.StatusNoContent {
				t.Errorf("status = %d", env.StatusCode)
			}
		}()
	}
	wg.Wait()
}
