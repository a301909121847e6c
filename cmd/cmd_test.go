package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/media"
)

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"speak", "listen", "relay", "topics"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}
	if cmd, _, _ := rootCmd.Find([]string{"l"}); cmd.Name() != "listen" {
		t.Fatalf("alias l resolved to %q", cmd.Name())
	}
}

func TestNewSinkDiscardsWithoutPath(t *testing.T) {
	opened := ""
	open := func(path string) media.Sink {
		opened = path
		return &media.DiscardSink{}
	}

	if _, ok := newSink("", open).(*media.DiscardSink); !ok || opened != "" {
		t.Fatalf("empty path should discard without opening a file")
	}
	newSink("out.ogg", open)
	if opened != "out.ogg" {
		t.Fatalf("expected out.ogg to be opened, got %q", opened)
	}
}

func TestFetchTopics(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/topics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"topics":[{"topic":"hk","language":"Cantonese","participants":2,"speakers":1,"listeners":1,"feeds":2}]}`))
	}))
	defer ts.Close()

	topics, err := fetchTopics(&config.Config{Server: ts.URL})
	if err != nil {
		t.Fatalf("fetchTopics: %v", err)
	}
	if len(topics) != 1 || topics[0].Topic != "hk" || topics[0].Feeds != 2 {
		t.Fatalf("unexpected topics %+v", topics)
	}

	if _, err := fetchTopics(&config.Config{Server: ts.URL + "/missing"}); err == nil {
		t.Fatalf("expected error for a non-200 response")
	}
}
