package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/store"
)

const fullPayload = `{
	"id": 1001,
	"id_str": "1001",
	"text": "hello @bob and @carol!\nsee https://t.co/abc #go",
	"retweet_count": 4,
	"in_reply_to_screen_name": null,
	"user": {"screen_name": "alice", "followers_count": 120, "friends_count": 80},
	"entities": {
		"hashtags": [{"text": "go"}, {"text": "archive"}],
		"urls": [
			{"url": "https://t.co/abc", "expanded_url": "https://example.com/a"},
			{"url": "https://t.co/def", "expanded_url": "https://example.com/b"},
			{"url": "https://t.co/ghi", "expanded_url": "https://example.com/c"}
		]
	}
}`

func item(raw string) *store.Item {
	return &store.Item{
		ID:          7,
		TwitterID:   1001,
		Handle:      "alice",
		Text:        "stored excerpt",
		Raw:         []byte(raw),
		PublishedAt: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

func TestMentionsAndLinks(t *testing.T) {
	x := Wrap(item(`{"text":"hello @bob and @carol!"}`))
	assert.Equal(t, []string{"@bob", "@carol"}, x.Mentions())
	assert.Empty(t, x.Links())

	x = Wrap(item(fullPayload))
	assert.Equal(t, []string{"https://t.co/abc"}, x.Links())
}

func TestTextFallsBack(t *testing.T) {
	assert.Equal(t, "stored excerpt", Wrap(item("")).Text())
	assert.Equal(t, "stored excerpt", Wrap(item(`{"id":1}`)).Text())
	assert.Equal(t, "stored excerpt", Wrap(item(`{not json`)).Text())
	assert.Equal(t, "long form", Wrap(item(`{"full_text":"long form"}`)).Text())
}

func TestIsRetweet(t *testing.T) {
	tests := []struct {
		raw    string
		strict bool
		loose  bool
	}{
		{`{"text":"please rt this"}`, false, false},
		{`{"text":"check this out rt @alice"}`, false, true},
		{`{"text":"RT @bob: original"}`, false, true},
		{`{"text":"hey pls rt if you agree rt "}`, false, false},
		{`{"text":"start-up art"}`, false, false},
		{`{"text":"nothing here","retweeted_status":{"id":1}}`, true, true},
		{`{"text":"please rt","retweeted_status":{"id":1}}`, true, true},
		{`{"text":"plain","retweeted_status":null}`, false, false},
	}
	for _, tt := range tests {
		x := Wrap(item(tt.raw))
		assert.Equal(t, tt.strict, x.IsRetweet(true), "strict %s", tt.raw)
		assert.Equal(t, tt.loose, x.IsRetweet(false), "loose %s", tt.raw)
	}
}

func TestURL(t *testing.T) {
	assert.Equal(t, "https://twitter.com/alice/status/1001", Wrap(item("")).URL())
}

func TestExportRow(t *testing.T) {
	row, err := Wrap(item(fullPayload)).ExportRow()
	require.NoError(t, err)

	want := []string{
		"7",
		"2024-02-03T04:05:06Z",
		"02/03/2024",
		"1001",
		"alice",
		"120",
		"80",
		"4",
		"go, archive",
		"",
		"@bob, @carol",
		"https://twitter.com/alice/status/1001",
		"false",
		"false",
		"hello @bob and @carol! see https://t.co/abc #go",
		"https://t.co/abc", "https://example.com/a",
		"https://t.co/def", "https://example.com/b",
	}
	assert.Equal(t, want, row)
	assert.Len(t, ExportHeader(), len(want))
}

func TestExportRowMissingFields(t *testing.T) {
	tests := map[string]string{
		"id_str":               `{"text":"x"}`,
		"user":                 `{"id_str":"1"}`,
		"user.followers_count": `{"id_str":"1","user":{"screen_name":"a"}}`,
		"retweet_count":        `{"id_str":"1","user":{"screen_name":"a","followers_count":1,"friends_count":1}}`,
		"text":                 `{"id_str":"1","full_text":"x","retweet_count":0,"user":{"screen_name":"a","followers_count":1,"friends_count":1},"entities":{"hashtags":[],"urls":[]}}`,
		"entities":             `{"id_str":"1","text":"x","retweet_count":0,"user":{"screen_name":"a","followers_count":1,"friends_count":1}}`,
		"entities.hashtags":    `{"id_str":"1","text":"x","retweet_count":0,"user":{"screen_name":"a","followers_count":1,"friends_count":1},"entities":{"urls":[]}}`,
		"entities.urls":        `{"id_str":"1","text":"x","retweet_count":0,"user":{"screen_name":"a","followers_count":1,"friends_count":1},"entities":{"hashtags":[]}}`,
	}
	for path, raw := range tests {
		_, err := Wrap(item(raw)).ExportRow()
		require.Error(t, err, path)
		assert.True(t, errs.IsDataQuality(err), path)
		assert.Contains(t, err.Error(), path)
	}

	_, err := Wrap(item(`{broken`)).ExportRow()
	assert.True(t, errs.IsDataQuality(err))
}

func TestDecodeIsMemoized(t *testing.T) {
	it := item(`{"text":"first"}`)
	x := Wrap(it)
	assert.Equal(t, "first", x.Text())

	it.Raw = []byte(`{"text":"second"}`)
	assert.Equal(t, "first", x.Text())
}

func TestUnshorten(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/s", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/mid", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/mid", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	chain, err := (&Unshortener{Client: srv.Client()}).Unshorten(context.Background(), srv.URL+"/s")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/s", srv.URL + "/mid", srv.URL + "/final"}, chain)

	chain, err = Unshorten(context.Background(), srv.URL+"/final")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/final"}, chain)
}

func TestUnshortenFailureIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone"
	srv.Close()

	_, err := Unshorten(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
	assert.True(t, strings.Contains(err.Error(), "unshorten"))
}
