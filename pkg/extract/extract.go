package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	errs "twarchive/pkg/errors"
	"twarchive/pkg/store"
)

const (
	timestampLayout = "2006-01-02T15:04:05Z"
	dateLayout      = "01/02/2006"
	maxExportURLs   = 2
)

var (
	mentionPattern = regexp.MustCompile(`@\w+`)
	linkPattern    = regexp.MustCompile(`https?://\S+`)
)

type payload struct {
	IDStr               *string         `json:"id_str"`
	Text                *string         `json:"text"`
	FullText            *string         `json:"full_text"`
	RetweetedStatus     json.RawMessage `json:"retweeted_status"`
	RetweetCount        *int64          `json:"retweet_count"`
	InReplyToScreenName *string         `json:"in_reply_to_screen_name"`
	User                *struct {
		ScreenName     *string `json:"screen_name"`
		FollowersCount *int64  `json:"followers_count"`
		FriendsCount   *int64  `json:"friends_count"`
	} `json:"user"`
	Entities *struct {
		Hashtags *[]struct {
			Text string `json:"text"`
		} `json:"hashtags"`
		URLs *[]struct {
			URL         string `json:"url"`
			ExpandedURL string `json:"expanded_url"`
		} `json:"urls"`
	} `json:"entities"`
}

// Item derives read-only fields from a stored item. The raw payload is
// decoded once, on first use.
type Item struct {
	item *store.Item

	once    sync.Once
	decoded *payload
	err     error
}

// Wrap returns an extractor over it. it must not be modified afterwards.
func Wrap(it *store.Item) *Item {
	return &Item{item: it}
}

func (i *Item) payload() (*payload, error) {
	i.once.Do(func() {
		i.decoded = &payload{}
		if len(bytes.TrimSpace(i.item.Raw)) == 0 {
			return
		}
		if err := json.Unmarshal(i.item.Raw, i.decoded); err != nil {
			i.err = errs.Wrap(errs.ErrorTypeDataQuality, err, "item %d has a malformed payload", i.item.TwitterID)
		}
	})
	return i.decoded, i.err
}

// Text returns the payload text, or the stored excerpt when the payload has
// none or cannot be decoded.
func (i *Item) Text() string {
	p, err := i.payload()
	if err == nil {
		if p.Text != nil {
			return *p.Text
		}
		if p.FullText != nil {
			return *p.FullText
		}
	}
	return i.item.Text
}

// Mentions returns every @handle in the text, left to right.
func (i *Item) Mentions() []string {
	return mentionPattern.FindAllString(i.Text(), -1)
}

// Links returns every http(s) URL in the text.
func (i *Item) Links() []string {
	return linkPattern.FindAllString(i.Text(), -1)
}

// IsRetweet reports whether the item is a retweet. The strict form trusts
// only retweeted_status. The loose form also guesses from "RT" in the text;
// it is best-effort, biased toward English, and misses quoted retweets.
func (i *Item) IsRetweet(strict bool) bool {
	if p, err := i.payload(); err == nil && truthy(p.RetweetedStatus) {
		return true
	}
	if strict {
		return false
	}

	text := strings.ToLower(i.Text())
	if strings.HasPrefix(text, "rt ") {
		return true
	}
	if strings.Contains(text, " rt ") {
		for _, plea := range []string{"please rt", "pls rt", "plz rt"} {
			if strings.Contains(text, plea) {
				return false
			}
		}
		return true
	}
	return false
}

func truthy(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", "{}", "[]", `""`, "0":
		return false
	}
	return true
}

// URL is the canonical status link.
func (i *Item) URL() string {
	return fmt.Sprintf("https://twitter.com/%s/status/%d", i.item.Handle, i.item.TwitterID)
}

// ExportHeader names the ExportRow columns, including both optional URL
// pairs.
func ExportHeader() []string {
	return []string{
		"id",
		"created_at",
		"created_at_date",
		"twitter_id",
		"screen_name",
		"followers_count",
		"friends_count",
		"retweet_count",
		"hashtags",
		"in_reply_to_screen_name",
		"mentions",
		"twitter_url",
		"is_retweet_strict",
		"is_retweet",
		"text",
		"url1",
		"url1_expanded",
		"url2",
		"url2_expanded",
	}
}

// ExportRow returns the fixed-order CSV fields for the item. A payload
// lacking a required field yields a data quality error naming its path.
func (i *Item) ExportRow() ([]string, error) {
	p, err := i.payload()
	if err != nil {
		return nil, err
	}

	missing := func(path string) error {
		return errs.DataQuality("item %d: payload is missing %s", i.item.TwitterID, path)
	}
	switch {
	case p.IDStr == nil:
		return nil, missing("id_str")
	case p.User == nil:
		return nil, missing("user")
	case p.User.ScreenName == nil:
		return nil, missing("user.screen_name")
	case p.User.FollowersCount == nil:
		return nil, missing("user.followers_count")
	case p.User.FriendsCount == nil:
		return nil, missing("user.friends_count")
	case p.RetweetCount == nil:
		return nil, missing("retweet_count")
	case p.Text == nil:
		return nil, missing("text")
	case p.Entities == nil:
		return nil, missing("entities")
	case p.Entities.Hashtags == nil:
		return nil, missing("entities.hashtags")
	case p.Entities.URLs == nil:
		return nil, missing("entities.urls")
	}

	hashtags := make([]string, 0, len(*p.Entities.Hashtags))
	for _, h := range *p.Entities.Hashtags {
		hashtags = append(hashtags, h.Text)
	}
	var replyTo string
	if p.InReplyToScreenName != nil {
		replyTo = *p.InReplyToScreenName
	}
	published := i.item.PublishedAt.UTC()

	row := []string{
		strconv.FormatInt(i.item.ID, 10),
		published.Format(timestampLayout),
		published.Format(dateLayout),
		*p.IDStr,
		*p.User.ScreenName,
		strconv.FormatInt(*p.User.FollowersCount, 10),
		strconv.FormatInt(*p.User.FriendsCount, 10),
		strconv.FormatInt(*p.RetweetCount, 10),
		strings.Join(hashtags, ", "),
		replyTo,
		strings.Join(i.Mentions(), ", "),
		i.URL(),
		strconv.FormatBool(i.IsRetweet(true)),
		strconv.FormatBool(i.IsRetweet(false)),
		strings.ReplaceAll(*p.Text, "\n", " "),
	}
	for n, u := range *p.Entities.URLs {
		if n == maxExportURLs {
			break
		}
		row = append(row, u.URL, u.ExpandedURL)
	}
	return row, nil
}
