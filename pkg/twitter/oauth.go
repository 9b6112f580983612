package twitter

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Credentials are the four OAuth 1.0a secrets needed to sign a user-context
// request.
type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

// Signer adds an OAuth 1.0a HMAC-SHA1 Authorization header to requests.
type Signer struct {
	creds Credentials
	now   func() time.Time
	nonce func() string
}

func NewSigner(creds Credentials) *Signer {
	return &Signer{creds: creds, now: time.Now, nonce: randomNonce}
}

// Sign sets the Authorization header on req. Query parameters and form
// params both take part in the signature.
func (s *Signer) Sign(req *http.Request, form url.Values) {
	oauthParams := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_token":            s.creds.AccessToken,
		"oauth_version":          "1.0",
	}

	var pairs []string
	for k, v := range oauthParams {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
	}
	for _, values := range []url.Values{req.URL.Query(), form} {
		for k, vs := range values {
			for _, v := range vs {
				pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
			}
		}
	}
	sort.Strings(pairs)

	base := *req.URL
	base.RawQuery = ""
	base.Fragment = ""
	signatureBase := strings.ToUpper(req.Method) + "&" + percentEncode(base.String()) + "&" + percentEncode(strings.Join(pairs, "&"))
	signingKey := percentEncode(s.creds.ConsumerSecret) + "&" + percentEncode(s.creds.AccessTokenSecret)

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(signatureBase))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	var header []string
	for k, v := range oauthParams {
		header = append(header, percentEncode(k)+"=\""+percentEncode(v)+"\"")
	}
	sort.Strings(header)
	req.Header.Set("Authorization", "OAuth "+strings.Join(header, ", "))
}

// percentEncode is RFC 3986 encoding; url.QueryEscape differs only in
// writing spaces as '+'.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func randomNonce() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, base64.StdEncoding.EncodeToString(b))
}
