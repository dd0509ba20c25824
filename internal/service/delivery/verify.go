package delivery

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ignite/outreach/internal/pkg/httpretry"
)

const svixTolerance = 5 * time.Minute

// SvixVerifier checks the svix-id / svix-timestamp / svix-signature headers
// used by the direct webhook provider.
type SvixVerifier struct {
	key []byte
	now func() time.Time
}

// NewSvixVerifier decodes a "whsec_"-prefixed base64 signing secret.
func NewSvixVerifier(secret string) (*SvixVerifier, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("invalid webhook signing secret")
	}
	return &SvixVerifier{key: key, now: time.Now}, nil
}

// WithClock overrides the clock used for the timestamp tolerance.
func (v *SvixVerifier) WithClock(now func() time.Time) *SvixVerifier {
	v.now = now
	return v
}

// Sign returns the v1 signature header value for the given message.
func (v *SvixVerifier) Sign(id string, ts time.Time, body []byte) string {
	return "v1," + v.mac(id, strconv.FormatInt(ts.Unix(), 10), body)
}

func (v *SvixVerifier) mac(id, ts string, body []byte) string {
	h := hmac.New(sha256.New, v.key)
	h.Write([]byte(id + "." + ts + "."))
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Verify returns ErrBadSignature (wrapped) unless one listed v1 signature
// matches and the timestamp is within tolerance.
func (v *SvixVerifier) Verify(header http.Header, body []byte) error {
	id := firstNonEmpty(header.Get("svix-id"), header.Get("webhook-id"))
	ts := firstNonEmpty(header.Get("svix-timestamp"), header.Get("webhook-timestamp"))
	sigs := firstNonEmpty(header.Get("svix-signature"), header.Get("webhook-signature"))
	if id == "" || ts == "" || sigs == "" {
		return fmt.Errorf("%w: missing signature headers", ErrBadSignature)
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	if d := v.now().Sub(time.Unix(sec, 0)); d > svixTolerance || d < -svixTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}
	want := []byte(v.mac(id, ts, body))
	for _, s := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(s, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), want) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrBadSignature)
}

// CertFetcher loads a PEM signing certificate.
type CertFetcher func(ctx context.Context, certURL string) (*x509.Certificate, error)

// SNSVerifier checks SNS message signatures (SignatureVersion 1 and 2) and,
// when configured, the topic allowlist.
type SNSVerifier struct {
	fetch  CertFetcher
	topics map[string]bool

	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

// NewSNSVerifier returns a verifier that downloads signing certificates
// through client. An empty topics list accepts any topic.
func NewSNSVerifier(client httpretry.HTTPDoer, topics []string) *SNSVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return NewSNSVerifierWithFetcher(httpCertFetcher(client), topics)
}

// NewSNSVerifierWithFetcher uses fetch for certificate retrieval.
func NewSNSVerifierWithFetcher(fetch CertFetcher, topics []string) *SNSVerifier {
	v := &SNSVerifier{fetch: fetch, topics: map[string]bool{}, certs: map[string]*x509.Certificate{}}
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			v.topics[t] = true
		}
	}
	return v
}

// Verify implements the SNS signature scheme.
func (v *SNSVerifier) Verify(ctx context.Context, msg *SNSMessage) error {
	if len(v.topics) > 0 && !v.topics[msg.TopicArn] {
		return fmt.Errorf("%w: topic %q not allowed", ErrBadSignature, msg.TopicArn)
	}
	var hash crypto.Hash
	switch msg.SignatureVersion {
	case "1":
		hash = crypto.SHA1
	case "2":
		hash = crypto.SHA256
	default:
		return fmt.Errorf("%w: unsupported signature version %q", ErrBadSignature, msg.SignatureVersion)
	}
	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature encoding", ErrBadSignature)
	}
	if err := validateCertURL(msg.SigningCertURL); err != nil {
		return err
	}
	cert, err := v.cert(ctx, msg.SigningCertURL)
	if err != nil {
		return fmt.Errorf("%w: signing cert: %v", ErrBadSignature, err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signing cert is not RSA", ErrBadSignature)
	}
	digest := digestOf(hash, []byte(CanonicalSNSString(msg)))
	if err := rsa.VerifyPKCS1v15(pub, hash, digest, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

func (v *SNSVerifier) cert(ctx context.Context, certURL string) (*x509.Certificate, error) {
	v.mu.Lock()
	c, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok {
		return c, nil
	}
	c, err := v.fetch(ctx, certURL)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.certs[certURL] = c
	v.mu.Unlock()
	return c, nil
}

// CanonicalSNSString builds the string SNS signs for msg.
func CanonicalSNSString(msg *SNSMessage) string {
	type kv struct{ k, v string }
	var fields []kv
	if msg.Type == "Notification" {
		fields = []kv{{"Message", msg.Message}, {"MessageId", msg.MessageID}}
		if msg.Subject != "" {
			fields = append(fields, kv{"Subject", msg.Subject})
		}
		fields = append(fields, kv{"Timestamp", msg.Timestamp}, kv{"TopicArn", msg.TopicArn}, kv{"Type", msg.Type})
	} else {
		fields = []kv{
			{"Message", msg.Message}, {"MessageId", msg.MessageID}, {"SubscribeURL", msg.SubscribeURL},
			{"Timestamp", msg.Timestamp}, {"Token", msg.Token}, {"TopicArn", msg.TopicArn}, {"Type", msg.Type},
		}
	}
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.k)
		b.WriteByte('\n')
		b.WriteString(f.v)
		b.WriteByte('\n')
	}
	return b.String()
}

func digestOf(hash crypto.Hash, data []byte) []byte {
	if hash == crypto.SHA1 {
		sum := sha1.Sum(data)
		return sum[:]
	}
	sum := sha256.Sum256(data)
	return sum[:]
}

func validateCertURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || !snsHostRe.MatchString(u.Hostname()) || !strings.HasSuffix(u.Path, ".pem") {
		return fmt.Errorf("%w: untrusted SigningCertURL", ErrBadSignature)
	}
	return nil
}

func httpCertFetcher(client httpretry.HTTPDoer) CertFetcher {
	return func(ctx context.Context, certURL string) (*x509.Certificate, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return nil, err
		}
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no PEM block")
		}
		return x509.ParseCertificate(block.Bytes)
	}
}
