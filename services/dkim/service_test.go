package dkim

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/sendstack/config"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
)

type fakeDkimKeyRepo struct {
	active  *models.DkimKey
	created []*models.DkimKey
}

func (f *fakeDkimKeyRepo) Create(ctx context.Context, key *models.DkimKey) (*models.DkimKey, error) {
	if key.ID == "" {
		key.ID = "dkim_test"
	}
	f.created = append(f.created, key)
	f.active = key
	return key, nil
}

func (f *fakeDkimKeyRepo) GetActiveKey(ctx context.Context, domain, selector string) (*models.DkimKey, error) {
	if f.active == nil || f.active.Domain != domain || f.active.Selector != selector {
		return nil, er.ErrNoActiveKey
	}
	return f.active, nil
}

func (f *fakeDkimKeyRepo) ListByDomain(ctx context.Context, domain string) ([]models.DkimKey, error) {
	var keys []models.DkimKey
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].Domain == domain {
			keys = append(keys, *f.created[i])
		}
	}
	return keys, nil
}

func (f *fakeDkimKeyRepo) Rotate(ctx context.Context, newKey *models.DkimKey) (*models.DkimKey, error) {
	if f.active != nil {
		f.active.IsActive = nil
	}
	return f.Create(ctx, newKey)
}

func (f *fakeDkimKeyRepo) Deactivate(ctx context.Context, id string) error {
	if f.active != nil && f.active.ID == id {
		f.active = nil
	}
	return nil
}

func (f *fakeDkimKeyRepo) ListExpired(ctx context.Context, now time.Time) ([]models.DkimKey, error) {
	return nil, nil
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func newTestService(repo *fakeDkimKeyRepo) *dkimService {
	return &dkimService{
		cfg:  &config.DkimConfig{DefaultSelector: "sendstack", KeySize: 1024, KeyLifetimeDays: 180},
		log:  getLogger(),
		keys: repo,
	}
}

const testMessage = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: dinner\r\n" +
	"Date: Mon, 01 Sep 2025 12:00:00 +0000\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"\r\n" +
	"Hi Bob,\r\n" +
	"\r\n" +
	"See you at eight.\r\n"

func TestSign_ProducesVerifiableSignature(t *testing.T) {
	repo := &fakeDkimKeyRepo{}
	s := newTestService(repo)
	ctx := context.Background()

	_, err := s.GenerateKey(ctx, "acme", "example.com", "")
	require.NoError(t, err)

	header, err := s.Sign(ctx, "example.com", "", []byte(testMessage))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(header, "DKIM-Signature:"))
	require.True(t, strings.HasSuffix(header, "\r\n"))

	fields := parseSignatureFields(t, header)
	assert.Equal(t, "1", fields["v"])
	assert.Equal(t, "example.com", fields["d"])
	assert.Equal(t, "sendstack", fields["s"])
	assert.Equal(t, "@example.com", fields["i"])
	assert.Equal(t, "rsa-sha256", fields["a"])
	assert.Equal(t, "relaxed/relaxed", fields["c"])
	assert.NotEmpty(t, fields["t"])
	assert.NotEmpty(t, fields["x"])
	assert.NotEmpty(t, fields["bh"])
	assert.NotEmpty(t, fields["b"])

	// h= oversigns every candidate once beyond its occurrences
	h := strings.Split(fields["h"], ":")
	assert.Equal(t, 2, count(h, "From"))
	assert.Equal(t, 2, count(h, "Subject"))
	assert.Equal(t, 1, count(h, "Cc"))

	// recompute the data hash with an empty b= and verify the signature
	// against the stored public key
	hdrs, bodyOffset, err := splitMessage([]byte(testMessage))
	require.NoError(t, err)

	bh, err := bodyHash(sha256.New(), true, []byte(testMessage)[bodyOffset:])
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(bh), fields["bh"])

	emptied := emptyBField(header)
	dh, err := dataHash(sha256.New(), true, h, hdrs, []byte(emptied))
	require.NoError(t, err)

	sigData, err := base64.StdEncoding.DecodeString(fields["b"])
	require.NoError(t, err)

	publicDer, err := base64.StdEncoding.DecodeString(repo.active.PublicKey)
	require.NoError(t, err)
	publicKey, err := x509.ParsePKIXPublicKey(publicDer)
	require.NoError(t, err)

	err = rsa.VerifyPKCS1v15(publicKey.(*rsa.PublicKey), crypto.SHA256, dh, sigData)
	assert.NoError(t, err)
}

func TestSign_NoActiveKey(t *testing.T) {
	s := newTestService(&fakeDkimKeyRepo{})

	_, err := s.Sign(context.Background(), "example.com", "", []byte(testMessage))
	assert.ErrorIs(t, err, er.ErrNoActiveKey)
}

func TestSign_RejectsMultipleFromHeaders(t *testing.T) {
	repo := &fakeDkimKeyRepo{}
	s := newTestService(repo)
	ctx := context.Background()

	_, err := s.GenerateKey(ctx, "acme", "example.com", "")
	require.NoError(t, err)

	msg := "From: a@example.com\r\nFrom: b@example.com\r\n\r\nbody\r\n"
	_, err = s.Sign(ctx, "example.com", "", []byte(msg))
	assert.Error(t, err)
}

func TestGenerateKey_FailsWhenActiveKeyExists(t *testing.T) {
	repo := &fakeDkimKeyRepo{}
	s := newTestService(repo)
	ctx := context.Background()

	_, err := s.GenerateKey(ctx, "acme", "example.com", "")
	require.NoError(t, err)

	_, err = s.GenerateKey(ctx, "acme", "example.com", "")
	assert.Error(t, err)
}

func TestGenerateKey_KeyMaterial(t *testing.T) {
	repo := &fakeDkimKeyRepo{}
	s := newTestService(repo)

	key, err := s.GenerateKey(context.Background(), "acme", "example.com", "mail")
	require.NoError(t, err)

	assert.Equal(t, "mail", key.Selector)
	assert.Equal(t, "mail._domainkey.example.com", key.DNSRecordName())
	assert.True(t, key.Active())
	require.NotNil(t, key.ExpiresAt)

	block, _ := pem.Decode([]byte(key.PrivateKey))
	require.NotNil(t, block)
	assert.Equal(t, "RSA PRIVATE KEY", block.Type)
	_, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	assert.NoError(t, err)
}

func TestRotate_ReplacesActiveKey(t *testing.T) {
	repo := &fakeDkimKeyRepo{}
	s := newTestService(repo)
	ctx := context.Background()

	first, err := s.GenerateKey(ctx, "acme", "example.com", "")
	require.NoError(t, err)

	second, err := s.Rotate(ctx, "acme", "example.com", "")
	require.NoError(t, err)

	assert.NotEqual(t, first.PrivateKey, second.PrivateKey)
	assert.False(t, first.Active())
	assert.True(t, second.Active())
}

func TestListKeys_IncludesRetiredKeys(t *testing.T) {
	repo := &fakeDkimKeyRepo{}
	s := newTestService(repo)
	ctx := context.Background()

	_, err := s.GenerateKey(ctx, "acme", "example.com", "")
	require.NoError(t, err)
	second, err := s.Rotate(ctx, "acme", "example.com", "")
	require.NoError(t, err)

	keys, err := s.ListKeys(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, second.PrivateKey, keys[0].PrivateKey)
	assert.True(t, keys[0].Active())
	assert.False(t, keys[1].Active())

	keys, err = s.ListKeys(ctx, "other.com")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDNSRecord_RendersActiveKey(t *testing.T) {
	repo := &fakeDkimKeyRepo{}
	s := newTestService(repo)
	ctx := context.Background()

	key, err := s.GenerateKey(ctx, "acme", "example.com", "")
	require.NoError(t, err)

	name, value, err := s.DNSRecord(ctx, "example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "sendstack._domainkey.example.com", name)
	assert.Equal(t, "v=DKIM1; h=sha256; k=rsa; p="+key.PublicKey, value)
}

func TestParseCanonicalization(t *testing.T) {
	headerRelaxed, bodyRelaxed := parseCanonicalization("relaxed/relaxed")
	assert.True(t, headerRelaxed)
	assert.True(t, bodyRelaxed)

	headerRelaxed, bodyRelaxed = parseCanonicalization("relaxed/simple")
	assert.True(t, headerRelaxed)
	assert.False(t, bodyRelaxed)

	headerRelaxed, bodyRelaxed = parseCanonicalization("simple/simple")
	assert.False(t, headerRelaxed)
	assert.False(t, bodyRelaxed)
}

// parseSignatureFields unfolds the header and splits tag=value pairs.
func parseSignatureFields(t *testing.T, header string) map[string]string {
	t.Helper()
	unfolded := strings.ReplaceAll(header, "\r\n\t", " ")
	unfolded = strings.TrimSuffix(unfolded, "\r\n")
	value := strings.TrimPrefix(unfolded, "DKIM-Signature:")

	fields := map[string]string{}
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		require.Len(t, kv, 2)
		fields[kv[0]] = strings.ReplaceAll(kv[1], " ", "")
	}
	return fields
}

// emptyBField strips the signature data so the rendering matches what the
// signer hashed.
func emptyBField(header string) string {
	idx := strings.LastIndex(header, "b=")
	return header[:idx+2] + "\r\n"
}

func count(list []string, want string) int {
	n := 0
	for _, v := range list {
		if v == want {
			n++
		}
	}
	return n
}
