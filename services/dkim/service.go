package dkim

import (
	"context"
	"crypto"
	cryptorand "crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

// Headers included in every signature. Each name is oversigned once beyond
// its occurrences so a relay cannot append another instance unnoticed.
var signedHeaderNames = []string{
	"From", "To", "Cc", "Reply-To", "Subject", "Date",
	"Message-ID", "MIME-Version", "Content-Type",
}

type dkimService struct {
	cfg  *config.DkimConfig
	log  logger.Logger
	keys repository.DkimKeyRepository
}

func NewDkimService(cfg *config.DkimConfig, log logger.Logger, keys repository.DkimKeyRepository) interfaces.DkimService {
	return &dkimService{
		cfg:  cfg,
		log:  log,
		keys: keys,
	}
}

func (s *dkimService) Sign(ctx context.Context, domain, selector string, message []byte) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DkimService.Sign")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("domain", domain)

	if selector == "" {
		selector = s.cfg.DefaultSelector
	}
	span.SetTag("selector", selector)

	key, err := s.keys.GetActiveKey(ctx, domain, selector)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	privateKey, err := parsePrivateKey(key.PrivateKey)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	hdrs, bodyOffset, err := splitMessage(message)
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "parsing message"))
		return "", err
	}
	nfrom := 0
	for _, h := range hdrs {
		if h.lkey == "from" {
			nfrom++
		}
	}
	if nfrom != 1 {
		err := errors.Errorf("message has %d from headers, need exactly 1", nfrom)
		tracing.TraceErr(span, err)
		return "", err
	}

	headerRelaxed, bodyRelaxed := parseCanonicalization(key.Canonicalization)

	bh, err := bodyHash(sha256.New(), bodyRelaxed, message[bodyOffset:])
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	sig := &signature{
		algorithm:        "rsa-sha256",
		domain:           domain,
		selector:         selector,
		identity:         "@" + domain,
		canonicalization: key.Canonicalization,
		signedHeaders:    selectSignedHeaders(hdrs),
		signTime:         utils.Now().Unix(),
		bodyHash:         bh,
	}
	if key.ExpiresAt != nil {
		sig.expireTime = key.ExpiresAt.Unix()
	}

	dh, err := dataHash(sha256.New(), headerRelaxed, sig.signedHeaders, hdrs, sig.render())
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	sig.signatureData, err = privateKey.Sign(cryptorand.Reader, dh, crypto.SHA256)
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "signing data"))
		return "", err
	}

	return string(sig.render()), nil
}

func (s *dkimService) GenerateKey(ctx context.Context, tenant, domain, selector string) (*models.DkimKey, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DkimService.GenerateKey")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)
	span.SetTag("domain", domain)

	if selector == "" {
		selector = s.cfg.DefaultSelector
	}

	existing, err := s.keys.GetActiveKey(ctx, domain, selector)
	if err != nil && !errors.Is(err, er.ErrNoActiveKey) {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if existing != nil {
		err := errors.Errorf("active key already exists for %s with selector %s", domain, selector)
		tracing.TraceErr(span, err)
		return nil, err
	}

	key, err := s.newKeyModel(tenant, domain, selector)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	created, err := s.keys.Create(ctx, key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	s.log.Infof("Generated DKIM key %s for domain %s selector %s", created.ID, domain, selector)
	return created, nil
}

func (s *dkimService) Rotate(ctx context.Context, tenant, domain, selector string) (*models.DkimKey, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DkimService.Rotate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)
	span.SetTag("domain", domain)

	if selector == "" {
		selector = s.cfg.DefaultSelector
	}

	key, err := s.newKeyModel(tenant, domain, selector)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	rotated, err := s.keys.Rotate(ctx, key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	s.log.Infof("Rotated DKIM key for domain %s selector %s, new key %s", domain, selector, rotated.ID)
	return rotated, nil
}

func (s *dkimService) DNSRecord(ctx context.Context, domain, selector string) (string, string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DkimService.DNSRecord")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("domain", domain)

	if selector == "" {
		selector = s.cfg.DefaultSelector
	}

	key, err := s.keys.GetActiveKey(ctx, domain, selector)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", "", err
	}

	value := "v=DKIM1; h=sha256; k=rsa; p=" + key.PublicKey
	return key.DNSRecordName(), value, nil
}

func (s *dkimService) ListKeys(ctx context.Context, domain string) ([]models.DkimKey, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DkimService.ListKeys")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("domain", domain)

	keys, err := s.keys.ListByDomain(ctx, domain)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return keys, nil
}

func (s *dkimService) newKeyModel(tenant, domain, selector string) (*models.DkimKey, error) {
	privateKey, err := rsa.GenerateKey(cryptorand.Reader, s.cfg.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "generating rsa key")
	}

	privatePem := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicDer, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "encoding public key")
	}

	active := true
	key := &models.DkimKey{
		Tenant:           tenant,
		Domain:           domain,
		Selector:         selector,
		PrivateKey:       string(privatePem),
		PublicKey:        base64.StdEncoding.EncodeToString(publicDer),
		Algorithm:        "rsa-sha256",
		Canonicalization: "relaxed/relaxed",
		KeySize:          s.cfg.KeySize,
		IsActive:         &active,
	}
	if s.cfg.KeyLifetimeDays > 0 {
		expires := utils.Now().AddDate(0, 0, s.cfg.KeyLifetimeDays)
		key.ExpiresAt = &expires
	}
	return key, nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, er.ErrKeyMalformed
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, er.ErrKeyMalformed
	}
	return privateKey, nil
}

func parseCanonicalization(c string) (headerRelaxed, bodyRelaxed bool) {
	t := strings.SplitN(strings.ToLower(c), "/", 2)
	headerRelaxed = t[0] == "relaxed"
	if len(t) == 2 {
		bodyRelaxed = t[1] == "relaxed"
	}
	return
}

// selectSignedHeaders builds the h= list: each candidate header once per
// occurrence in the message, plus one extra entry to seal it.
func selectSignedHeaders(hdrs []messageHeader) []string {
	counts := map[string]int{}
	for _, h := range hdrs {
		counts[h.lkey]++
	}

	var signed []string
	for _, name := range signedHeaderNames {
		n := counts[strings.ToLower(name)] + 1
		for ; n > 0; n-- {
			signed = append(signed, name)
		}
	}
	return signed
}
