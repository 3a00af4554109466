package dkim

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleBodyHash(t *testing.T, body string) []byte {
	t.Helper()
	h, err := bodyHash(sha256.New(), false, []byte(body))
	require.NoError(t, err)
	return h
}

func relaxedBodyHash(t *testing.T, body string) []byte {
	t.Helper()
	h, err := bodyHash(sha256.New(), true, []byte(body))
	require.NoError(t, err)
	return h
}

func TestBodyHash_SimpleReducesTrailingEmptyLines(t *testing.T) {
	base := simpleBodyHash(t, "hello\r\n")

	assert.Equal(t, base, simpleBodyHash(t, "hello\r\n\r\n"))
	assert.Equal(t, base, simpleBodyHash(t, "hello\r\n\r\n\r\n\r\n"))
	assert.NotEqual(t, base, simpleBodyHash(t, "hello\r\nworld\r\n"))
}

func TestBodyHash_SimpleEmptyBodyIsSingleCrlf(t *testing.T) {
	h := sha256.New()
	h.Write([]byte("\r\n"))
	expected := h.Sum(nil)

	assert.Equal(t, expected, simpleBodyHash(t, ""))
	assert.Equal(t, expected, simpleBodyHash(t, "\r\n\r\n"))
}

func TestBodyHash_RelaxedCollapsesWhitespace(t *testing.T) {
	base := relaxedBodyHash(t, "a b\r\nc\r\n")

	assert.Equal(t, base, relaxedBodyHash(t, "a \t b\r\nc\r\n"))
	assert.Equal(t, base, relaxedBodyHash(t, "a b \t\r\nc\r\n"))
	assert.NotEqual(t, base, relaxedBodyHash(t, "ab\r\nc\r\n"))
}

func TestBodyHash_RelaxedDropsTrailingEmptyLines(t *testing.T) {
	base := relaxedBodyHash(t, "hello\r\n")

	assert.Equal(t, base, relaxedBodyHash(t, "hello\r\n\r\n\r\n"))
	assert.Equal(t, base, relaxedBodyHash(t, "hello"))
}

func TestBodyHash_RelaxedEmptyBody(t *testing.T) {
	// An empty body hashes to the digest of the empty string under relaxed
	// canonicalization.
	expected := sha256.Sum256(nil)
	assert.Equal(t, expected[:], relaxedBodyHash(t, ""))
}

func TestSplitMessage_ParsesHeadersAndBodyOffset(t *testing.T) {
	msg := []byte("From: a@example.com\r\nSubject: hi\r\n there\r\n\r\nbody text\r\n")

	hdrs, offset, err := splitMessage(msg)
	require.NoError(t, err)
	require.Len(t, hdrs, 2)

	assert.Equal(t, "From", hdrs[0].key)
	assert.Equal(t, "from", hdrs[0].lkey)
	assert.Equal(t, "Subject", hdrs[1].key)
	assert.Equal(t, []byte("Subject: hi\r\n there\r\n"), hdrs[1].raw)
	assert.Equal(t, "body text\r\n", string(msg[offset:]))
}

func TestSplitMessage_RejectsMalformedHeaders(t *testing.T) {
	_, _, err := splitMessage([]byte(" leading continuation\r\n\r\n"))
	assert.Error(t, err)

	_, _, err = splitMessage([]byte("no colon here\r\n\r\n"))
	assert.Error(t, err)
}

func TestRelaxedCanonicalHeader(t *testing.T) {
	ch, err := relaxedCanonicalHeader("Subject \t: Hello \t World \r\n")
	require.NoError(t, err)
	assert.Equal(t, "subject:Hello World", ch)

	ch, err = relaxedCanonicalHeader("X-Folded: one\r\n\ttwo\r\n")
	require.NoError(t, err)
	assert.Equal(t, "x-folded:one two", ch)

	_, err = relaxedCanonicalHeader("missing colon")
	assert.Error(t, err)
}

func TestDataHash_ConsumesOccurrencesBottomUp(t *testing.T) {
	msg := []byte("Received: first\r\nReceived: second\r\nFrom: a@example.com\r\n\r\nbody\r\n")
	hdrs, _, err := splitMessage(msg)
	require.NoError(t, err)

	sig := []byte("DKIM-Signature: v=1; b=\r\n")

	// Signing "Received" once must hash the bottom occurrence, so a message
	// with the top one removed yields the same digest.
	full, err := dataHash(sha256.New(), true, []string{"Received", "From"}, hdrs, sig)
	require.NoError(t, err)

	trimmed := []byte("Received: second\r\nFrom: a@example.com\r\n\r\nbody\r\n")
	trimmedHdrs, _, err := splitMessage(trimmed)
	require.NoError(t, err)

	same, err := dataHash(sha256.New(), true, []string{"Received", "From"}, trimmedHdrs, sig)
	require.NoError(t, err)
	assert.Equal(t, full, same)
}
