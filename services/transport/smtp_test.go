package transport

import (
	"net/textproto"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/customeros/sendstack/interfaces"
)

func TestClassify_PermanentReject(t *testing.T) {
	err := &textproto.Error{Code: 550, Msg: "5.1.1 User unknown"}
	outcome := classify(err)

	assert.Equal(t, interfaces.TransportPermanentReject, outcome.Result)
	assert.Equal(t, 550, outcome.SMTPCode)
	assert.Equal(t, "5.1.1 User unknown", outcome.SMTPResponse)
}

func TestClassify_TransientReject(t *testing.T) {
	err := &textproto.Error{Code: 451, Msg: "4.7.1 Greylisted, try again later"}
	outcome := classify(err)

	assert.Equal(t, interfaces.TransportTransientReject, outcome.Result)
	assert.Equal(t, 451, outcome.SMTPCode)
}

func TestClassify_WrappedProtocolError(t *testing.T) {
	err := errors.Wrap(&textproto.Error{Code: 552, Msg: "mailbox full"}, "rcpt to")
	outcome := classify(err)

	assert.Equal(t, interfaces.TransportPermanentReject, outcome.Result)
	assert.Equal(t, 552, outcome.SMTPCode)
}

func TestClassify_NonProtocolErrorIsConnectionError(t *testing.T) {
	outcome := classify(errors.New("dial tcp: connection refused"))

	assert.Equal(t, interfaces.TransportConnectionError, outcome.Result)
	assert.Equal(t, 0, outcome.SMTPCode)
	assert.Error(t, outcome.Err)
}
