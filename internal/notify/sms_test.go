package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSendChecksRecipientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "254711000000", r.Form.Get("to"))
		fmt.Fprint(w, `{"SMSMessageData":{"Recipients":[
			{"number":"254711000000","status":"Success","statusCode":101}
		]}}`)
	}))
	defer srv.Close()

	c := NewSMSClient(srv.URL, "key", "sandbox", zap.NewNop())
	st, err := c.Send(context.Background(), "254711000000", "your code is 123456")
	require.NoError(t, err)
	assert.True(t, st.Delivered())
}

func TestSendBulkPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"SMSMessageData":{"Recipients":[
			{"number":"254711000000","status":"Success","statusCode":101},
			{"number":"254722000000","status":"InsufficientBalance","statusCode":405}
		]}}`)
	}))
	defer srv.Close()

	c := NewSMSClient(srv.URL, "key", "sandbox", zap.NewNop())
	statuses, err := c.SendBulk(context.Background(), []string{"254711000000", "254722000000"}, "hi")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Delivered())
	assert.False(t, statuses[1].Delivered())
}

func TestSendProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewSMSClient(srv.URL, "bad-key", "sandbox", zap.NewNop())
	_, err := c.Send(context.Background(), "254711000000", "hi")
	assert.Error(t, err)
}
