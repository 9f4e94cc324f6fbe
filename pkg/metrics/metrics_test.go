package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/uw-labs/substrate"
)

func TestCounters(t *testing.T) {
	assert := require.New(t)

	c := NewCounters(prometheus.NewRegistry())
	c.MessageConsumed("dogs")
	c.MessageConsumed("dogs")
	c.MessagePrinted("dogs")
	c.MessageSkipped("dogs", ReasonNoPayload)
	c.MessageAcked("dogs")
	c.Error(KindDelivery)

	assert.Equal(2.0, testutil.ToFloat64(c.Consumed.WithLabelValues("dogs")))
	assert.Equal(1.0, testutil.ToFloat64(c.Printed.WithLabelValues("dogs")))
	assert.Equal(1.0, testutil.ToFloat64(c.Skipped.WithLabelValues("dogs", ReasonNoPayload)))
	assert.Equal(1.0, testutil.ToFloat64(c.Acked.WithLabelValues("dogs")))
	assert.Equal(1.0, testutil.ToFloat64(c.Errors.WithLabelValues(KindDelivery)))
}

func TestCounters_Nil(t *testing.T) {
	var c *Counters
	require.NotPanics(t, func() {
		c.MessageConsumed("dogs")
		c.MessagePrinted("dogs")
		c.MessageSkipped("dogs", ReasonInvalidUTF8)
		c.MessageAcked("dogs")
		c.Error(KindCommit)
	})
}

func TestRouter_Metrics(t *testing.T) {
	assert := require.New(t)

	reg := prometheus.NewRegistry()
	c := NewCounters(reg)
	c.MessagePrinted("cats")

	srv := httptest.NewServer(NewRouter(reg, func() (*substrate.Status, error) {
		return &substrate.Status{Working: true}, nil
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	assert.NoError(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	assert.NoError(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.True(strings.Contains(string(body), `kconsume_messages_printed_total{topic="cats"} 1`))
}

func TestRouter_Healthz(t *testing.T) {
	assert := require.New(t)

	var working atomic.Bool
	working.Store(true)
	srv := httptest.NewServer(NewRouter(prometheus.NewRegistry(), func() (*substrate.Status, error) {
		if !working.Load() {
			return nil, errors.New("client closed")
		}
		return &substrate.Status{Working: true}, nil
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	assert.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	working.Store(false)
	resp, err = http.Get(srv.URL + "/healthz")
	assert.NoError(err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.NoError(err)
	assert.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(string(body), "client closed")
}
