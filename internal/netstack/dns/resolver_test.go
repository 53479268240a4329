// SPDX-License-Identifier: GPL-3.0-or-later

package dns

import (
	"context"
	"testing"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExchanger struct {
	resp *dnscodec.Response
	err  error
}

func (s *stubExchanger) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	return s.resp, s.err
}

func TestResolveABuildsTypeAQuery(t *testing.T) {
	var seen *dnscodec.Query
	exch := exchangeRecorder{next: &stubExchanger{err: errStub{}}, onQuery: func(q *dnscodec.Query) { seen = q }}
	r := NewResolver(&exch)
	_, err := r.ResolveA(context.Background(), "example.com")
	require.Error(t, err)
	require.NotNil(t, seen)
}

type exchangeRecorder struct {
	next    Exchanger
	onQuery func(*dnscodec.Query)
}

func (e *exchangeRecorder) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	if e.onQuery != nil {
		e.onQuery(query)
	}
	return e.next.Exchange(ctx, query)
}

type errStub struct{}

func (errStub) Error() string { return "stub exchange failure" }

func TestResolveAUsesTypeAConstant(t *testing.T) {
	// dnscodec.NewQuery's second argument must be the A record type; this
	// guards against accidentally swapping in another rr type when this
	// package is extended for AAAA/other lookups.
	assert.Equal(t, uint16(1), dns.TypeA)
}
