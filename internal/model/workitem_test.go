package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSourceKey(t *testing.T) {
	tests := []struct {
		name string
		item WorkItem
		want string
	}{
		{
			name: "explicit key wins",
			item: WorkItem{SourceKey: "travis-county", SourceURL: "https://tax.co.travis.tx.us/bill/1"},
			want: "travis-county",
		},
		{
			name: "host fallback",
			item: WorkItem{SourceURL: "https://actweb.acttax.com/act_webdev/harris/index.jsp"},
			want: "actweb.acttax.com",
		},
		{
			name: "www stripped",
			item: WorkItem{SourceURL: "https://www.hctax.net/Property/123"},
			want: "hctax.net",
		},
		{
			name: "uppercase host lowered",
			item: WorkItem{SourceURL: "https://TaxOffice.Example.GOV/search"},
			want: "taxoffice.example.gov",
		},
		{
			name: "port dropped",
			item: WorkItem{SourceURL: "http://localhost:8081/bill"},
			want: "localhost",
		},
		{
			name: "unparseable url",
			item: WorkItem{SourceURL: "://not-a-url"},
			want: "unknown",
		},
		{
			name: "empty url",
			item: WorkItem{},
			want: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.DeriveSourceKey())
		})
	}
}

func TestExtractionResultTerminal(t *testing.T) {
	for _, st := range []ResultStatus{StatusSuccess, StatusPartial, StatusFailed, StatusSkipped} {
		assert.True(t, ExtractionResult{Status: st}.Terminal(), string(st))
	}
	assert.False(t, ExtractionResult{}.Terminal())
	assert.False(t, ExtractionResult{Status: "pending"}.Terminal())
}
