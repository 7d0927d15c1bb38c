package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/badge"
	"semaphore/badging/internal/model"
	"semaphore/badging/internal/nfc"
)

type fakeScanner struct {
	requests []badge.ScanRequest
}

func (f *fakeScanner) Scan(_ context.Context, req badge.ScanRequest) (model.BadgeEvent, error) {
	f.requests = append(f.requests, req)
	if req.Code == "BAD" {
		return model.BadgeEvent{}, apperr.Missing(badge.CodeUserNotFound)
	}
	return model.BadgeEvent{Action: model.ActionEntree, At: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)}, nil
}

func TestRunKioskScansEachTag(t *testing.T) {
	fake := &fakeScanner{}
	reader := nfc.NewScanner(nfc.NewLineReader(strings.NewReader("04A1\n\nBAD\n")))
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runKiosk(ctx, fake, reader, "10.0.0.5", &out))

	require.Len(t, fake.requests, 2)
	assert.Equal(t, "04A1", fake.requests[0].Code)
	assert.Equal(t, "10.0.0.5", fake.requests[0].Address)
	assert.Equal(t, "kiosk", fake.requests[0].Source)
	assert.Contains(t, out.String(), "04A1\tentrée")
	assert.Contains(t, out.String(), "BAD\trefused\tuser_not_found")
}
