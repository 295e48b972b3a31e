package repository

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gofrs/uuid"
)

func TestConsistencyTokenRoundTrip(t *testing.T) {
	c := qt.New(t)

	watermark := time.Unix(1700000000, 123456789)
	token := EncodeConsistencyToken(watermark)
	c.Assert(token, qt.Not(qt.Equals), "")

	decoded, err := DecodeConsistencyToken(token)
	c.Assert(err, qt.IsNil)
	c.Assert(decoded.UnixNano(), qt.Equals, watermark.UnixNano())
}

func TestConsistencyTokenDecodeFailures(t *testing.T) {
	c := qt.New(t)

	for _, bad := range []string{"not-base64!!", "bm9wZQ==", ""} {
		_, err := DecodeConsistencyToken(bad)
		c.Assert(err, qt.Equals, ErrConsistencyTokenDecode, qt.Commentf("input %q", bad))
	}
}

func TestPageTokenRoundTrip(t *testing.T) {
	c := qt.New(t)

	recordUUID, err := uuid.NewV4()
	c.Assert(err, qt.IsNil)
	createTime := time.Unix(1700000000, 42)

	token := EncodePageToken(createTime, recordUUID)
	decodedTime, decodedUUID, err := DecodePageToken(token)
	c.Assert(err, qt.IsNil)
	c.Assert(decodedTime.UnixNano(), qt.Equals, createTime.UnixNano())
	c.Assert(decodedUUID, qt.Equals, recordUUID)

	_, _, err = DecodePageToken("garbage")
	c.Assert(err, qt.Equals, ErrPageTokenDecode)
}

func TestPrimaryReadsContext(t *testing.T) {
	c := qt.New(t)

	ctx := context.Background()
	c.Assert(primaryReadsRequested(ctx), qt.IsFalse)
	c.Assert(primaryReadsRequested(WithPrimaryReads(ctx)), qt.IsTrue)
}
