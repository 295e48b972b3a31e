package repository

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

// Tokens handed to callers are opaque base64 strings. Two kinds exist: page
// tokens (cursor into a result set, create_time + uid) and consistency
// tokens (a write watermark that read paths use to guarantee
// read-your-writes).

const consistencyTokenPrefix = "zk1:"

// EncodeConsistencyToken wraps a write watermark into an opaque token.
func EncodeConsistencyToken(watermark time.Time) string {
	raw := fmt.Sprintf("%s%d", consistencyTokenPrefix, watermark.UnixNano())
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeConsistencyToken recovers the write watermark from a token.
func DecodeConsistencyToken(token string) (time.Time, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, ErrConsistencyTokenDecode
	}
	s, ok := strings.CutPrefix(string(raw), consistencyTokenPrefix)
	if !ok {
		return time.Time{}, ErrConsistencyTokenDecode
	}
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, ErrConsistencyTokenDecode
	}
	return time.Unix(0, nanos), nil
}

// EncodePageToken builds a keyset-pagination cursor from the last row of a
// page.
func EncodePageToken(createTime time.Time, uid uuid.UUID) string {
	raw := fmt.Sprintf("%d,%s", createTime.UnixNano(), uid.String())
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodePageToken recovers the cursor fields from a page token.
func DecodePageToken(token string) (time.Time, uuid.UUID, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrPageTokenDecode
	}
	tsStr, uidStr, ok := strings.Cut(string(raw), ",")
	if !ok {
		return time.Time{}, uuid.Nil, ErrPageTokenDecode
	}
	nanos, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrPageTokenDecode
	}
	uid, err := uuid.FromString(uidStr)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrPageTokenDecode
	}
	return time.Unix(0, nanos), uid, nil
}

type primaryReadsKey struct{}

// WithPrimaryReads marks the context so that read queries are routed to the
// primary database instead of a replica. Set when a caller presents a
// consistency token that the replicas may not have caught up to.
func WithPrimaryReads(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryReadsKey{}, true)
}

func primaryReadsRequested(ctx context.Context) bool {
	v, _ := ctx.Value(primaryReadsKey{}).(bool)
	return v
}
