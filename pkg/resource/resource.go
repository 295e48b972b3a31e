// Package resource converts between the wire representation of object and
// user references ("document:doc1", "team:eng#member") and their structured
// forms. All parsing of externally supplied references happens here, at the
// facade boundary.
package resource

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/beegy-labs/authorization-service/pkg/schema"
)

var errMalformedObject = status.New(codes.InvalidArgument, "object reference must be of the form type:id").Err()
var errMalformedUser = status.New(codes.InvalidArgument, "user reference must be of the form type:id or type:id#relation").Err()

// ParseObject parses "type:id" into an ObjectRef.
func ParseObject(s string) (schema.ObjectRef, error) {
	objType, id, ok := strings.Cut(s, ":")
	if !ok || objType == "" || id == "" || strings.ContainsAny(id, ":#") {
		return schema.ObjectRef{}, errMalformedObject
	}
	return schema.ObjectRef{Type: objType, ID: id}, nil
}

// ParseUser parses "type:id" or "type:id#relation" into a UserRef.
func ParseUser(s string) (schema.UserRef, error) {
	ref, relation, hasRelation := strings.Cut(s, "#")
	userType, id, ok := strings.Cut(ref, ":")
	if !ok || userType == "" || id == "" || strings.ContainsAny(id, ":") {
		return schema.UserRef{}, errMalformedUser
	}
	if hasRelation && (relation == "" || strings.Contains(relation, "#")) {
		return schema.UserRef{}, errMalformedUser
	}
	return schema.UserRef{Type: userType, ID: id, Relation: relation}, nil
}

// FormatObject is the inverse of ParseObject.
func FormatObject(o schema.ObjectRef) string {
	return o.String()
}

// FormatUser is the inverse of ParseUser.
func FormatUser(u schema.UserRef) string {
	return u.String()
}
