// Package present derives presentation values from raw workflow records:
// status buckets, elapsed-time strings and ordered communication groups.
package present

import (
	"strings"
)

// Bucket is the semantic class of a status token.
type Bucket uint8

const (
	BucketUnknown Bucket = iota
	BucketSuccess
	BucketInfo
	BucketWarning
	BucketError
)

// String returns the lowercase bucket name.
func (b Bucket) String() string {
	switch b {
	case BucketSuccess:
		return "success"
	case BucketInfo:
		return "info"
	case BucketWarning:
		return "warning"
	case BucketError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the bucket by name.
func (b Bucket) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes a bucket name. Unrecognised names become BucketUnknown.
func (b *Bucket) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*b = BucketSuccess
	case "info":
		*b = BucketInfo
	case "warning":
		*b = BucketWarning
	case "error":
		*b = BucketError
	default:
		*b = BucketUnknown
	}
	return nil
}

// Classification is the bucket of a status token plus its display affordances.
type Classification struct {
	Bucket     Bucket `json:"bucket"`
	Icon       string `json:"icon"`
	ColorClass string `json:"color_class"`
}

var affordances = map[Bucket]Classification{
	BucketSuccess: {Bucket: BucketSuccess, Icon: "check-circle", ColorClass: "text-green-600"},
	BucketInfo:    {Bucket: BucketInfo, Icon: "loader", ColorClass: "text-blue-600"},
	BucketWarning: {Bucket: BucketWarning, Icon: "clock", ColorClass: "text-yellow-600"},
	BucketError:   {Bucket: BucketError, Icon: "x-circle", ColorClass: "text-red-600"},
	BucketUnknown: {Bucket: BucketUnknown, Icon: "help-circle", ColorClass: "text-gray-500"},
}

// tokens maps recognised lowercase status tokens to buckets.
var tokens = map[string]Bucket{
	"completed":  BucketSuccess,
	"success":    BucketSuccess,
	"processing": BucketInfo,
	"info":       BucketInfo,
	"pending":    BucketWarning,
	"failed":     BucketError,
	"error":      BucketError,
}

// Classify maps a free-form status token to its classification.
// Matching is case-insensitive; unrecognised tokens yield BucketUnknown.
func Classify(token string) Classification {
	bucket, ok := tokens[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		bucket = BucketUnknown
	}
	return affordances[bucket]
}

// ClassifyBucket is Classify(token).Bucket.
func ClassifyBucket(token string) Bucket {
	return Classify(token).Bucket
}
