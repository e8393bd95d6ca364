package storage

import (
	"fmt"
	"strings"
)

// Address is a durable-store location of the form scheme://bucket/key. It is
// stored verbatim on episodes.
type Address struct {
	Scheme string
	Bucket string
	Key    string
}

func (a Address) String() string {
	return a.Scheme + "://" + a.Bucket + "/" + a.Key
}

// ParseAddress splits a scheme://bucket/key string.
func ParseAddress(s string) (Address, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return Address{}, fmt.Errorf("storage address %q: missing scheme", s)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Address{}, fmt.Errorf("storage address %q: want scheme://bucket/key", s)
	}
	return Address{Scheme: scheme, Bucket: bucket, Key: key}, nil
}
