package fleet

import (
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// TagSet is an instance's tags keyed by tag name
type TagSet map[string]string

// NewTagSet flattens EC2 tags, skipping entries with a nil key or value
func NewTagSet(tags []ec2types.Tag) TagSet {
	set := make(TagSet, len(tags))
	for _, tag := range tags {
		if tag.Key != nil && tag.Value != nil {
			set[*tag.Key] = *tag.Value
		}
	}
	return set
}

// Get returns the tag value and whether the tag is present
func (t TagSet) Get(key string) (string, bool) {
	v, ok := t[key]
	return v, ok
}

// Value returns the tag value or "" when absent
func (t TagSet) Value(key string) string {
	return t[key]
}
