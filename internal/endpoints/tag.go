package endpoints

import (
	"fmt"
	"strings"
)

// Tag names a cache domain. Queries provide tags, mutations invalidate them.
type Tag uint8

const (
	// TagCategory covers the category list.
	TagCategory Tag = iota + 1
	// TagAdminData covers every dashboard analytics view as one coarse domain.
	TagAdminData
)

var tagNames = map[Tag]string{
	TagCategory:  "Category",
	TagAdminData: "AdminData",
}

// AllTags lists every declared tag in declaration order.
func AllTags() []Tag {
	return []Tag{TagCategory, TagAdminData}
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Valid reports whether t is a declared tag.
func (t Tag) Valid() bool {
	_, ok := tagNames[t]
	return ok
}

// ParseTag resolves a wire name such as "Category". Matching is case-insensitive.
func ParseTag(name string) (Tag, error) {
	for tag, candidate := range tagNames {
		if strings.EqualFold(candidate, strings.TrimSpace(name)) {
			return tag, nil
		}
	}
	return 0, fmt.Errorf("endpoints: unknown tag %q", name)
}

// TagNames renders tags as their wire names.
func TagNames(tags []Tag) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag.String())
	}
	return out
}
