package directory

import (
	"image"
	"sort"
	"strconv"

	"github.com/dtroode/staffsync/internal/model"
)

// ImageDecoder turns a stored image string back into an image, returning
// nil when it cannot. The bytes are the stored JPEG, or nil for other formats.
type ImageDecoder interface {
	DecodeWithBytes(text string) (image.Image, []byte)
}

// Mapper converts raw store nodes into employee records. It never fails:
// missing or malformed fields fall back to their zero values.
type Mapper struct {
	decoder ImageDecoder
}

// NewMapper creates a Mapper decoding photos with decoder.
func NewMapper(decoder ImageDecoder) *Mapper {
	return &Mapper{decoder: decoder}
}

// Map converts the node stored under key.
func (m *Mapper) Map(key string, raw any) model.Employee {
	e := model.Employee{Key: key}

	node, ok := model.AsNode(raw)
	if !ok {
		e.ID = keyID(key)
		return e
	}

	if id, ok := model.AsInt64Lenient(node[model.FieldID]); ok {
		e.ID = &id
	} else {
		e.ID = keyID(key)
	}

	if name, ok := node[model.FieldName].(string); ok {
		e.FirstName, e.LastName = model.SplitName(name)
	}

	if text, ok := node[model.FieldImage].(string); ok && m.decoder != nil {
		e.Photo, e.PhotoJPEG = m.decoder.DecodeWithBytes(text)
	}

	if ts, ok := model.AsInt64Lenient(node[model.FieldLastSeenAt]); ok && ts > 0 {
		e.LastSeenAt = ts
	}

	return e
}

// MapSnapshot converts every child of the collection node and orders the
// result newest-first.
func (m *Mapper) MapSnapshot(node model.Node) model.Snapshot {
	out := make(model.Snapshot, 0, len(node))
	for key, raw := range node {
		out = append(out, m.Map(key, raw))
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders records by descending id. Records without an id
// go last, by descending key.
func SortNewestFirst(s model.Snapshot) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		switch {
		case a.ID != nil && b.ID != nil:
			if *a.ID != *b.ID {
				return *a.ID > *b.ID
			}
			return a.Key > b.Key
		case a.ID != nil:
			return true
		case b.ID != nil:
			return false
		default:
			return a.Key > b.Key
		}
	})
}

func keyID(key string) *int64 {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
