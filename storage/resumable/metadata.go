package resumable

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MetadataField is a single Upload-Metadata entry. An empty Value means the
// value is absent and the field is left out of the header.
type MetadataField struct {
	Key   string
	Value string
}

// Metadata is an ordered list of Upload-Metadata entries.
type Metadata []MetadataField

// Add appends a field and returns the extended list.
func (m Metadata) Add(key, value string) Metadata {
	return append(m, MetadataField{Key: key, Value: value})
}

// Get returns the value of the first field with the given key.
func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, f.Value != ""
		}
	}
	return "", false
}

// Encode renders the fields as "key base64(value)" pairs joined by commas, in
// order. Fields with an empty value are omitted.
func (m Metadata) Encode() string {
	pairs := make([]string, 0, len(m))
	for _, f := range m {
		if f.Value == "" {
			continue
		}
		pairs = append(pairs, f.Key+" "+base64.StdEncoding.EncodeToString([]byte(f.Value)))
	}
	return strings.Join(pairs, ",")
}

// DecodeMetadata parses an Upload-Metadata header value. Keys without a value
// decode to an empty string.
func DecodeMetadata(header string) (map[string]string, error) {
	result := map[string]string{}
	if strings.TrimSpace(header) == "" {
		return result, nil
	}

	for _, pair := range strings.Split(header, ",") {
		parts := strings.Fields(pair)
		switch len(parts) {
		case 1:
			result[parts[0]] = ""
		case 2:
			value, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				return nil, fmt.Errorf("decode value of %s: %w", parts[0], err)
			}
			result[parts[0]] = string(value)
		default:
			return nil, fmt.Errorf("malformed metadata pair: %q", pair)
		}
	}
	return result, nil
}

func uploadMetadata(params UploadParams) Metadata {
	upsert := "false"
	if params.Upsert {
		upsert = "true"
	}

	return Metadata{}.
		Add("bucketName", params.Bucket).
		Add("objectName", params.Object).
		Add("contentType", params.ContentType).
		Add("upsert", upsert)
}
