package software3

import (
	"encoding/json"
	"fmt"
)

// decodeProblems records block fields that were present in the JSON but did
// not have the expected type, so validation can report them.
type decodeProblems struct {
	idNotString   bool
	textMissing   bool
	textNotString bool
}

// UnmarshalJSON decodes a block leniently: a wrongly typed id, text or
// language does not fail decoding but is remembered for the validator.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("block must be an object: %w", err)
	}

	*b = Block{}

	if v, ok := raw["id"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &b.ID); err != nil {
			b.ID = string(v)
			b.decode.idNotString = true
		}
	}

	if v, ok := raw["text"]; !ok || isNull(v) {
		b.decode.textMissing = true
	} else if err := json.Unmarshal(v, &b.Text); err != nil {
		b.decode.textNotString = true
	}

	if v, ok := raw["code"]; ok {
		if err := b.Code.UnmarshalJSON(v); err != nil {
			return fmt.Errorf("block code: %w", err)
		}
	}

	if v, ok := raw["language"]; ok && !isNull(v) {
		var lang string
		if err := json.Unmarshal(v, &lang); err != nil {
			lang = string(v)
		}
		b.Language = Language(lang)
	}

	if v, ok := raw["metadata"]; ok && !isNull(v) {
		b.Metadata = &BlockMetadata{}
		if err := json.Unmarshal(v, b.Metadata); err != nil {
			return fmt.Errorf("block metadata: %w", err)
		}
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return string(v) == "null"
}
