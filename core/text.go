package core

import (
	"bytes"
	"encoding/json"
)

// MaxTextLen is the capacity of every bounded text field.
const MaxTextLen = 32

// BoundedText is fixed-capacity text stored as a length byte plus a padded
// buffer so that records keep a constant encoded size. The padding is never
// exposed: use String or Bytes.
type BoundedText struct {
	Len uint8
	Buf [MaxTextLen]byte
}

// NewBoundedText copies s into a BoundedText. ok is false when s does not fit.
func NewBoundedText(s string) (t BoundedText, ok bool) {
	if len(s) > MaxTextLen {
		return t, false
	}
	t.Len = uint8(len(s))
	copy(t.Buf[:], s)
	return t, true
}

// Bytes returns the stored bytes, sliced to the stored length.
func (t BoundedText) Bytes() []byte {
	n := int(t.Len)
	if n > MaxTextLen {
		n = MaxTextLen
	}
	return bytes.Clone(t.Buf[:n])
}

func (t BoundedText) String() string {
	return string(t.Bytes())
}

func (t BoundedText) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *BoundedText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	bt, ok := NewBoundedText(s)
	if !ok {
		return NewError(CodeNameTooLong, "text exceeds max length")
	}
	*t = bt
	return nil
}
