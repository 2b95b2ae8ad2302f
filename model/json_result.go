// Package model defines the JSON codec for ToolResultPart.Content, a nested
// tagged union (TextResultBlock/JSONResultBlock/ImageResultBlock) that the
// generic Part encoder in json.go cannot express with a plain struct tag, so
// ToolResultPart gets its own Marshal/Unmarshal pair here.
package model

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MarshalJSON encodes ToolResultPart, including the Kind discriminator used
// by decodeMessagePart, and expands each Content block into its own
// "kind"-tagged object so decodeResultBlock can recover the concrete type.
func (r ToolResultPart) MarshalJSON() ([]byte, error) {
	blocks := make([]any, 0, len(r.Content))
	for i, b := range r.Content {
		enc, err := encodeResultBlock(b)
		if err != nil {
			return nil, fmt.Errorf("encode Content[%d]: %w", i, err)
		}
		blocks = append(blocks, enc)
	}
	return json.Marshal(struct {
		Kind      string       `json:"Kind"` //nolint:tagliatelle // Kind discriminator is intentionally upper-cased for compatibility.
		ToolUseID string       `json:"ToolUseID"`
		Content   []any        `json:"Content"`
		Status    ResultStatus `json:"Status"`
	}{
		Kind:      "tool_result",
		ToolUseID: r.ToolUseID,
		Content:   blocks,
		Status:    r.Status,
	})
}

// UnmarshalJSON decodes a ToolResultPart previously encoded by MarshalJSON,
// materializing each Content entry into its concrete ResultBlock type.
func (r *ToolResultPart) UnmarshalJSON(data []byte) error {
	var tmp struct {
		ToolUseID string            `json:"ToolUseID"`
		Content   []json.RawMessage `json:"Content"`
		Status    ResultStatus      `json:"Status"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	r.ToolUseID = tmp.ToolUseID
	r.Status = tmp.Status
	if len(tmp.Content) == 0 {
		r.Content = nil
		return nil
	}
	r.Content = make([]ResultBlock, 0, len(tmp.Content))
	for i, raw := range tmp.Content {
		b, err := decodeResultBlock(raw)
		if err != nil {
			return fmt.Errorf("decode Content[%d]: %w", i, err)
		}
		r.Content = append(r.Content, b)
	}
	return nil
}

func encodeResultBlock(b ResultBlock) (any, error) {
	switch v := b.(type) {
	case TextResultBlock:
		return struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		}{Kind: "text", Text: v.Text}, nil
	case JSONResultBlock:
		return struct {
			Kind  string `json:"kind"`
			Value any    `json:"value"`
		}{Kind: "json", Value: v.Value}, nil
	case ImageResultBlock:
		return struct {
			Kind string `json:"kind"`
			Mime string `json:"mime"`
			Data string `json:"data"`
		}{Kind: "image", Mime: v.Mime, Data: base64.StdEncoding.EncodeToString(v.Bytes)}, nil
	default:
		return nil, fmt.Errorf("unknown result block type %T", b)
	}
}

func decodeResultBlock(raw json.RawMessage) (ResultBlock, error) {
	var obj struct {
		Kind  string          `json:"kind"`
		Text  string          `json:"text"`
		Value json.RawMessage `json:"value"`
		Mime  string          `json:"mime"`
		Data  string          `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode result block: %w", err)
	}
	switch obj.Kind {
	case "text":
		return TextResultBlock{Text: obj.Text}, nil
	case "json":
		var v any
		if len(obj.Value) > 0 {
			if err := json.Unmarshal(obj.Value, &v); err != nil {
				return nil, fmt.Errorf("decode result block value: %w", err)
			}
		}
		return JSONResultBlock{Value: v}, nil
	case "image":
		data, err := base64.StdEncoding.DecodeString(obj.Data)
		if err != nil {
			return nil, fmt.Errorf("decode result block image data: %w", err)
		}
		return ImageResultBlock{Mime: obj.Mime, Bytes: data}, nil
	case "":
		return nil, errors.New("result block missing kind")
	default:
		return nil, fmt.Errorf("unknown result block kind %q", obj.Kind)
	}
}
