package dispatch

import (
	"encoding/json"
	"fmt"
)

func fieldsFromRequest(r RequestDoc) (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode request: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("dispatch: decode request fields: %w", err)
	}
	return fields, nil
}

func requestFromFields(fields map[string]any) (RequestDoc, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return RequestDoc{}, fmt.Errorf("dispatch: encode request fields: %w", err)
	}
	var r RequestDoc
	if err := json.Unmarshal(raw, &r); err != nil {
		return RequestDoc{}, fmt.Errorf("dispatch: decode request: %w", err)
	}
	return r, nil
}

func fieldsFromResponse(r ResponseDoc) (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode response: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("dispatch: decode response fields: %w", err)
	}
	return fields, nil
}

func responseFromFields(fields map[string]any) (ResponseDoc, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return ResponseDoc{}, fmt.Errorf("dispatch: encode response fields: %w", err)
	}
	var r ResponseDoc
	if err := json.Unmarshal(raw, &r); err != nil {
		return ResponseDoc{}, fmt.Errorf("dispatch: decode response: %w", err)
	}
	return r, nil
}
