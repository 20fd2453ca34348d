package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"morph/internal/api"
	"morph/internal/space"
)

// putSpaceConfig updates the budget over the HTTP API so the daemon persists
// it; the control socket only exposes read access to space state.
func putSpaceConfig(ctx *commandContext, total, reserved int64, enabled bool) (space.Budget, error) {
	base, err := ctx.apiBaseURL()
	if err != nil {
		return space.Budget{}, err
	}

	body, err := json.Marshal(api.SpaceConfigRequest{
		MaxTotalBytes: total,
		ReservedBytes: reserved,
		Enabled:       enabled,
	})
	if err != nil {
		return space.Budget{}, err
	}

	req, err := http.NewRequest(http.MethodPut, base+"/api/space/config", bytes.NewReader(body))
	if err != nil {
		return space.Budget{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return space.Budget{}, fmt.Errorf("update budget: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&failure); decodeErr == nil && failure.Error.Message != "" {
			return space.Budget{}, fmt.Errorf("update budget: %s", failure.Error.Message)
		}
		return space.Budget{}, fmt.Errorf("update budget: unexpected status %s", resp.Status)
	}

	var updated api.SpaceConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return space.Budget{}, fmt.Errorf("decode response: %w", err)
	}
	return updated.Budget, nil
}
