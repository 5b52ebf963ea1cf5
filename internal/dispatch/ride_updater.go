package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPRideUpdater patches payment fields onto the ride service.
type HTTPRideUpdater struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRideUpdater(baseURL string) *HTTPRideUpdater {
	return &HTTPRideUpdater{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (u *HTTPRideUpdater) UpdateRideStatus(ctx context.Context, rideID string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/internal/rides/%s/payment", u.baseURL, rideID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ride service returned %d", resp.StatusCode)
	}
	return nil
}

// NoopRideUpdater is used when no ride service is configured.
type NoopRideUpdater struct{}

func (NoopRideUpdater) UpdateRideStatus(context.Context, string, map[string]any) error { return nil }
