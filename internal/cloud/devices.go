package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sinricsync/sinric-bridge/internal/infrastructure/config"
)

// Inventory fetches the account's device list from the portal.
type Inventory struct {
	baseURL  string
	sessions SessionProvider
	client   *http.Client
	logger   Logger
}

// NewInventory creates an inventory client.
func NewInventory(cfg config.CloudConfig, sessions SessionProvider) *Inventory {
	return &Inventory{
		baseURL:  strings.TrimSuffix(cfg.APIBaseURL, "/"),
		sessions: sessions,
		client:   &http.Client{Timeout: cfg.GetRequestTimeout()},
		logger:   noopLogger{},
	}
}

// SetLogger attaches a logger for discovery events.
func (i *Inventory) SetLogger(logger Logger) {
	if logger != nil {
		i.logger = logger
	}
}

// ListDevices returns every device registered on the account, including
// its last-reported attribute values. The bridge uses this at startup to
// seed the registry and restore state.
func (i *Inventory) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	session, err := i.sessions.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/devices", nil)
	if err != nil {
		return nil, fmt.Errorf("cloud: listing devices: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.Token)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud: listing devices: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("cloud: reading device list: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: "devices", Status: resp.StatusCode, Body: truncate(body, 256)}
	}

	var parsed struct {
		Devices []DeviceInfo `json:"devices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("cloud: decoding device list: %w", err)
	}

	i.logger.Debug("device inventory fetched", "count", len(parsed.Devices))
	return parsed.Devices, nil
}
