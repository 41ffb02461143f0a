package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	IPAPIName = "ip-api"
	IPWhoName = "ipwho"

	maxResponseBytes = 64 << 10
)

// IPAPI queries ip-api.com. The free tier is HTTP only.
type IPAPI struct {
	BaseURL string
	Client  *http.Client
}

func NewIPAPI(client *http.Client) *IPAPI {
	return &IPAPI{BaseURL: "http://ip-api.com", Client: client}
}

func (p *IPAPI) Name() string { return IPAPIName }

type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city"`
	RegionName  string `json:"regionName"`
}

func (p *IPAPI) Lookup(ctx context.Context, ip string) (Result, error) {
	u := strings.TrimRight(p.BaseURL, "/") + "/json/" + url.PathEscape(ip) +
		"?fields=status,message,country,countryCode,city,regionName"
	var body ipAPIResponse
	if err := getJSON(ctx, p.Client, u, &body); err != nil {
		return Result{}, err
	}
	if body.Status != "success" {
		return Result{}, fmt.Errorf("%w: %s: %s", ErrLookupFailed, IPAPIName, body.Message)
	}
	return Result{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		City:        body.City,
		Region:      body.RegionName,
	}, nil
}

// IPWho queries ipwho.is, which is backed by a different database than
// ip-api.com.
type IPWho struct {
	BaseURL string
	Client  *http.Client
}

func NewIPWho(client *http.Client) *IPWho {
	return &IPWho{BaseURL: "https://ipwho.is", Client: client}
}

func (p *IPWho) Name() string { return IPWhoName }

type ipWhoResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	City        string `json:"city"`
	Region      string `json:"region"`
}

func (p *IPWho) Lookup(ctx context.Context, ip string) (Result, error) {
	u := strings.TrimRight(p.BaseURL, "/") + "/" + url.PathEscape(ip)
	var body ipWhoResponse
	if err := getJSON(ctx, p.Client, u, &body); err != nil {
		return Result{}, err
	}
	if !body.Success {
		return Result{}, fmt.Errorf("%w: %s: %s", ErrLookupFailed, IPWhoName, body.Message)
	}
	return Result{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		City:        body.City,
		Region:      body.Region,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, u string, v any) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sitepulse/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
