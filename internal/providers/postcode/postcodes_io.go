package postcode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://api.postcodes.io"

// PostcodesIO queries the postcodes.io reverse geocoding endpoint.
type PostcodesIO struct {
	BaseURL string
	Client  *http.Client
	Logger  *logrus.Logger
}

func NewPostcodesIO(baseURL string, l *logrus.Logger) *PostcodesIO {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &PostcodesIO{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
		Logger:  l,
	}
}

type reverseResponse struct {
	Status int `json:"status"`
	Result []struct {
		Postcode string `json:"postcode"`
	} `json:"result"`
}

func (p *PostcodesIO) Lookup(ctx context.Context, lat, lon float64) (string, bool) {
	q := url.Values{}
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/postcodes?"+q.Encode(), nil)
	if err != nil {
		p.warn(err, lat, lon)
		return "", false
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		p.warn(err, lat, lon)
		return "", false
	}
	defer resp.Body.Close()

	const maxBytes = 1 << 20
	var body reverseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBytes)).Decode(&body); err != nil {
		p.warn(err, lat, lon)
		return "", false
	}

	if body.Status != http.StatusOK || len(body.Result) == 0 || body.Result[0].Postcode == "" {
		return "", false
	}
	return body.Result[0].Postcode, true
}

func (p *PostcodesIO) warn(err error, lat, lon float64) {
	if p.Logger == nil {
		return
	}
	p.Logger.WithError(err).WithFields(logrus.Fields{
		"lat": lat,
		"lon": lon,
	}).Warn("postcode lookup failed")
}
