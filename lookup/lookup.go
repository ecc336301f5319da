// Package lookup queries the patient record service for a first/last name
// pair and normalizes every outcome into a displayable Result.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"evichat/log"
)

const (
	DefaultTimeout = 10 * time.Second

	FetchFailed = "Failed to fetch patient information"
)

type HistoryEntry struct {
	Condition     string `json:"condition"`
	DiagnosisDate string `json:"diagnosis_date"`
	Treatment     string `json:"treatment"`
}

type Patient struct {
	Name           string         `json:"name"`
	DateOfBirth    string         `json:"date_of_birth"`
	MedicalHistory []HistoryEntry `json:"medical_history"`
}

// Result holds exactly one of a matched patient, a not-found message or an
// error message.
type Result struct {
	Patient  *Patient
	NotFound string
	Error    string
	Metrics  *NetworkMetrics
}

func (r Result) Found() bool { return r.Patient != nil }

func (r Result) Failed() bool { return r.Error != "" }

// String renders the result payload as two-space indented JSON.
func (r Result) String() string {
	var payload any
	switch {
	case r.Patient != nil:
		payload = r.Patient
	case r.Error != "":
		payload = struct {
			Error string `json:"error"`
		}{r.Error}
	default:
		payload = struct {
			Message string `json:"message"`
		}{r.NotFound}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return `{"error": "` + FetchFailed + `"}`
	}
	return strings.TrimRight(buf.String(), "\n")
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *TracedClient
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = newTracedClientFrom(hc) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: baseURL, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewTracedClient(c.timeout)
	}
	return c
}

// wire shape of the record service response; history fields may be null
type response struct {
	Name           *string `json:"name"`
	DateOfBirth    *string `json:"date_of_birth"`
	MedicalHistory []struct {
		Condition     *string `json:"condition"`
		DiagnosisDate *string `json:"diagnosis_date"`
		Treatment     *string `json:"treatment"`
	} `json:"medical_history"`
	Message *string `json:"message"`
	Error   *string `json:"error"`
}

// Lookup never returns an error: every failure is folded into Result.Error.
func (c *Client) Lookup(ctx context.Context, firstName, lastName string) Result {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		log.Warn("patient lookup skipped: empty name")
		return Result{Error: FetchFailed}
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		log.Errorf("patient lookup: bad base url: %v", err)
		return Result{Error: FetchFailed}
	}
	q := u.Query()
	q.Set("firstName", firstName)
	q.Set("lastName", lastName)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		log.Errorf("patient lookup: %v", err)
		return Result{Error: FetchFailed}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Errorf("patient lookup: %v", err)
		return Result{Error: FetchFailed}
	}

	res := decodeResponse(resp.StatusCode, resp.Body)
	res.Metrics = resp.Metrics
	logMetrics(resp, res)
	return res
}

func decodeResponse(status int, body []byte) Result {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		log.Errorf("patient lookup: status %d, undecodable body: %v", status, err)
		return Result{Error: FetchFailed}
	}

	if r.Error != nil && *r.Error != "" {
		return Result{Error: *r.Error}
	}
	if status < 200 || status > 299 {
		return Result{Error: FetchFailed}
	}
	if r.Name != nil {
		p := &Patient{
			Name:           *r.Name,
			DateOfBirth:    deref(r.DateOfBirth),
			MedicalHistory: []HistoryEntry{},
		}
		for _, h := range r.MedicalHistory {
			if h.Condition == nil || *h.Condition == "" {
				continue
			}
			p.MedicalHistory = append(p.MedicalHistory, HistoryEntry{
				Condition:     *h.Condition,
				DiagnosisDate: deref(h.DiagnosisDate),
				Treatment:     deref(h.Treatment),
			})
		}
		return Result{Patient: p}
	}
	if r.Message != nil {
		return Result{NotFound: *r.Message}
	}
	return Result{Error: FetchFailed}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func logMetrics(resp *TracedResponse, res Result) {
	outcome := "found"
	switch {
	case res.Failed():
		outcome = "error"
	case !res.Found():
		outcome = "not_found"
	}
	m := resp.Metrics
	log.LookupMetrics(log.LookupMetricsData{
		Status:     resp.StatusCode,
		Outcome:    outcome,
		DNSMs:      float64(m.DNS.Microseconds()) / 1000,
		TCPMs:      float64(m.TCP.Microseconds()) / 1000,
		TLSMs:      float64(m.TLS.Microseconds()) / 1000,
		TTFBMs:     float64(m.TTFB.Microseconds()) / 1000,
		TotalMs:    float64(m.Total.Microseconds()) / 1000,
		ConnReused: m.ConnReused,
	})
}
