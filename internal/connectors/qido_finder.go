package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/otcheredev/manifest-connector/internal/models"
	"github.com/otcheredev/manifest-connector/pkg/dimse"
)

// qidoFinder answers the C-FIND contract over QIDO-RS. A flat QIDO search is
// relational by nature, so the Relational flag needs no translation.
type qidoFinder struct {
	client   *http.Client
	baseURL  string
	username string
	password string
}

func newQIDOFinder(conn *models.Connector, timeout time.Duration) *qidoFinder {
	return &qidoFinder{
		client:   &http.Client{Timeout: timeout},
		baseURL:  conn.Web.QIDOURL,
		username: conn.Web.Username,
		password: conn.Web.Password,
	}
}

func (f *qidoFinder) Find(ctx context.Context, req dimse.FindRequest) ([]dimse.Attributes, error) {
	var resource string
	switch req.Level {
	case "STUDY":
		resource = "/studies"
	case "SERIES":
		resource = "/series"
	case "IMAGE":
		resource = "/instances"
	default:
		return nil, fmt.Errorf("unsupported query level: %s", req.Level)
	}

	params := url.Values{}
	for tag, value := range req.Match {
		params.Set(tag.Keyword(), value)
	}
	for _, tag := range req.Return {
		params.Add("includefield", tag.Keyword())
	}

	queryURL := f.baseURL + resource + "?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/dicom+json")
	if f.username != "" {
		httpReq.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	// QIDO returns 204 when nothing matched.
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("archive returned status %d: %s", resp.StatusCode, string(body))
	}

	var raw []map[string]qidoAttribute
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]dimse.Attributes, 0, len(raw))
	for _, entry := range raw {
		attrs := make(dimse.Attributes, len(entry))
		for key, attr := range entry {
			tag, err := parseQIDOTag(key)
			if err != nil {
				continue
			}
			if value := attr.first(); value != "" {
				attrs[tag] = value
			}
		}
		results = append(results, attrs)
	}
	return results, nil
}

// qidoAttribute is one DICOM JSON attribute: a VR and a value array whose
// element shape depends on the VR.
type qidoAttribute struct {
	VR    string            `json:"vr"`
	Value []json.RawMessage `json:"Value"`
}

func (a qidoAttribute) first() string {
	if len(a.Value) == 0 {
		return ""
	}
	raw := a.Value[0]

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	// Person names arrive as {"Alphabetic": "..."}.
	var pn struct {
		Alphabetic string `json:"Alphabetic"`
	}
	if err := json.Unmarshal(raw, &pn); err == nil {
		return pn.Alphabetic
	}
	return ""
}

func parseQIDOTag(key string) (dimse.Tag, error) {
	if len(key) != 8 {
		return 0, fmt.Errorf("not a tag: %s", key)
	}
	n, err := strconv.ParseUint(key, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("not a tag: %s", key)
	}
	return dimse.Tag(n), nil
}
