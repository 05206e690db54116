package vsac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://vsac.nlm.nih.gov/vsac/svs/"

// Fetcher retrieves one value set expansion.
type Fetcher interface {
	Fetch(ctx context.Context, oid, version string, creds Credentials) (*ValueSet, error)
}

// Client is a VSAC Sharing Value Sets (SVS) client.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/xml")

	return &Client{
		http:   rc,
		logger: logger.With().Str("component", "vsac_client").Logger(),
	}
}

// Fetch retrieves oid at version ("" for latest). All failures are *Error.
func (c *Client) Fetch(ctx context.Context, oid, version string, creds Credentials) (*ValueSet, error) {
	if creds.Empty() {
		return nil, &Error{Code: CodeAuthRequired, Message: "VSAC username and password are required"}
	}
	creds = creds.Trimmed()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(creds.Username, creds.Password).
		SetQueryParam("id", oid).
		SetQueryParam("version", version).
		Get("RetrieveMultipleValueSets")
	if err != nil {
		c.logger.Error().Err(err).Str("oid", oid).Msg("value set request failed")
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &Error{Code: CodeNetworkError, Message: err.Error()}
	}

	if resp.StatusCode() != http.StatusOK {
		verr := statusError(resp.StatusCode(), oid)
		c.logger.Warn().Str("oid", oid).Int("status", resp.StatusCode()).Str("code", verr.Code).Msg("value set request rejected")
		return nil, verr
	}

	doc := ParseDocument(resp.Body())
	if doc.Shape == ShapeUnparseable {
		c.logger.Error().Err(doc.Err).Str("oid", oid).Int("bytes", len(doc.Raw)).Msg("value set response unparseable")
		return nil, &Error{Code: CodeParseError, Message: fmt.Sprintf("parse value set %s: %v", oid, doc.Err)}
	}

	vs := doc.ValueSet
	if vs.OID == "" {
		vs.OID = oid
	}
	c.logger.Debug().
		Str("oid", oid).
		Str("shape", doc.Shape.String()).
		Int("concepts", len(vs.Concepts)).
		Dur("latency", time.Since(start)).
		Msg("value set fetched")
	return vs, nil
}
