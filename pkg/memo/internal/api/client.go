// Package api talks to the fight record service. Every request is raced across all configured
// endpoints and the first success wins.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/open-xiv/memo-uploader/pkg/memo/record"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	HeaderAuthKey        = "X-Auth-Key"
	HeaderClientName     = "X-Client-Name"
	HeaderClientVersion  = "X-Client-Version"
	HeaderIdempotencyKey = "X-Idempotency-Key"

	DefaultAttemptTimeout = 2 * time.Second
	DefaultClientTimeout  = 5 * time.Second

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 4 << 20
)

var (
	ErrNotFound         = eris.New("resource not found")
	ErrUnexpectedStatus = eris.New("unexpected status code")
)

type Options struct {
	Endpoints      []string
	AuthKey        string
	ClientName     string
	ClientVersion  string
	AttemptTimeout time.Duration
	ClientTimeout  time.Duration
	// HTTPClient overrides the client built from ClientTimeout.
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Tracer     trace.Tracer
}

type Client struct {
	endpoints      []string
	authKey        string
	clientName     string
	clientVersion  string
	attemptTimeout time.Duration
	http           *http.Client
	log            zerolog.Logger
	tracer         trace.Tracer
}

// Result describes the attempt that won an upload race.
type Result struct {
	Endpoint string
	Status   int
	Latency  time.Duration
}

func New(opts Options) (*Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, eris.Wrap(ErrNoEndpoints, "")
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = DefaultClientTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.ClientTimeout}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("api")
	}

	endpoints := make([]string, 0, len(opts.Endpoints))
	for _, e := range opts.Endpoints {
		endpoints = append(endpoints, strings.TrimRight(e, "/"))
	}

	return &Client{
		endpoints:      endpoints,
		authKey:        opts.AuthKey,
		clientName:     opts.ClientName,
		clientVersion:  opts.ClientVersion,
		attemptTimeout: opts.AttemptTimeout,
		http:           opts.HTTPClient,
		log:            opts.Logger,
		tracer:         opts.Tracer,
	}, nil
}

func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// UploadFight serializes rec once and POSTs it to every endpoint's /fight route. Any 2xx answer
// wins the race. dispatchID is sent as the idempotency key on every attempt.
func (c *Client) UploadFight(ctx context.Context, dispatchID uuid.UUID, rec *record.FightRecord) (Result, error) {
	body, err := rec.Marshal()
	if err != nil {
		return Result{}, err
	}

	ctx, span := c.tracer.Start(ctx, "memo.upload_race", trace.WithAttributes(
		attribute.String("dispatch.id", dispatchID.String()),
		attribute.Int64("zone.id", int64(rec.ZoneID)),
		attribute.Int("endpoints", len(c.endpoints)),
	))
	defer span.End()

	start := time.Now()
	res, endpoint, err := Race(ctx, c.endpoints, func(ctx context.Context, endpoint string) (Result, error) {
		return c.postFight(ctx, endpoint, dispatchID, body)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	res.Latency = time.Since(start)
	span.SetAttributes(attribute.String("winner", endpoint), attribute.Int("status.code", res.Status))
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (c *Client) postFight(ctx context.Context, endpoint string, dispatchID uuid.UUID, body []byte) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "memo.upload_attempt",
		trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/fight", bytes.NewReader(body))
	if err != nil {
		return Result{}, eris.Wrap(err, "failed to build upload request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyKey, dispatchID.String())
	c.setIdentity(req)

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, eris.Wrapf(err, "failed to post fight to %q", endpoint)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	span.SetAttributes(attribute.Int("status.code", resp.StatusCode))
	if !success(resp.StatusCode) {
		span.SetStatus(codes.Error, resp.Status)
		return Result{}, eris.Wrapf(ErrUnexpectedStatus, "%s answered %d", endpoint, resp.StatusCode)
	}
	span.SetStatus(codes.Ok, "")
	return Result{Endpoint: endpoint, Status: resp.StatusCode}, nil
}

// FetchDutyConfig GETs the raw duty document for zoneID. When every endpoint answers 404 the
// error wraps ErrNotFound.
func (c *Client) FetchDutyConfig(ctx context.Context, zoneID uint32) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "memo.fetch_duty",
		trace.WithAttributes(attribute.Int64("zone.id", int64(zoneID))))
	defer span.End()

	body, _, err := Race(ctx, c.endpoints, func(ctx context.Context, endpoint string) ([]byte, error) {
		return c.getDuty(ctx, endpoint, zoneID)
	})
	if err != nil {
		if raceErr, ok := err.(*RaceError); ok && raceErr.All(ErrNotFound) { //nolint:errorlint // Race returns it unwrapped
			span.SetStatus(codes.Ok, "untracked")
			return nil, eris.Wrapf(ErrNotFound, "zone %d", zoneID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return body, nil
}

func (c *Client) getDuty(ctx context.Context, endpoint string, zoneID uint32) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/duty/%d", endpoint, zoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to build duty request")
	}
	req.Header.Set("Accept", "application/json")
	c.setIdentity(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to query %q", url)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrap(ErrNotFound, url)
	case !success(resp.StatusCode):
		return nil, eris.Wrapf(ErrUnexpectedStatus, "%s answered %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %q", url)
	}
	return body, nil
}

func (c *Client) setIdentity(req *http.Request) {
	if c.authKey != "" {
		req.Header.Set(HeaderAuthKey, c.authKey)
	}
	if c.clientName != "" {
		req.Header.Set(HeaderClientName, c.clientName)
	}
	if c.clientVersion != "" {
		req.Header.Set(HeaderClientVersion, c.clientVersion)
	}
}

func success(status int) bool {
	return status >= 200 && status < 300
}
