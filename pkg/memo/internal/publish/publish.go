// Package publish fans finished fight records out over NATS, next to the HTTP upload.
package publish

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/open-xiv/memo-uploader/pkg/memo/record"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	DefaultSubject      = "memo.fight"
	defaultFlushTimeout = 5 * time.Second
)

type Options struct {
	URL string
	// Subject prefix; records go to <Subject>.<zoneID>.
	Subject string
	// Name identifies the connection on the server.
	Name   string
	Logger zerolog.Logger
}

type Publisher struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

func New(opts Options) (*Publisher, error) {
	if opts.URL == "" {
		return nil, eris.New("nats url is required")
	}
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	if opts.Name == "" {
		opts.Name = "memo-uploader"
	}

	p := &Publisher{subject: opts.Subject, log: opts.Logger}
	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(p.handleDisconnect),
		nats.ReconnectHandler(p.handleReconnect),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to NATS server")
	}
	p.conn = conn

	p.log.Info().Str("url", conn.ConnectedUrl()).Str("subject", p.subject).Msg("connected to NATS server")
	return p, nil
}

// Subject is the subject records of zoneID are published to.
func (p *Publisher) Subject(zoneID uint32) string {
	return p.subject + "." + strconv.FormatUint(uint64(zoneID), 10)
}

// Publish sends rec and waits until the server has acknowledged the flush or ctx is done.
// dispatchID becomes the Nats-Msg-Id header so stream consumers can drop duplicates.
func (p *Publisher) Publish(ctx context.Context, dispatchID uuid.UUID, rec *record.FightRecord) error {
	data, err := rec.Marshal()
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.Subject(rec.ZoneID))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, dispatchID.String())
	msg.Header.Set("Content-Type", "application/json")

	if err := p.conn.PublishMsg(msg); err != nil {
		return eris.Wrapf(err, "failed to publish to %s", msg.Subject)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return eris.Wrap(err, "failed to flush NATS connection")
	}
	return nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.log.Info().Msg("NATS connection closed")
	}
}

func (p *Publisher) handleDisconnect(nc *nats.Conn, err error) {
	if err != nil {
		p.log.Warn().Err(err).Str("nats_url", nc.ConnectedUrl()).Msg("disconnected from NATS")
	}
}

func (p *Publisher) handleReconnect(nc *nats.Conn) {
	p.log.Info().Str("nats_url", nc.ConnectedUrl()).Uint64("reconnects", nc.Reconnects).Msg("reconnected to NATS")
}
