// Package statsd wraps the datadog client behind a few engine-specific helpers. Until Init is called
// every helper writes to a no-op client.
package statsd

import (
	"strconv"
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

const namespace = "memo."

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{} //nolint:gochecknoglobals // process-wide sink

func Client() ddstatsd.ClientInterface {
	return client
}

// Init replaces the no-op client with one that sends to address.
func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{ddstatsd.WithNamespace(namespace)}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "failed to create statsd client")
	}
	client = newClient
	return nil
}

// Close flushes and closes the client, leaving a no-op client in its place.
func Close() error {
	old := client
	client = &ddstatsd.NoOpClient{}
	if err := old.Close(); err != nil {
		return eris.Wrap(err, "failed to close statsd client")
	}
	return nil
}

func EmitEvent(kind string) {
	count("events.processed", "kind:"+kind)
}

func EmitMechanic(name string) {
	count("mechanics.emitted", "mechanic:"+name)
}

func EmitPhaseTransition(from, to string) {
	count("phase.transitions", "from:"+from, "to:"+to)
}

func EmitRecord(zoneID uint32, clear bool) {
	count("records.produced", "zone:"+strconv.FormatUint(uint64(zoneID), 10), "clear:"+strconv.FormatBool(clear))
}

func EmitUpload(start time.Time, ok bool) {
	tags := []string{"ok:" + strconv.FormatBool(ok)}
	if err := Client().Timing("upload.race", time.Since(start), tags, 1); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to emit upload timing")
	}
	count("upload.result", tags...)
}

func count(name string, tags ...string) {
	if err := Client().Incr(name, tags, 1); err != nil {
		log.Logger.Warn().Err(err).Str("metric", name).Msg("failed to emit metric")
	}
}
