package replica

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/relstore/pkg/dlogger"
	"github.com/oneconcern/relstore/pkg/filestore"
	"github.com/oneconcern/relstore/pkg/filestore/status"
	"github.com/oneconcern/relstore/pkg/keyfs"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChangelogPath is the route serving change sets on a primary
const ChangelogPath = "/+changelog/"

// Puller fetches change sets from a primary and imports them in order
type Puller struct {
	primaryURL   string
	client       filestore.HTTPClient
	kfs          *keyfs.KeyFS
	importer     *Importer
	l            *zap.Logger
	pollInterval time.Duration
	maxBackOff   time.Duration
}

// Option for the puller
type Option func(*Puller)

// Logger for the puller
func Logger(l *zap.Logger) Option {
	return func(p *Puller) {
		if l != nil {
			p.l = l
		}
	}
}

// Client to query the primary
func Client(client filestore.HTTPClient) Option {
	return func(p *Puller) {
		if client != nil {
			p.client = client
		}
	}
}

// PollInterval between queries when the replica is up to date
func PollInterval(d time.Duration) Option {
	return func(p *Puller) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// MaxBackOff between retries after a failure
func MaxBackOff(d time.Duration) Option {
	return func(p *Puller) {
		if d > 0 {
			p.maxBackOff = d
		}
	}
}

// NewPuller of change sets from a primary
func NewPuller(primaryURL string, kfs *keyfs.KeyFS, importer *Importer, opts ...Option) *Puller {
	p := &Puller{
		primaryURL:   strings.TrimSuffix(primaryURL, "/"),
		client:       http.DefaultClient,
		kfs:          kfs,
		importer:     importer,
		l:            dlogger.MustGetLogger("info"),
		pollInterval: time.Second,
		maxBackOff:   30 * time.Second,
	}
	for _, apply := range opts {
		apply(p)
	}
	return p
}

// Run pulls change sets until the context is done. Failures are retried with an exponential back-off.
func (p *Puller) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = p.maxBackOff
	bo.MaxElapsedTime = 0
	b := backoff.WithContext(bo, ctx)

	p.l.Info("pulling changes", zap.String("primary", p.primaryURL), zap.Int64("serial", p.kfs.Serial()))
	for {
		imported, err := p.PullOnce(ctx)
		wait := p.pollInterval
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = b.NextBackOff()
			if wait == backoff.Stop {
				return ctx.Err()
			}
			p.l.Warn("pulling changes", zap.Error(err), zap.Duration("retry_in", wait))
		case imported:
			b.Reset()
			continue
		default:
			b.Reset()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// PullOnce imports the change set following the last committed serial, if the primary has one.
func (p *Puller) PullOnce(ctx context.Context) (bool, error) {
	serial := p.kfs.Serial() + 1
	cs, err := p.fetch(ctx, serial)
	if err != nil || cs == nil {
		return false, err
	}
	if err = p.importer.Import(ctx, cs); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Puller) fetch(ctx context.Context, serial int64) (*keyfs.ChangeSet, error) {
	u := p.primaryURL + ChangelogPath + strconv.FormatInt(serial, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, status.ErrFormat.Wrapf("%s: %v", u, err)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return nil, status.ErrGateway.Wrapf("%s: %v", u, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, status.ErrGateway.Wrapf("%s: received %d from primary", u, res.StatusCode)
	}

	cs := new(keyfs.ChangeSet)
	if err = json.NewDecoder(res.Body).Decode(cs); err != nil {
		return nil, status.ErrGateway.Wrapf("%s: decoding change set: %v", u, err)
	}
	if cs.Serial != serial {
		return nil, status.ErrGateway.Wrapf("%s: primary sent serial %d", u, cs.Serial)
	}
	return cs, nil
}
