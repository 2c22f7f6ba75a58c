// Package operators maintains the directory of peer operators learned
// from the Hub. The Hub's operator list is slow and loosely formatted,
// so the directory caches a normalized copy and collapses concurrent
// refreshes into a single Hub call.
package operators

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"carpeta/internal/hub"
)

const (
	cacheKey = "operators:directory"
	cacheTTL = 5 * time.Minute
)

// ErrUnknownOperator is returned by Lookup for ids absent from the
// directory.
var ErrUnknownOperator = fmt.Errorf("unknown operator")

// HubLister is the slice of the Hub client the directory needs.
type HubLister interface {
	GetOperators(ctx context.Context) ([]hub.Operator, hub.Result, error)
}

// Directory serves the normalized operator list.
type Directory struct {
	hub    HubLister
	cache  *redis.Client
	group  singleflight.Group
	logger *slog.Logger

	environment   string
	allowInsecure bool
}

// NewDirectory constructs a Directory. cache may be nil, in which case
// every List after the singleflight window hits the Hub.
func NewDirectory(lister HubLister, cache *redis.Client, environment string, allowInsecure bool, logger *slog.Logger) *Directory {
	return &Directory{
		hub:           lister,
		cache:         cache,
		logger:        logger,
		environment:   environment,
		allowInsecure: allowInsecure,
	}
}

// List returns operators that can receive transfers. Entries without
// an id, a name or a transfer URL are dropped; in production, plain
// http transfer URLs are dropped too.
func (d *Directory) List(ctx context.Context) ([]hub.Operator, error) {
	if ops, ok := d.fromCache(ctx); ok {
		return ops, nil
	}

	v, err, _ := d.group.Do(cacheKey, func() (any, error) {
		// A concurrent caller may have populated the cache while we
		// waited for the flight slot.
		if ops, ok := d.fromCache(ctx); ok {
			return ops, nil
		}

		raw, _, err := d.hub.GetOperators(ctx)
		if err != nil {
			return nil, err
		}
		valid := d.filter(raw)
		d.logger.Info("operator directory refreshed",
			"fetched", len(raw), "valid", len(valid))
		d.store(ctx, valid)
		return valid, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]hub.Operator), nil
}

// Lookup resolves one operator by id.
func (d *Directory) Lookup(ctx context.Context, operatorID string) (hub.Operator, error) {
	ops, err := d.List(ctx)
	if err != nil {
		return hub.Operator{}, err
	}
	for _, op := range ops {
		if op.ID == operatorID {
			return op, nil
		}
	}
	return hub.Operator{}, fmt.Errorf("%w: %s", ErrUnknownOperator, operatorID)
}

func (d *Directory) filter(raw []hub.Operator) []hub.Operator {
	valid := make([]hub.Operator, 0, len(raw))
	for _, op := range raw {
		switch {
		case op.ID == "" || op.Name == "":
			d.logger.Warn("dropping operator with missing identity", "id", op.ID)
		case op.TransferAPIURL == "":
			d.logger.Debug("dropping operator without transfer URL", "id", op.ID)
		case strings.HasPrefix(op.TransferAPIURL, "http://") && d.environment == "production" && !d.allowInsecure:
			d.logger.Warn("dropping operator with insecure transfer URL",
				"id", op.ID, "url", op.TransferAPIURL)
		default:
			valid = append(valid, op)
		}
	}
	return valid
}

func (d *Directory) fromCache(ctx context.Context) ([]hub.Operator, bool) {
	if d.cache == nil {
		return nil, false
	}
	raw, err := d.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var ops []hub.Operator
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, false
	}
	return ops, true
}

func (d *Directory) store(ctx context.Context, ops []hub.Operator) {
	if d.cache == nil {
		return
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, cacheKey, raw, cacheTTL).Err(); err != nil {
		d.logger.Warn("operator directory cache write failed", "error", err)
	}
}
