// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	client "go.etcd.io/etcd/client/v3"
	"golang.org/x/time/rate"

	"github.com/cilium/vbridge/pkg/logging/logfields"
	"github.com/cilium/vbridge/pkg/time"
)

const (
	// EtcdAddrOption is the comma separated list of etcd endpoints
	EtcdAddrOption = "etcd.address"

	// EtcdRateLimitOption specifies maximum kv operations per second
	EtcdRateLimitOption = "etcd.qps"

	// EtcdUsernameOption and EtcdPasswordOption configure authentication
	EtcdUsernameOption = "etcd.username"
	EtcdPasswordOption = "etcd.password"

	defaultEtcdRateLimit = 20
)

var (
	// etcdOpts are the options accepted by the etcd backend
	etcdOpts = map[string]bool{
		EtcdAddrOption:      true,
		EtcdRateLimitOption: true,
		EtcdUsernameOption:  true,
		EtcdPasswordOption:  true,
	}

	// statusCheckTimeout is the timeout when performing status checks with
	// all etcd endpoints
	statusCheckTimeout = 5 * time.Second
)

// Hint tries to improve the error message displayed to the user.
func Hint(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("etcd client timeout exceeded: %w", err)
	}
	return err
}

type etcdClient struct {
	client  *client.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	endpoints []string
}

// newEtcdClient creates an etcd v3 client from the kvstore options. The
// client connects lazily: the first request blocks until an endpoint is
// reachable or the request context expires.
func newEtcdClient(logger *slog.Logger, opts map[string]string) (BackendOperations, error) {
	addr, ok := opts[EtcdAddrOption]
	if !ok || addr == "" {
		return nil, fmt.Errorf("invalid configuration for etcd provided; please specify an etcd address with --kvstore-opt %s=<address>", EtcdAddrOption)
	}

	rateLimit := defaultEtcdRateLimit
	if v, ok := opts[EtcdRateLimitOption]; ok {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EtcdRateLimitOption, err)
		}
		rateLimit = limit
	}

	endpoints := strings.Split(addr, ",")
	c, err := client.New(client.Config{
		Endpoints: endpoints,
		Username:  opts[EtcdUsernameOption],
		Password:  opts[EtcdPasswordOption],
		// A zero dial timeout makes client creation non blocking.
		DialTimeout: 0,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to etcd server...", logfields.Address, addr)

	return &etcdClient{
		client:    c,
		limiter:   rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		logger:    logger,
		endpoints: endpoints,
	}, nil
}

func (e *etcdClient) Get(ctx context.Context, key string) ([]byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	getR, err := e.client.Get(ctx, key)
	if err != nil {
		return nil, Hint(err)
	}
	if getR.Count == 0 {
		return nil, nil
	}
	return getR.Kvs[0].Value, nil
}

func (e *etcdClient) Update(ctx context.Context, key string, value []byte) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := e.client.Put(ctx, key, string(value))
	return Hint(err)
}

func (e *etcdClient) UpdateIfDifferent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return false, err
	}
	getR, err := e.client.Get(ctx, key)
	// On error, attempt update blindly
	if err != nil || getR.Count == 0 {
		return true, e.Update(ctx, key, value)
	}
	if !bytes.Equal(getR.Kvs[0].Value, value) {
		return true, e.Update(ctx, key, value)
	}
	return false, nil
}

func (e *etcdClient) CreateOnly(ctx context.Context, key string, value []byte) (bool, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return false, err
	}
	req := client.OpPut(key, string(value))
	cond := client.Compare(client.Version(key), "=", 0)
	txnReply, err := e.client.Txn(ctx).If(cond).Then(req).Commit()
	if err != nil {
		return false, Hint(err)
	}
	return txnReply.Succeeded, nil
}

func (e *etcdClient) Delete(ctx context.Context, key string) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := e.client.Delete(ctx, key)
	return Hint(err)
}

func (e *etcdClient) DeletePrefix(ctx context.Context, path string) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := e.client.Delete(ctx, path, client.WithPrefix())
	return Hint(err)
}

func (e *etcdClient) ListPrefix(ctx context.Context, prefix string) (KeyValuePairs, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	getR, err := e.client.Get(ctx, prefix, client.WithPrefix())
	if err != nil {
		return nil, Hint(err)
	}

	pairs := make(KeyValuePairs, getR.Count)
	for _, kv := range getR.Kvs {
		pairs[string(kv.Key)] = Value{
			Data:        kv.Value,
			ModRevision: uint64(kv.ModRevision),
		}
	}
	return pairs, nil
}

func (e *etcdClient) ListAndWatch(ctx context.Context, prefix string) EventChan {
	events := make(chan KeyValueEvent)
	go e.listAndWatch(ctx, prefix, events)
	return events
}

func (e *etcdClient) listAndWatch(ctx context.Context, prefix string, events chan<- KeyValueEvent) {
	defer close(events)

	scopedLog := e.logger.With(logfields.Prefix, prefix)
	known := map[string]struct{}{}
	listDone := false

	emit := func(ev KeyValueEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

reList:
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
		res, err := e.client.Get(ctx, prefix, client.WithPrefix(), client.WithSerializable())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			scopedLog.Warn("Unable to list keys before starting watcher", logfields.Error, Hint(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		listed := make(map[string]struct{}, len(res.Kvs))
		for _, kv := range res.Kvs {
			typ := EventTypeCreate
			if _, ok := known[string(kv.Key)]; ok {
				typ = EventTypeModify
			}
			listed[string(kv.Key)] = struct{}{}
			if !emit(KeyValueEvent{Typ: typ, Key: string(kv.Key), Value: kv.Value}) {
				return
			}
		}

		// Keys deleted while the watch was broken
		for k := range known {
			if _, ok := listed[k]; !ok {
				if !emit(KeyValueEvent{Typ: EventTypeDelete, Key: k}) {
					return
				}
			}
		}
		known = listed

		if !listDone {
			if !emit(KeyValueEvent{Typ: EventTypeListDone}) {
				return
			}
			listDone = true
		}

		nextRev := res.Header.Revision + 1
		watch := e.client.Watch(ctx, prefix, client.WithPrefix(), client.WithRev(nextRev))
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-watch:
				if !ok {
					continue reList
				}
				if err := r.Err(); err != nil {
					scopedLog.Debug("Watch failed, relisting", logfields.Error, Hint(err))
					continue reList
				}
				for _, ev := range r.Events {
					event := KeyValueEvent{
						Key:   string(ev.Kv.Key),
						Value: ev.Kv.Value,
					}
					switch {
					case ev.Type == client.EventTypeDelete:
						event.Typ = EventTypeDelete
						delete(known, event.Key)
					case ev.IsCreate():
						event.Typ = EventTypeCreate
						known[event.Key] = struct{}{}
					default:
						event.Typ = EventTypeModify
						known[event.Key] = struct{}{}
					}
					if !emit(event) {
						return
					}
				}
			}
		}
	}
}

func (e *etcdClient) Status() (string, error) {
	var (
		ok   int
		errs []error
	)
	for _, ep := range e.endpoints {
		ctx, cancel := context.WithTimeout(context.Background(), statusCheckTimeout)
		_, err := e.client.Status(ctx, ep)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep, Hint(err)))
			continue
		}
		ok++
	}
	status := fmt.Sprintf("etcd: %d/%d connected", ok, len(e.endpoints))
	if ok == 0 {
		return status, errors.Join(errs...)
	}
	return status, nil
}

func (e *etcdClient) Close() {
	if err := e.client.Close(); err != nil {
		e.logger.Warn("Failed to close etcd client", logfields.Error, err)
	}
}
